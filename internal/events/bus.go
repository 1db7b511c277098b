// Package events carries orchestrator lifecycle events to asynchronous
// subscribers and journals them as JSON lines.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/msageha/tcexec/internal/model"
)

// Type names an orchestrator lifecycle event.
type Type string

const (
	ExecutionStart              Type = "execution_start"
	ExecutionSuccess            Type = "execution_success"
	ExecutionFailed             Type = "execution_failed"
	TestCasesReset              Type = "test_cases_reset"
	TestCaseStart               Type = "test_case_start"
	TestCaseWithoutExecutor     Type = "test_case_without_executor"
	TestCaseReportResultsFailed Type = "test_case_report_results_failed"
	TestCaseBombed              Type = "test_case_bombed"
	TestCaseCompleted           Type = "test_case_completed"
)

// Event describes one step of a run. Case, Executor and Err are set only
// where they apply. Outcome is the executor's state when the event was
// emitted; subscribers read it instead of the live Executor.
type Event struct {
	Type      Type
	RunID     string
	Timestamp time.Time
	Project   string
	Plan      string
	Case      *model.TestCase
	Executor  model.Executor
	Outcome   model.Outcome
	Err       error
	Total     int
	Remaining int
}

// Subscriber receives events.
type Subscriber func(Event)

type subscription struct {
	ch    chan Event
	types map[Type]bool
}

// Bus fans events out to subscribers. Each subscriber gets its own buffered
// channel and goroutine, so it sees events in publish order. Publish never
// blocks: an event is dropped for a subscriber whose buffer is full.
type Bus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	wg         sync.WaitGroup
	dropped    atomic.Int64
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe registers fn for the given types, or for every type when none are
// given. It returns an unsubscribe function.
func (b *Bus) Subscribe(fn Subscriber, types ...Type) func() {
	sub := &subscription{ch: make(chan Event, b.bufferSize)}
	if len(types) > 0 {
		sub.types = make(map[Type]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range sub.ch {
			func() {
				// A panicking subscriber must not stop delivery to itself or others.
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}
}

func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts events lost to full subscriber buffers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Close ends every subscription and waits for queued events to be delivered.
func (b *Bus) Close() {
	b.mu.Lock()
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.subs = nil
	b.mu.Unlock()
	b.wg.Wait()
}
