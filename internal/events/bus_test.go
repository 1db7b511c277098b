package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(b *Bus, types ...Type) (*[]Event, *sync.Mutex, func()) {
	var mu sync.Mutex
	var got []Event
	unsub := b.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	}, types...)
	return &got, &mu, unsub
}

func TestBus_DeliversInOrder(t *testing.T) {
	bus := NewBus(100)
	got, mu, _ := collect(bus)

	for i := 0; i < 50; i++ {
		bus.Publish(Event{Type: TestCaseCompleted, Remaining: 50 - i})
	}
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *got, 50)
	for i, e := range *got {
		assert.Equal(t, 50-i, e.Remaining)
		assert.False(t, e.Timestamp.IsZero())
	}
}

func TestBus_TypeFilter(t *testing.T) {
	bus := NewBus(10)
	all, muAll, _ := collect(bus)
	bombed, muBombed, _ := collect(bus, TestCaseBombed)

	bus.Publish(Event{Type: TestCaseStart})
	bus.Publish(Event{Type: TestCaseBombed})
	bus.Publish(Event{Type: TestCaseCompleted})
	bus.Close()

	muAll.Lock()
	assert.Len(t, *all, 3)
	muAll.Unlock()
	muBombed.Lock()
	require.Len(t, *bombed, 1)
	assert.Equal(t, TestCaseBombed, (*bombed)[0].Type)
	muBombed.Unlock()
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(10)
	defer bus.Close()
	got, mu, unsub := collect(bus)

	bus.Publish(Event{Type: ExecutionStart})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*got) == 1
	}, time.Second, 5*time.Millisecond)

	unsub()
	unsub()
	bus.Publish(Event{Type: ExecutionSuccess})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, *got, 1)
}

func TestBus_DropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	release := make(chan struct{})
	bus.Subscribe(func(Event) { <-release })

	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: TestCaseStart})
	}
	assert.Greater(t, bus.Dropped(), int64(0))
	close(release)
	bus.Close()
}

func TestBus_SubscriberPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(10)
	var mu sync.Mutex
	count := 0
	bus.Subscribe(func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
		if e.Type == TestCaseBombed {
			panic("subscriber bug")
		}
	})

	bus.Publish(Event{Type: TestCaseBombed})
	bus.Publish(Event{Type: TestCaseCompleted})
	bus.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}
