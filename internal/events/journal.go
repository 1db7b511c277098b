package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxJournalSize = 100 * 1024 * 1024
	JournalExtension      = ".jsonl"
	ArchiveDir            = "archive"
)

// JournalEntry is one line of the run journal.
type JournalEntry struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	RunID     string    `json:"run_id,omitempty"`
	Project   string    `json:"project,omitempty"`
	Plan      string    `json:"plan,omitempty"`
	CaseID    int       `json:"case_id,omitempty"`
	CaseName  string    `json:"case_name,omitempty"`
	State     string    `json:"state,omitempty"`
	Result    string    `json:"result,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Error     string    `json:"error,omitempty"`
	Total     int       `json:"total"`
	Remaining int       `json:"remaining"`
	Checksum  string    `json:"checksum,omitempty"`
}

// EntryFor flattens an event into a journal entry.
func EntryFor(e Event) JournalEntry {
	entry := JournalEntry{
		Timestamp: e.Timestamp,
		EventType: string(e.Type),
		RunID:     e.RunID,
		Project:   e.Project,
		Plan:      e.Plan,
		Total:     e.Total,
		Remaining: e.Remaining,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if e.Case != nil {
		entry.CaseID = e.Case.InternalID()
		entry.CaseName = e.Case.Name()
	}
	if e.Executor != nil {
		entry.State = string(e.Outcome.State)
		entry.Result = string(e.Outcome.Result)
		entry.Notes = e.Outcome.Notes
	}
	if e.Err != nil {
		entry.Error = e.Err.Error()
	}
	return entry
}

// Journal appends entries to a JSONL file, archiving it once it grows past
// maxSize.
type Journal struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	path            string
	enableChecksum  bool
	rotationCounter int
}

func NewJournal(path string, maxSize int64) (*Journal, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxJournalSize
	}
	j := &Journal{path: path, maxSize: maxSize}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := j.open(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) open() error {
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat journal: %w", err)
	}
	j.file = file
	j.currentSize = stat.Size()
	return nil
}

// Subscriber returns a bus subscriber that journals every event. Write
// failures are passed to onErr when it is non-nil.
func (j *Journal) Subscriber(onErr func(error)) Subscriber {
	return func(e Event) {
		entry := EntryFor(e)
		if err := j.Write(&entry); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

func (j *Journal) Write(entry *JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return fmt.Errorf("journal %s is closed", j.path)
	}
	if j.enableChecksum {
		entry.Checksum = checksum(entry)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	if j.currentSize+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}

	n, err := j.file.Write(data)
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	j.currentSize += int64(n)
	return nil
}

func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(j.path), ArchiveDir)
	if err := os.MkdirAll(archiveDir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	j.rotationCounter++
	base := strings.TrimSuffix(filepath.Base(j.path), JournalExtension)
	archiveName := fmt.Sprintf("%s.%s.%d%s", base, time.Now().Format("20060102_150405"), j.rotationCounter, JournalExtension)
	if err := os.Rename(j.path, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("archive journal: %w", err)
	}
	return j.open()
}

func (j *Journal) EnableChecksum(enable bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.enableChecksum = enable
}

func (j *Journal) Path() string { return j.path }

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Sync()
	if cerr := j.file.Close(); err == nil {
		err = cerr
	}
	j.file = nil
	return err
}

// ReadJournal decodes every well-formed entry of a journal file and counts
// the entries whose checksum (when present) verifies.
func ReadJournal(path string) (entries []JournalEntry, valid int, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	for decoder.More() {
		var entry JournalEntry
		if err := decoder.Decode(&entry); err != nil {
			break
		}
		entries = append(entries, entry)
		if entry.Checksum == "" || entry.Checksum == checksum(&entry) {
			valid++
		}
	}
	return entries, valid, nil
}

func checksum(entry *JournalEntry) string {
	c := *entry
	c.Checksum = ""
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", djb2(data))
}

func djb2(data []byte) uint64 {
	var hash uint64 = 5381
	for _, b := range data {
		hash = ((hash << 5) + hash) + uint64(b)
	}
	return hash
}
