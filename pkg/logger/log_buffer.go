package logger

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry captures the interesting attributes of a logrus.Entry.
type Entry struct {
	ID      int          `json:"id"`
	Message string       `json:"message"`
	Time    time.Time    `json:"time"`
	Level   logrus.Level `json:"level"`
}

// LogBuffer is a bounded in-memory ring of log entries. Once the buffer is full, the oldest
// entries are evicted as new ones arrive.
type LogBuffer struct {
	lock         sync.RWMutex
	buffer       []*Entry
	totalEntries int
}

// NewLogBuffer creates a new LogBuffer with the provided capacity.
func NewLogBuffer(capacity int) *LogBuffer {
	return &LogBuffer{buffer: make([]*Entry, capacity)}
}

func (lb *LogBuffer) write(e *Entry) {
	lb.lock.Lock()
	defer lb.lock.Unlock()
	e.ID = lb.totalEntries
	lb.buffer[lb.totalEntries%len(lb.buffer)] = e
	lb.totalEntries++
}

// Len returns the number of entries currently held.
func (lb *LogBuffer) Len() int {
	lb.lock.RLock()
	defer lb.lock.RUnlock()
	if lb.totalEntries < len(lb.buffer) {
		return lb.totalEntries
	}
	return len(lb.buffer)
}

// Entries returns the retained entries in insertion order.
func (lb *LogBuffer) Entries() []*Entry {
	lb.lock.RLock()
	defer lb.lock.RUnlock()

	start := 0
	if lb.totalEntries > len(lb.buffer) {
		start = lb.totalEntries - len(lb.buffer)
	}
	entries := make([]*Entry, 0, lb.totalEntries-start)
	for id := start; id < lb.totalEntries; id++ {
		entries = append(entries, lb.buffer[id%len(lb.buffer)])
	}
	return entries
}

// Fire implements the logrus.Hook interface.
func (lb *LogBuffer) Fire(entry *logrus.Entry) error {
	message, err := entry.String()
	if err != nil {
		return err
	}
	lb.write(&Entry{
		Message: message,
		Time:    entry.Time,
		Level:   entry.Level,
	})
	return nil
}

// Levels implements the logrus.Hook interface.
func (lb *LogBuffer) Levels() []logrus.Level {
	return logrus.AllLevels
}
