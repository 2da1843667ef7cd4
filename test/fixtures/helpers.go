package fixtures

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// TestLogger returns a quiet logger for tests. Raise the level locally
// when debugging a failing test.
func TestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// SequentialAllocator hands out consecutive host ports starting at Base.
// Safe for concurrent use, so tests get deterministic, distinct ports
// without touching real sockets.
type SequentialAllocator struct {
	Base int

	mu   sync.Mutex
	next int
}

// Allocate returns the next port in the sequence.
func (a *SequentialAllocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	port := a.Base + a.next
	a.next++
	return port, nil
}
