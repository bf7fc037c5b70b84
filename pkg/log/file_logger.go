package log

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// FileExt is the conventional extension of capture files.
const FileExt = ".clog"

// FileLogger appends CBOR-encoded events to a capture file.
// It is safe for concurrent use from multiple goroutines.
type FileLogger struct {
	path    string
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
	dropped atomic.Uint64
}

// NewFileLogger opens path for appending, creating it and its parent
// directories if needed. A path without an extension gets FileExt.
func NewFileLogger(path string) (*FileLogger, error) {
	if filepath.Ext(path) == "" {
		path += FileExt
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		path:    path,
		file:    f,
		encoder: newEncoder(f),
	}, nil
}

// Path returns the file being written.
func (l *FileLogger) Path() string {
	return l.path
}

// Log writes an event. Encoding failures are counted, not returned.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	if err := l.encoder.Encode(event); err != nil {
		l.dropped.Add(1)
	}
}

// Dropped returns the number of events that failed to encode.
func (l *FileLogger) Dropped() uint64 {
	return l.dropped.Load()
}

// Close closes the file. Later Log calls are ignored.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
