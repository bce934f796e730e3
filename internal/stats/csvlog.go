package stats

import (
	"fmt"
	"os"
	"sync"

	"github.com/gocarina/gocsv"
)

// csvLog appends gocsv rows to a file, writing the header only when the file
// starts empty.
type csvLog[T any] struct {
	name string

	mu     sync.Mutex
	f      *os.File
	header bool
	closed bool
}

func openCSVLog[T any](path, name string) (*csvLog[T], error) {
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &csvLog[T]{name: name, f: f, header: info.Size() > 0}, nil
}

func (l *csvLog[T]) append(rows ...T) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if !l.header {
		if err := gocsv.Marshal(rows, l.f); err != nil {
			return fmt.Errorf("writing %s: %w", l.name, err)
		}
		l.header = true
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(rows, l.f); err != nil {
		return fmt.Errorf("writing %s: %w", l.name, err)
	}
	return nil
}

func (l *csvLog[T]) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

func readCSV[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var rows []T
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
