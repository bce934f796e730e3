// Package transport delivers coordinator frames between master and agents
// in-process, over TCP and over WebSocket.
package transport

import (
	"errors"
	"sync"
)

var (
	ErrClosed       = errors.New("transport closed")
	ErrNotConnected = errors.New("transport not connected")
)

// Inbox is the hand-off between delivery goroutines and the tick loop. Every
// pushed chunk is copied; Drain takes all of them at once.
type Inbox struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (in *Inbox) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := append([]byte(nil), chunk...)
	in.mu.Lock()
	in.chunks = append(in.chunks, c)
	in.mu.Unlock()
}

func (in *Inbox) Drain() [][]byte {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := in.chunks
	in.chunks = nil
	return out
}

func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.chunks)
}
