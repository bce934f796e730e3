package transport

import (
	"sort"
	"sync"
)

type HubOptions struct {
	// FragmentSize splits every master frame into chunks of at most this
	// many bytes. Agent frames share the master inbox and stay whole. Zero
	// delivers everything whole.
	FragmentSize int
}

// Hub connects one master endpoint to any number of named agent endpoints in
// the same process.
type Hub struct {
	opts HubOptions

	mu     sync.RWMutex
	master *Inbox
	agents map[string]*Inbox
}

func NewHub(opts HubOptions) *Hub {
	return &Hub{
		opts:   opts,
		master: &Inbox{},
		agents: make(map[string]*Inbox),
	}
}

// Master returns the broadcast side of the hub.
func (h *Hub) Master() *MemoryEndpoint {
	return &MemoryEndpoint{hub: h, inbox: h.master}
}

// Agent registers an agent inbox. Frames the master sends before an agent
// registers are not replayed.
func (h *Hub) Agent(name string) *MemoryEndpoint {
	h.mu.Lock()
	defer h.mu.Unlock()
	inbox, ok := h.agents[name]
	if !ok {
		inbox = &Inbox{}
		h.agents[name] = inbox
	}
	return &MemoryEndpoint{hub: h, inbox: inbox, agent: name}
}

func (h *Hub) Agents() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.agents))
	for name := range h.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Hub) deliver(to *Inbox, payload []byte) {
	size := h.opts.FragmentSize
	if size <= 0 || len(payload) <= size {
		to.Push(payload)
		return
	}
	for start := 0; start < len(payload); start += size {
		end := start + size
		if end > len(payload) {
			end = len(payload)
		}
		to.Push(payload[start:end])
	}
}

func (h *Hub) remove(name string) {
	h.mu.Lock()
	delete(h.agents, name)
	h.mu.Unlock()
}

// MemoryEndpoint is one side of a Hub. Master sends reach every agent; agent
// sends reach the master.
type MemoryEndpoint struct {
	hub   *Hub
	inbox *Inbox
	agent string

	mu     sync.Mutex
	closed bool
}

func (e *MemoryEndpoint) Send(payload []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if e.agent != "" {
		e.hub.master.Push(payload)
		return nil
	}
	e.hub.mu.RLock()
	targets := make([]*Inbox, 0, len(e.hub.agents))
	for _, inbox := range e.hub.agents {
		targets = append(targets, inbox)
	}
	e.hub.mu.RUnlock()
	for _, inbox := range targets {
		e.hub.deliver(inbox, payload)
	}
	return nil
}

func (e *MemoryEndpoint) Poll() [][]byte {
	return e.inbox.Drain()
}

func (e *MemoryEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if e.agent != "" {
		e.hub.remove(e.agent)
	}
	return nil
}
