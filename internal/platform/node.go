package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Minimize-Surprise/Basic-Swarm-Behaviors-Thymio/internal/storage"
)

// SupportModule is a long-lived service hosted next to a coordinator: the
// metrics endpoint, a transport listener.
type SupportModule interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

type Config struct {
	Store          storage.Store
	SupportModules []SupportModule
	Supervisor     SupervisorPolicy
	Logger         *slog.Logger
}

// Node owns the process-level resources of a master or agent: the store,
// support modules started in order and stopped in reverse, and a supervisor
// for background tasks.
type Node struct {
	store      storage.Store
	log        *slog.Logger
	supervisor *Supervisor

	mu             sync.RWMutex
	modules        []SupportModule
	started        bool
	lastStopReason StopReason

	config Config
}

func NewNode(cfg Config) *Node {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Node{
		store:          cfg.Store,
		log:            logger,
		supervisor:     NewSupervisor(cfg.Supervisor, logger),
		config:         cfg,
		lastStopReason: StopReasonNormal,
	}
}

func (n *Node) Init(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return nil
	}
	if n.store != nil {
		if err := n.store.Init(ctx); err != nil {
			return fmt.Errorf("init store: %w", err)
		}
	}

	seen := make(map[string]struct{}, len(n.config.SupportModules))
	started := make([]SupportModule, 0, len(n.config.SupportModules))
	for i, module := range n.config.SupportModules {
		var err error
		switch {
		case module == nil:
			err = fmt.Errorf("support module is nil at index %d", i)
		case module.Name() == "":
			err = fmt.Errorf("support module name is required at index %d", i)
		default:
			if _, dup := seen[module.Name()]; dup {
				err = fmt.Errorf("duplicate support module: %s", module.Name())
			} else if startErr := module.Start(ctx); startErr != nil {
				err = fmt.Errorf("start support module %s: %w", module.Name(), startErr)
			}
		}
		if err != nil {
			stopSupportModules(ctx, started)
			return err
		}
		seen[module.Name()] = struct{}{}
		started = append(started, module)
		n.log.Info("support module started", "module", module.Name())
	}

	n.modules = started
	n.started = true
	return nil
}

// AddSupportModule queues a module for Init. Modules that need the node's
// supervisor are built after NewNode and added here.
func (n *Node) AddSupportModule(module SupportModule) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return errors.New("node already started")
	}
	n.config.SupportModules = append(n.config.SupportModules, module)
	return nil
}

func (n *Node) Store() storage.Store {
	return n.store
}

func (n *Node) Supervisor() *Supervisor {
	return n.supervisor
}

// Go runs a supervised background task for the lifetime of the node.
func (n *Node) Go(name string, run func(ctx context.Context) error) error {
	if !n.Started() {
		return errors.New("node is not started")
	}
	return n.supervisor.Start(name, run)
}

func (n *Node) Stop() {
	_ = n.StopWithReason(StopReasonNormal)
}

func (n *Node) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
	default:
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	n.supervisor.StopAll()

	n.mu.Lock()
	defer n.mu.Unlock()
	stopSupportModules(context.Background(), n.modules)
	n.modules = nil
	n.started = false
	n.lastStopReason = reason
	return nil
}

func (n *Node) ActiveSupportModules() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, 0, len(n.modules))
	for _, module := range n.modules {
		names = append(names, module.Name())
	}
	sort.Strings(names)
	return names
}

func (n *Node) Started() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.started
}

func (n *Node) LastStopReason() StopReason {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastStopReason
}

func stopSupportModules(ctx context.Context, modules []SupportModule) {
	for i := len(modules) - 1; i >= 0; i-- {
		_ = modules[i].Stop(ctx)
	}
}
