// Package refresh drives rebuilds of the Directory tree from the IdP,
// either synchronously before a lookup (on-demand mode) or on a
// background timer.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sapcc/go-bits/jobloop"
	"github.com/sapcc/go-bits/logg"

	"github.com/apricot-ldap/apricot/internal/core"
	"github.com/apricot-ldap/apricot/internal/idp"
)

// DefaultInterval is the on-demand staleness threshold and the background
// rebuild period when none is configured.
const DefaultInterval = 60 * time.Second

// Mode selects between the two refresh strategies.
type Mode int

const (
	// OnDemand checks staleness on every lookup and rebuilds synchronously
	// on the calling path when needed. This is the default.
	OnDemand Mode = iota
	// Background runs a recurring rebuild on a timer; lookups never
	// trigger a rebuild themselves.
	Background
)

// Engine owns the rebuild schedule for a Tree.
type Engine struct {
	tree      *core.Tree
	client    idp.Client
	allocator core.Allocator
	cfg       core.AdaptorConfig
	mode      Mode
	interval  time.Duration

	mu         sync.Mutex
	lastUpdate time.Time
}

// NewEngine builds an Engine. interval <= 0 is replaced by DefaultInterval.
func NewEngine(tree *core.Tree, client idp.Client, allocator core.Allocator, cfg core.AdaptorConfig, mode Mode, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		tree:      tree,
		client:    client,
		allocator: allocator,
		cfg:       cfg,
		mode:      mode,
		interval:  interval,
	}
}

// EnsureFresh is called before every lookup in OnDemand mode. If the tree
// is stale, it rebuilds synchronously on the calling goroutine; if the
// rebuild fails and no tree has ever been published, it returns a
// "directory unavailable" error; if a previous tree exists, the stale
// tree is served and the error is only logged. In Background mode
// this is a no-op: lookups never trigger a rebuild.
func (e *Engine) EnsureFresh(ctx context.Context) error {
	if e.mode != OnDemand {
		return nil
	}
	if !e.isStale() {
		return nil
	}
	if err := e.Rebuild(ctx); err != nil {
		if e.tree.Root() == nil {
			return fmt.Errorf("directory unavailable: %w", err)
		}
		logg.Error("refresh: rebuild failed, serving previous tree: %s", err)
	}
	return nil
}

func (e *Engine) isStale() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.lastUpdate) > e.interval
}

// Rebuild runs one full adapt-and-swap cycle: it calls the data adaptor,
// constructs a fresh root, and atomically replaces the tree's root. On
// success, last_update is advanced. Rebuilds are serialised: a second
// caller waits for the running rebuild to finish.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	groups, users, err := core.Adapt(ctx, e.client, e.allocator, e.cfg)
	if err != nil {
		return fmt.Errorf("adapting idp records: %w", err)
	}
	root := core.BuildRoot(e.cfg.RootDN, groups, users)
	e.tree.Replace(root)
	e.lastUpdate = time.Now()

	logg.Info("refresh: rebuilt directory tree (%d groups, %d users)", len(groups), len(users))
	return nil
}

// RunBackground starts the recurring background rebuild loop and blocks
// until ctx is cancelled. It is a no-op in OnDemand mode. A failed
// rebuild is logged; the tree remains at its previous generation.
func (e *Engine) RunBackground(ctx context.Context) {
	if e.mode != Background {
		return
	}
	loop := jobloop.Interval{Interval: e.interval}
	loop.Run(ctx, func(ctx context.Context) error {
		if err := e.Rebuild(ctx); err != nil {
			logg.Error("refresh: background rebuild failed: %s", err)
		}
		return nil
	})
}
