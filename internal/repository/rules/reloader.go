package rules

import (
	"context"
	"fmt"
	"sync"

	"github.com/oshokin/alarm-pipeline/internal/domain/rule"
	"github.com/oshokin/alarm-pipeline/internal/engine"
	"github.com/oshokin/alarm-pipeline/internal/logger"
)

// Loader installs a rule set as the active snapshot, leaving out rules that
// do not validate.
type Loader interface {
	Load(ctx context.Context, rules []rule.Rule) *engine.Snapshot
}

// Reloader moves rules from a Source into a Loader.
type Reloader struct {
	source Source
	loader Loader
	// mu serializes reloads so snapshots are installed in request order.
	mu sync.Mutex
}

// NewReloader creates a Reloader.
func NewReloader(source Source, loader Loader) *Reloader {
	return &Reloader{
		source: source,
		loader: loader,
	}
}

// Reload reads the source and installs the result. When the source fails the
// active snapshot is left untouched.
func (r *Reloader) Reload(ctx context.Context) (*engine.Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rules, err := r.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	return r.loader.Load(ctx, rules), nil
}

// Watch reloads once per signal on changes until ctx is done or changes is closed.
func (r *Reloader) Watch(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}

			snapshot, err := r.Reload(ctx)
			if err != nil {
				logger.ErrorKV(ctx, "Rule reload failed, keeping active rules", "error", err)

				continue
			}

			logger.InfoKV(ctx, "Rules reloaded", "snapshot", snapshot.String())
		}
	}
}
