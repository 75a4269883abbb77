package backup

import (
	"context"
	"log/slog"
	"time"

	"github.com/INLOpen/nexusvault/core"
	"github.com/INLOpen/nexusvault/meta"
	"github.com/INLOpen/nexusvault/objectstore"
)

// Pruner deletes remote objects older than the retention bound. The
// newest manifest and every key it references are always kept, so the
// latest restorable set survives regardless of age.
type Pruner struct {
	store         objectstore.Store
	loc           core.Location
	retentionDays int
	clock         core.Clock
	logger        *slog.Logger
}

func NewPruner(store objectstore.Store, loc core.Location, retentionDays int, clock core.Clock, logger *slog.Logger) *Pruner {
	if clock == nil {
		clock = core.SystemClock()
	}
	if logger == nil {
		logger = discardLogger()
	}
	return &Pruner{
		store:         store,
		loc:           loc,
		retentionDays: retentionDays,
		clock:         clock,
		logger:        logger.With("component", "Pruner"),
	}
}

// Prune removes expired objects under the token prefix and returns the
// deleted keys. A retention of zero disables pruning.
func (p *Pruner) Prune(ctx context.Context) ([]string, error) {
	if p.retentionDays <= 0 {
		return nil, nil
	}
	now := p.clock.Now().UTC()
	cutoff := now.AddDate(0, 0, -p.retentionDays)

	protected := make(map[string]struct{})
	newest, newestPath, err := meta.Find(ctx, p.store, p.loc, now)
	switch {
	case err == nil:
		protected[newestPath.RemoteKey()] = struct{}{}
		for _, e := range newest.Entries {
			protected[e.RemoteKey] = struct{}{}
		}
	case core.IsKind(err, core.KindManifestBroken):
		// Nothing restorable yet; everything expired is fair game.
	default:
		return nil, err
	}

	var candidates []string
	err = p.store.List(ctx, p.loc.TokenPrefix()+"/", func(info objectstore.ObjectInfo) error {
		bp, decodeErr := core.Decode(info.Key)
		if decodeErr != nil {
			return nil // leave foreign objects alone
		}
		if !bp.Time.Before(cutoff) {
			return nil
		}
		if _, ok := protected[info.Key]; ok {
			return nil
		}
		candidates = append(candidates, info.Key)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, key := range candidates {
		if err := p.store.Delete(ctx, key); err != nil {
			p.logger.Warn("Pruning object failed.", "key", key, "error", err)
			continue
		}
		deleted = append(deleted, key)
	}
	if len(deleted) > 0 {
		p.logger.Info("Pruned expired backup objects.", "count", len(deleted), "cutoff", cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
