package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MJE43/plinko-engine/internal/metrics"
)

// ScanPruner deletes stored scans older than a cutoff.
type ScanPruner interface {
	PruneScanRuns(ctx context.Context, before time.Time) (int64, error)
}

// Retention removes stored scan runs older than MaxAge.
type Retention struct {
	pruner ScanPruner
	maxAge time.Duration
	now    func() time.Time
	log    *logrus.Entry
}

// NewRetention creates a retention job. maxAge must be positive.
func NewRetention(pruner ScanPruner, maxAge time.Duration, log *logrus.Entry) (*Retention, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention max age must be > 0, got %s", maxAge)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Retention{
		pruner: pruner,
		maxAge: maxAge,
		now:    time.Now,
		log:    log.WithField("job", "retention"),
	}, nil
}

// Run prunes once and returns the number of runs removed.
func (r *Retention) Run(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.maxAge)
	n, err := r.pruner.PruneScanRuns(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune scan runs: %w", err)
	}
	metrics.ScanRunsPruned.Add(float64(n))

	entry := r.log.WithFields(logrus.Fields{"cutoff": cutoff.UTC(), "pruned": n})
	if n > 0 {
		entry.Info("scan runs pruned")
	} else {
		entry.Debug("nothing to prune")
	}
	return n, nil
}
