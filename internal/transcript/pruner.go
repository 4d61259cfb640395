package transcript

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/HyphaGroup/agentrelay/internal/logger"
)

var ErrInvalidSchedule = errors.New("invalid cron expression")

// cronParser is configured for standard 5-field cron (minute hour day month weekday)
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule validates and parses a cron expression
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSchedule, err)
	}
	return sched, nil
}

// Pruner deletes expired transcripts on a cron schedule
type Pruner struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	now       func() time.Time
}

// NewPruner creates a pruner that keeps transcripts for retention and runs
// on the given cron expression
func NewPruner(store *Store, expr string, retention time.Duration) (*Pruner, error) {
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	sched, err := ParseSchedule(expr)
	if err != nil {
		return nil, err
	}

	p := &Pruner{
		store:     store,
		retention: retention,
		cron:      cron.New(cron.WithParser(cronParser)),
		now:       time.Now,
	}
	p.cron.Schedule(sched, cron.FuncJob(func() {
		_, _ = p.PruneNow()
	}))
	return p, nil
}

// Start begins running the schedule in the background
func (p *Pruner) Start() {
	p.cron.Start()
	logger.Slog().Info("transcript pruner started", "retention", p.retention.String())
}

// Stop halts the schedule and waits for a running prune to finish
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
	logger.Slog().Info("transcript pruner stopped")
}

// PruneNow deletes transcripts older than the retention immediately
func (p *Pruner) PruneNow() (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := p.store.Prune(cutoff)
	if err != nil {
		logger.Slog().Error("failed to prune transcripts", "error", err)
		return 0, err
	}
	if n > 0 {
		logger.Slog().Info("pruned transcripts", "count", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}
