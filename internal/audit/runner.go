package audit

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSchedule runs the audit at the top of every hour.
const DefaultSchedule = "@hourly"

// Runner schedules Auditor.Check on a cron spec.
type Runner struct {
	cron    *cron.Cron
	auditor *Auditor
	log     zerolog.Logger
	timeout time.Duration
}

func NewRunner(auditor *Auditor, log zerolog.Logger) *Runner {
	return &Runner{
		cron:    cron.New(),
		auditor: auditor,
		log:     log,
		timeout: 5 * time.Minute,
	}
}

// Schedule registers the audit under expr (standard 5-field or descriptor).
func (r *Runner) Schedule(ctx context.Context, expr string) (cron.EntryID, error) {
	if expr == "" {
		expr = DefaultSchedule
	}
	return r.cron.AddFunc(expr, func() {
		runCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if _, err := r.auditor.Check(runCtx); err != nil {
			r.log.Error().Err(err).Msg("scheduled audit failed")
		}
	})
}

func (r *Runner) Start() {
	r.log.Info().Int("jobs", len(r.cron.Entries())).Msg("audit scheduler started")
	r.cron.Start()
}

// Stop waits for a running audit to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info().Msg("audit scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.Start()
	<-ctx.Done()
	r.Stop()
	return nil
}
