package runner

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"mqttwrk/internal/mqtt"
	"mqttwrk/internal/stats"
)

// Runner runs one bench or simulator pass: it connects every session, holds
// them at the subscribe barrier, then lets publishers loose and aggregates
// the results.
type Runner struct {
	Cfg    Config
	Dialer mqtt.Dialer
	Log    *zap.Logger

	// Event Channel
	Updates  stats.UpdateChan
	Observer stats.Observer
}

func NewRunner(cfg Config, dialer mqtt.Dialer, log *zap.Logger, updates stats.UpdateChan) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{Cfg: cfg, Dialer: dialer, Log: log, Updates: updates}
}

// Run blocks until every session has finished or ctx is done. Setup errors
// abort the run unless AllowPartial is set, in which case the failed session
// is dropped from the cohort and the run continues with what is left.
func (r *Runner) Run(ctx context.Context) (*stats.Report, error) {
	cfg := r.Cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	total := cfg.Publishers + cfg.Subscribers
	agg := stats.NewAggregator(stats.AggregatorConfig{
		Sessions:     total,
		Messages:     cfg.ExpectedAcks(),
		Until:        stats.UntilSessions,
		KeepSessions: cfg.KeepSessions,
		Updates:      r.Updates,
		Observer:     r.Observer,
	})
	cohort := NewCohort(cfg.Publishers, cfg.Subscribers, agg)

	limit := rate.Inf
	if cfg.ConnRate > 0 {
		limit = rate.Limit(cfg.ConnRate)
	}
	limiter := rate.NewLimiter(limit, 1)

	var (
		g    *errgroup.Group
		gctx = ctx
	)
	if cfg.AllowPartial {
		g = &errgroup.Group{}
	} else {
		g, gctx = errgroup.WithContext(ctx)
	}

	reports := make(chan *stats.Report, 1)
	go func() { reports <- agg.Run(ctx) }()

	start := time.Now()
	spawn := func(id string, role stats.Role) {
		g.Go(func() error {
			sess, err := r.connect(gctx, limiter, id, role, &cfg)
			if err != nil {
				if role == stats.Publisher {
					cohort.LosePublisher()
				}
				// leave the cohort so nobody waits for this session
				cohort.Barrier.Arrive()
				agg.Withdraw()
				if cfg.AllowPartial {
					r.Log.Error("session dropped", zap.String("id", id), zap.Error(err))
					return nil
				}
				return err
			}
			defer sess.Close()

			agg.Report(sess.Start(gctx, cohort))
			return nil
		})
	}

	for i := 0; i < cfg.Subscribers; i++ {
		spawn(cfg.ClientID("sub", i), stats.Subscriber)
	}
	for i := 0; i < cfg.Publishers; i++ {
		spawn(cfg.ClientID("pub", i), stats.Publisher)
	}

	go func() {
		if err := cohort.Barrier.Wait(gctx); err == nil {
			r.Log.Info("all connections and subscriptions ok",
				zap.Int("sessions", total),
				zap.Duration("elapsed", time.Since(start)))
		}
	}()

	err := g.Wait()
	report := <-reports
	return report, err
}

func (r *Runner) connect(ctx context.Context, limiter *rate.Limiter, id string, role stats.Role, cfg *Config) (*Session, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return Connect(ctx, r.Dialer, id, role, cfg, r.Log)
}
