// Package tasks schedules the scan and maintenance jobs: the frequent
// new-listing scan, the slower hot-listing rescan, and hourly pruning of aged
// adverts.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/discordservers/advert-sentry/app/cfg"
	"github.com/discordservers/advert-sentry/app/database"
	"github.com/discordservers/advert-sentry/app/moderation"
)

var _ RunnerInterface = (*Runner)(nil)

// SubmissionSource yields submissions to inspect. The forum client
// implements it.
type SubmissionSource interface {
	NewListing(ctx context.Context, limit int) ([]moderation.Submission, error)
	HotListing(ctx context.Context, limit int) ([]moderation.Submission, error)
}

// Verdicter evaluates one submission.
type Verdicter interface {
	Process(ctx context.Context, subm moderation.Submission) (moderation.Verdict, error)
}

// seenCap bounds the processed-id set; when exceeded the set resets and the
// engine's recheck window absorbs the duplicate work.
const seenCap = 10000

type Runner struct {
	source  SubmissionSource
	engine  Verdicter
	adverts database.AdvertRepository

	newInterval time.Duration
	hotInterval time.Duration
	newLimit    int
	hotLimit    int
	checkDelay  time.Duration
	retention   time.Duration

	cron *cron.Cron

	// mu keeps the scans strictly sequential with each other: submissions
	// are processed one at a time, oldest scan first.
	mu   sync.Mutex
	seen map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRunner(source SubmissionSource, engine Verdicter, adverts database.AdvertRepository) RunnerInterface {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Runner{
		source:      source,
		engine:      engine,
		adverts:     adverts,
		newInterval: time.Duration(cfg.NewScanInterval) * time.Second,
		hotInterval: time.Duration(cfg.HotScanInterval) * time.Second,
		newLimit:    cfg.NewListingLimit,
		hotLimit:    cfg.HotListingLimit,
		checkDelay:  time.Duration(cfg.CheckDelay) * time.Second,
		retention:   time.Duration(cfg.AdvertRetention) * time.Second,
		seen:        make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (r *Runner) Start() {
	logger := &cronLogger{}
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	r.cron.AddFunc(fmt.Sprintf("@every %s", r.newInterval), r.scanNew)
	r.cron.AddFunc(fmt.Sprintf("@every %s", r.hotInterval), r.scanHot)
	r.cron.AddFunc("@hourly", r.prune)

	r.cron.Start()

	// Catch up immediately instead of waiting out the first intervals.
	go func() {
		r.prune()
		r.scanHot()
	}()

	slog.Info("Runner started",
		"new_interval", r.newInterval, "hot_interval", r.hotInterval,
		"new_limit", r.newLimit, "hot_limit", r.hotLimit)
}

func (r *Runner) Stop() {
	r.cancel()
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
	slog.Info("Runner stopped")
}

// scanNew inspects the newest submissions, skipping ids already handled in a
// previous pass. The hot rescan picks them up again later.
func (r *Runner) scanNew() {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, err := r.source.NewListing(r.ctx, r.newLimit)
	if err != nil {
		slog.Error("Failed to fetch new listing", "error", err)
		return
	}

	if len(r.seen) > seenCap {
		slog.Debug("Resetting processed-id set", "size", len(r.seen))
		r.seen = make(map[string]struct{})
	}

	fresh := 0
	for _, subm := range subs {
		if _, ok := r.seen[subm.Fullname]; ok {
			continue
		}
		if !r.process(subm) {
			return
		}
		r.seen[subm.Fullname] = struct{}{}
		fresh++
	}

	if fresh > 0 {
		slog.Debug("New scan complete", "fetched", len(subs), "processed", fresh)
	}
}

// scanHot re-inspects everything still visible in the hot listing. The
// engine's recheck window keeps this cheap for recently verified adverts.
func (r *Runner) scanHot() {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, err := r.source.HotListing(r.ctx, r.hotLimit)
	if err != nil {
		slog.Error("Failed to fetch hot listing", "error", err)
		return
	}

	for _, subm := range subs {
		if !r.process(subm) {
			return
		}
	}

	slog.Debug("Hot rescan complete", "fetched", len(subs))
}

// process runs one submission through the engine and pauses before the next.
// Returns false when the runner is shutting down.
func (r *Runner) process(subm moderation.Submission) bool {
	verdict, err := r.engine.Process(r.ctx, subm)
	if err != nil {
		if r.ctx.Err() != nil {
			return false
		}
		// One bad submission never stops the scan.
		slog.Error("Failed to process submission", "submission", subm.Fullname, "error", err)
	} else if verdict.Kind != moderation.Ignore {
		slog.Info("Verdict", "submission", subm.Fullname, "kind", verdict.Kind.String(),
			"target", verdict.TargetFullname, "reason", verdict.Reason)
	}

	select {
	case <-r.ctx.Done():
		return false
	case <-time.After(r.checkDelay):
		return true
	}
}

func (r *Runner) prune() {
	adverts, groups, err := r.adverts.Prune(r.retention)
	if err != nil {
		slog.Error("Failed to prune adverts", "error", err)
		return
	}
	if adverts > 0 || groups > 0 {
		slog.Info("Pruned aged records", "adverts", adverts, "groups", groups)
	}
}

// cronLogger routes the cron library's messages into slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error(msg, append(keysAndValues, "error", err)...)
}
