// Package engine runs suggestion generation: per-user batches on a schedule,
// fanned out over a bounded worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lazypower/rekindle/internal/availability"
	"github.com/lazypower/rekindle/internal/collab"
	"github.com/lazypower/rekindle/internal/matching"
	"github.com/lazypower/rekindle/internal/metrics"
	"github.com/lazypower/rekindle/internal/model"
	"github.com/lazypower/rekindle/internal/store"
)

var batchNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rekindle:batch"))

// BatchID is the id of the user's batch for the bucket starting at bucketStart.
// Two runs for the same user and bucket always agree on it.
func BatchID(userID string, bucketStart time.Time) string {
	key := userID + "|" + strconv.FormatInt(bucketStart.UTC().UnixMilli(), 10)
	return uuid.NewSHA1(batchNamespace, []byte(key)).String()
}

// Config holds orchestration settings.
type Config struct {
	Interval      time.Duration
	UserTimeout   time.Duration
	Bucket        time.Duration
	Workers       int
	LookaheadDays int
	Matching      matching.Config
}

func DefaultConfig() Config {
	return Config{
		Interval:      time.Hour,
		UserTimeout:   30 * time.Second,
		Bucket:        7 * 24 * time.Hour,
		Workers:       4,
		LookaheadDays: 7,
		Matching:      matching.DefaultConfig(),
	}
}

// Engine generates batches of suggestions.
type Engine struct {
	DB           *store.DB
	Availability availability.Source
	Anchors      collab.AnchorSource

	matcher  *matching.Matcher
	cfg      Config
	log      zerolog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New creates an Engine. A nil availability source means no calendar is
// connected, so runs make no time-bound suggestions; a nil anchor source
// means no events.
func New(db *store.DB, avail availability.Source, anchors collab.AnchorSource, cfg Config, log zerolog.Logger) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Bucket <= 0 {
		cfg.Bucket = 7 * 24 * time.Hour
	}
	if cfg.LookaheadDays <= 0 {
		cfg.LookaheadDays = 7
	}
	if anchors == nil {
		anchors = collab.NoAnchors{}
	}
	log = log.With().Str("component", "engine").Logger()
	return &Engine{
		DB:           db,
		Availability: avail,
		Anchors:      anchors,
		matcher:      matching.New(cfg.Matching, log),
		cfg:          cfg,
		log:          log,
		stopCh:       make(chan struct{}),
		now:          time.Now,
	}
}

// BucketStart returns the start of the bucket containing t.
func (e *Engine) BucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(e.cfg.Bucket)
}

// Result is the outcome of one GenerateForUser call.
type Result struct {
	BatchID     string
	Skipped     bool // a batch for this bucket already existed
	Unavailable bool // the calendar could not be read
	Suggestions []model.Suggestion
}

// GenerateForUser produces and stores the user's batch for the bucket
// containing now. A second call in the same bucket is a no-op.
func (e *Engine) GenerateForUser(ctx context.Context, userID string, now time.Time) (Result, error) {
	started := time.Now()
	defer func() { metrics.GenerationDuration.Observe(time.Since(started).Seconds()) }()

	bucketStart := e.BucketStart(now)
	res := Result{BatchID: BatchID(userID, bucketStart)}
	log := e.log.With().Str("user_id", userID).Str("batch_id", res.BatchID).Logger()

	existing, err := e.DB.GetBatch(ctx, res.BatchID)
	if err != nil {
		return res, err
	}
	if existing != nil {
		res.Skipped = true
		metrics.GenerationRuns.WithLabelValues("skipped").Inc()
		return res, nil
	}

	if e.cfg.UserTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.UserTimeout)
		defer cancel()
	}

	snap, err := e.Snapshot(ctx, userID, now)
	if err != nil {
		metrics.GenerationRuns.WithLabelValues(outcome(err)).Inc()
		return res, err
	}
	res.Unavailable = snap.Unavailable

	res.Suggestions = e.Plan(snap, res.BatchID, now)

	// An unreadable calendar with nothing to show is retried next cycle
	// rather than recorded as this bucket's batch.
	if snap.Unavailable && len(res.Suggestions) == 0 {
		log.Warn().Msg("calendar unavailable, batch deferred")
		metrics.GenerationRuns.WithLabelValues("unavailable").Inc()
		return res, nil
	}

	batch := model.Batch{
		ID:              res.BatchID,
		UserID:          userID,
		WindowStart:     bucketStart,
		WindowEnd:       bucketStart.Add(e.cfg.Bucket),
		SuggestionCount: len(res.Suggestions),
		CreatedAt:       now,
	}
	if err := e.DB.SaveBatch(ctx, batch, res.Suggestions); err != nil {
		if errors.Is(err, model.ErrBatchExists) {
			res.Skipped = true
			res.Suggestions = nil
			metrics.GenerationRuns.WithLabelValues("skipped").Inc()
			return res, nil
		}
		metrics.GenerationRuns.WithLabelValues(outcome(err)).Inc()
		return res, fmt.Errorf("save batch: %w", err)
	}

	for _, s := range res.Suggestions {
		metrics.SuggestionsCreated.WithLabelValues(string(s.Type), string(s.Trigger)).Inc()
	}
	metrics.GenerationRuns.WithLabelValues("created").Inc()
	log.Info().Int("suggestions", len(res.Suggestions)).Bool("unavailable", snap.Unavailable).Msg("batch created")
	return res, nil
}

func outcome(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "failed"
}

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	Users       int
	Created     int
	Skipped     int
	Deferred    int
	Failed      int
	Suggestions int
}

// RunCycle generates batches for every user that has none in the current
// bucket. Users are processed concurrently by cfg.Workers workers; a failed
// or timed-out user is logged and left for the next cycle.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) (CycleReport, error) {
	var report CycleReport
	users, err := e.DB.ListUsersWithoutBatch(ctx, e.BucketStart(now))
	if err != nil {
		return report, err
	}
	report.Users = len(users)
	if len(users) == 0 {
		return report, nil
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < min(e.cfg.Workers, len(users)); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for userID := range jobs {
				res, err := e.GenerateForUser(ctx, userID, now)

				mu.Lock()
				switch {
				case err != nil:
					report.Failed++
				case res.Skipped:
					report.Skipped++
				case res.Unavailable && len(res.Suggestions) == 0:
					report.Deferred++
				default:
					report.Created++
					report.Suggestions += len(res.Suggestions)
				}
				mu.Unlock()

				if err != nil {
					e.log.Error().Err(err).Str("user_id", userID).Msg("generation failed")
				}
			}
		}()
	}

feed:
	for _, id := range users {
		select {
		case jobs <- id:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	e.log.Info().
		Int("users", report.Users).
		Int("created", report.Created).
		Int("skipped", report.Skipped).
		Int("deferred", report.Deferred).
		Int("failed", report.Failed).
		Int("suggestions", report.Suggestions).
		Msg("generation cycle done")
	return report, ctx.Err()
}

// StartTimer runs a cycle on startup and then every cfg.Interval until Stop.
func (e *Engine) StartTimer() {
	interval := e.cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-e.stopCh
		cancel()
	}()

	go func() {
		e.cycle(ctx)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.cycle(ctx)
			case <-e.stopCh:
				return
			}
		}
	}()
}

func (e *Engine) cycle(ctx context.Context) {
	if _, err := e.RunCycle(ctx, e.now()); err != nil && ctx.Err() == nil {
		e.log.Error().Err(err).Msg("generation cycle")
	}
}

// Stop shuts down the engine's background goroutines.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}
