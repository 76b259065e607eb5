package cli

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lazypower/rekindle/internal/availability"
	"github.com/lazypower/rekindle/internal/collab"
	"github.com/lazypower/rekindle/internal/config"
	"github.com/lazypower/rekindle/internal/engine"
	"github.com/lazypower/rekindle/internal/logger"
	"github.com/lazypower/rekindle/internal/matching"
	"github.com/lazypower/rekindle/internal/outbox"
	"github.com/lazypower/rekindle/internal/scoring"
	"github.com/lazypower/rekindle/internal/store"
)

const kafkaWriteTimeout = 10 * time.Second

// app holds the components shared by serve and generate.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	db     *store.DB
	engine *engine.Engine
}

func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := logger.New("rekindle", cfg.Log.Level)

	db, err := openDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	avail, anchors := collaborators(cfg.Collaborators)
	eng := engine.New(db, avail, anchors, engineConfig(cfg), log)

	return &app{cfg: cfg, log: log, db: db, engine: eng}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func openDB(cfg config.DatabaseConfig) (*store.DB, error) {
	if cfg.Driver == store.DriverPostgres {
		return store.OpenPostgres(cfg.DSN)
	}
	path := cfg.Path
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	return store.Open(path)
}

// collaborators returns nil availability when no calendar service is
// configured. Generation then has no free time to offer and only
// shared-activity suggestions can be made.
func collaborators(cfg config.CollaboratorsConfig) (availability.Source, collab.AnchorSource) {
	var avail availability.Source
	if cfg.AvailabilityURL != "" {
		avail = collab.NewHTTPAvailability(collab.NewClient(cfg.AvailabilityURL, cfg.Timeout))
	}
	var anchors collab.AnchorSource = collab.NoAnchors{}
	if cfg.AnchorsURL != "" {
		anchors = collab.NewHTTPAnchors(collab.NewClient(cfg.AnchorsURL, cfg.Timeout))
	}
	return avail, anchors
}

func engineConfig(cfg config.Config) engine.Config {
	g, sc := cfg.Generation, cfg.Scoring
	return engine.Config{
		Interval:      g.Interval,
		UserTimeout:   g.UserTimeout,
		Bucket:        g.Bucket,
		Workers:       g.Workers,
		LookaheadDays: g.LookaheadDays,
		Matching: matching.Config{
			MaxPending:        g.MaxPending,
			IndividualMinutes: g.IndividualMinutes,
			GroupExtraMinutes: g.GroupExtraMinutes,
			GroupThreshold:    g.GroupThreshold,
			GroupBonus:        g.GroupBonus,
			PriorityGroups:    g.PriorityGroups,
			RecentlyMetWindow: cfg.RecentlyMetWindow(),
			Weights: scoring.Weights{
				GroupPer: sc.GroupPer, GroupCap: sc.GroupCap,
				TagPer: sc.TagPer, TagCap: sc.TagCap,
				CoMentionPer: sc.CoMentionPer, CoMentionCap: sc.CoMentionCap,
				InterestPer: sc.InterestPer, InterestCap: sc.InterestCap,
				Total: sc.Total,
			},
		},
	}
}

// publisher picks the outbox sink. The returned close func is never nil.
func publisher(cfg config.OutboxConfig, log zerolog.Logger) (outbox.Publisher, func() error, error) {
	if cfg.Publisher == "kafka" {
		kp, err := outbox.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, kafkaWriteTimeout)
		if err != nil {
			return nil, nil, err
		}
		return kp, kp.Close, nil
	}
	return outbox.NewLogPublisher(log), func() error { return nil }, nil
}

func outboxConfig(cfg config.OutboxConfig) outbox.Config {
	// Zero fields take the worker's defaults.
	return outbox.Config{
		BatchSize:   cfg.BatchSize,
		Interval:    cfg.Interval,
		MaxAttempts: cfg.MaxAttempts,
	}
}
