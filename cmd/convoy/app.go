package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/convoy/internal/analysis"
	"github.com/zulandar/convoy/internal/cache"
	"github.com/zulandar/convoy/internal/config"
	"github.com/zulandar/convoy/internal/db"
	"github.com/zulandar/convoy/internal/logging"
	"github.com/zulandar/convoy/internal/metrics"
	"github.com/zulandar/convoy/internal/orchestrator"
	"github.com/zulandar/convoy/internal/persona"
	"github.com/zulandar/convoy/internal/platform"
	"github.com/zulandar/convoy/internal/store"
	"github.com/zulandar/convoy/internal/telegraph"
	"github.com/zulandar/convoy/internal/telegraph/discord"
	"github.com/zulandar/convoy/internal/telegraph/slack"
	"github.com/zulandar/convoy/internal/tracker"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app is the fully wired set of convoy components.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	db        *gorm.DB
	store     *store.Store
	cache     *cache.Cache
	orch      *orchestrator.Orchestrator
	tracker   *tracker.Tracker
	responder analysis.Responder
	notifier  *telegraph.Notifier // nil when no channel is configured
}

// loadConfig reads the config file and builds the logger it describes.
func loadConfig(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Log, map[string]string{"service": "convoy", "version": Version})
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// newApp connects the store and wires every component. The orchestrator and
// tracker are linked both ways: the tracker opens conversations through the
// orchestrator and listens for their conclusions.
func newApp(cfg *config.Config, log *zap.Logger) (*app, error) {
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	st, err := store.New(gormDB)
	if err != nil {
		return nil, err
	}
	c := cache.New(cache.Opts{
		Size: cfg.Cache.MaxEntries,
		TTL:  time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	})
	m := metrics.Default()

	gateway, err := platform.New(platform.Opts{
		Resolver:          cfg.Platform.DomainResolver,
		Scheme:            cfg.Platform.Scheme,
		ClientID:          cfg.Platform.ClientID,
		ClientSecret:      cfg.Platform.ClientSecret.Value(),
		RequestsPerSecond: cfg.Platform.RequestsPerSecond,
		Burst:             cfg.Platform.Burst,
		DomainTTL:         time.Duration(cfg.Platform.DomainTTLSeconds) * time.Second,
		Logger:            log.Named("platform"),
		Metrics:           m,
	})
	if err != nil {
		return nil, err
	}

	var (
		handoff   analysis.Handoff   = analysis.Nop{}
		responder analysis.Responder = analysis.Scripted{}
	)
	if cfg.Analysis.BaseURL != "" {
		client, err := analysis.New(analysis.Opts{
			BaseURL: cfg.Analysis.BaseURL,
			APIKey:  cfg.Analysis.APIKey.Value(),
			Logger:  log.Named("analysis"),
		})
		if err != nil {
			return nil, err
		}
		handoff, responder = client, client
	} else {
		log.Warn("no analysis service configured, using scripted consumer replies")
	}

	notifier, err := newNotifier(cfg.Notify, log.Named("telegraph"))
	if err != nil {
		return nil, err
	}

	orchOpts := orchestrator.Opts{
		Store:        st,
		Cache:        c,
		Gateway:      gateway,
		Handoff:      handoff,
		Personas:     persona.New(),
		Logger:       log.Named("orchestrator"),
		Metrics:      m,
		DefaultDelay: time.Duration(cfg.Defaults.ReplyDelaySeconds) * time.Second,
	}
	trOpts := tracker.Opts{
		Store:           st,
		Cache:           c,
		Handoff:         handoff,
		Logger:          log.Named("tracker"),
		Metrics:         m,
		DefaultMaxTurns: cfg.Defaults.MaxTurns,
	}
	if notifier != nil {
		orchOpts.Notifier = notifier
		trOpts.Notifier = notifier
	}

	orch, err := orchestrator.New(orchOpts)
	if err != nil {
		return nil, err
	}
	trOpts.Creator = orch
	tr, err := tracker.New(trOpts)
	if err != nil {
		return nil, err
	}
	orch.SetListener(tr)

	return &app{
		cfg:       cfg,
		log:       log,
		db:        gormDB,
		store:     st,
		cache:     c,
		orch:      orch,
		tracker:   tr,
		responder: responder,
		notifier:  notifier,
	}, nil
}

// newNotifier builds the operator notifier from the configured channels.
func newNotifier(cfg config.NotifyConfig, log *zap.Logger) (*telegraph.Notifier, error) {
	var adapters []telegraph.Adapter
	if cfg.Slack.Enabled() {
		a, err := slack.New(slack.AdapterOpts{
			BotToken:  cfg.Slack.BotToken.Value(),
			ChannelID: cfg.Slack.ChannelID,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Discord.Enabled() {
		a, err := discord.New(discord.AdapterOpts{
			BotToken:  cfg.Discord.BotToken.Value(),
			ChannelID: cfg.Discord.ChannelID,
			Logger:    log,
		})
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if len(adapters) == 0 {
		return nil, nil
	}
	return telegraph.NewNotifier(telegraph.NotifierOpts{Adapters: adapters, Logger: log})
}

// Close releases the notifier, cache and database.
func (a *app) Close() error {
	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	errs = append(errs, a.cache.Close())
	if sqlDB, err := a.db.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	a.log.Sync()
	return errors.Join(errs...)
}
