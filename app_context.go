package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"inventariagent/internal/clock"
	"inventariagent/internal/cmdexec"
	"inventariagent/internal/collector"
	"inventariagent/internal/enforce"
	"inventariagent/internal/incident"
	"inventariagent/internal/model"
	"inventariagent/internal/notify"
	"inventariagent/internal/policy"
	"inventariagent/internal/procwatch"
	"inventariagent/internal/store"
	"inventariagent/internal/telemetry"
)

// agentStore is the remote document store: incidents plus the device document.
type agentStore interface {
	incident.Gateway
	store.HeartbeatStore
	store.DeviceRegistry
}

type snapshotter interface {
	Snapshot(ctx context.Context) model.MetricsSnapshot
}

type inventory interface {
	Specs(ctx context.Context) model.DeviceSpecs
}

// AppContext holds the application dependencies and state.
type AppContext struct {
	Config    *Config
	Clock     clock.Clock
	Store     agentStore
	Sensors   snapshotter
	Inventory inventory
	Incidents *incident.Engine
	Policy    *policy.Holder
	Enforcer  *enforce.Engine
	Watcher   *procwatch.Watcher
	Telemetry *telemetry.Metrics
	State     *RuntimeState

	closers []func() error
}

// RuntimeState holds runtime volatile state
type RuntimeState struct {
	mu           sync.RWMutex
	StartTime    time.Time
	LastCycle    time.Time
	LastCycleErr string
	Cycles       int
	LastPrune    time.Time
}

// appParts overrides collaborators; nil fields get the real implementation.
type appParts struct {
	Store     agentStore
	Sink      notify.Sink
	Clock     clock.Clock
	Sensors   snapshotter
	Inventory inventory
	Killer    enforce.Killer
	Watcher   *procwatch.Watcher
}

// InitApp initializes the application context
func InitApp(ctx context.Context, cfg *Config) (*AppContext, error) {
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        5,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	var closers []func() error
	st, closer, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	app := assembleApp(cfg, appParts{Store: st, Sink: buildSink(cfg, httpClient)})
	app.closers = closers
	return app, nil
}

func assembleApp(cfg *Config, p appParts) *AppContext {
	clk := clock.OrReal(p.Clock)
	logger := slog.Default()

	if p.Store == nil {
		p.Store = store.NewMemory()
	}
	if p.Sink == nil {
		p.Sink = notify.LogSink{Logger: logger}
	}
	if p.Sensors == nil || p.Inventory == nil {
		c := collector.New(cfg.DiskPath, clk, logger)
		if p.Sensors == nil {
			p.Sensors = c
		}
		if p.Inventory == nil {
			p.Inventory = c
		}
	}
	if p.Killer == nil {
		p.Killer = enforce.NewTerminator(enforce.NewOSControl(cmdexec.Host{}), enforce.TerminatorConfig{
			Grace:          time.Duration(cfg.Enforcement.GraceMillis) * time.Millisecond,
			KillWait:       time.Duration(cfg.Enforcement.KillWaitMillis) * time.Millisecond,
			CommandTimeout: time.Duration(cfg.Enforcement.CommandTimeoutMillis) * time.Millisecond,
		}, logger)
	}
	if p.Watcher == nil {
		p.Watcher = procwatch.New(cfg.processScanInterval(), logger)
	}

	metrics := telemetry.New()
	app := &AppContext{
		Config:    cfg,
		Clock:     clk,
		Store:     p.Store,
		Sensors:   p.Sensors,
		Inventory: p.Inventory,
		Policy:    policy.NewHolder(logger),
		Watcher:   p.Watcher,
		Telemetry: metrics,
		State:     &RuntimeState{StartTime: clk.Now()},
	}

	app.Incidents = incident.NewEngine(p.Store, incident.Config{
		DeviceID: cfg.DeviceID,
		Cooldown: incident.CooldownPolicy{
			NewIncidentCooldown:  time.Duration(cfg.Cooldowns.NewIncidentMins) * time.Minute,
			RepeatUpdateCooldown: time.Duration(cfg.Cooldowns.RepeatUpdateMins) * time.Minute,
		},
		Clock:  clk,
		Logger: logger,
		OnOutcome: func(tag string, o incident.Outcome) {
			metrics.IncidentOutcome(tag, string(o))
		},
	})

	gate := notify.NewDebouncer(time.Duration(cfg.Cooldowns.NotifyMins)*time.Minute, clk)
	app.Enforcer = enforce.NewEngine(app.Policy, p.Killer, app.Incidents, gate, p.Sink, enforce.EngineConfig{
		DeviceID:   cfg.DeviceID,
		ConsoleURL: cfg.ConsoleURL,
		Clock:      clk,
		Logger:     logger,
		OnResult: func(r enforce.Result) {
			metrics.Enforcement(string(r.Decision.Verdict), r.Termination.Terminated, r.Notified)
		},
	})
	return app
}

// openStore selects the incident store backend. An unreachable Redis is
// only logged: the client reconnects by itself and every store call already
// treats failures as non-fatal.
func openStore(ctx context.Context, cfg *Config) (agentStore, func() error, error) {
	switch cfg.Store.Backend {
	case "redis":
		r, err := store.OpenRedis(store.RedisOptions{
			URL:      cfg.Store.RedisURL,
			Prefix:   cfg.Store.Prefix,
			PageSize: cfg.Store.PageSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, cfg.storeTimeout())
		defer cancel()
		if err := r.Ping(pingCtx); err != nil {
			slog.Warn("Incident store unreachable at startup, continuing", "backend", "redis", "err", err)
		} else {
			slog.Info("Incident store ready", "backend", "redis", "prefix", cfg.Store.Prefix)
		}
		return r, r.Close, nil
	case "memory", "":
		slog.Warn("Incident store is in-memory; incidents are lost on restart")
		return store.NewMemory(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildSink fans out to every enabled channel, or only logs when none is.
func buildSink(cfg *Config, client *http.Client) notify.Sink {
	n := cfg.Notifications
	var sinks notify.Multi

	if n.MailRelay.Enabled {
		sinks = append(sinks, notify.NewMailRelaySink(notify.MailRelayConfig{
			BaseURL:    n.MailRelay.BaseURL,
			Endpoint:   n.MailRelay.Endpoint,
			APIKey:     n.MailRelay.APIKey,
			Recipients: n.MailRelay.Recipients,
			Timeout:    time.Duration(n.MailRelay.TimeoutSeconds) * time.Second,
		}, client, nil))
	}
	if n.SMTP.Enabled {
		sinks = append(sinks, notify.NewSMTPSink(notify.SMTPConfig{
			Addr:       n.SMTP.Addr,
			From:       n.SMTP.From,
			Username:   n.SMTP.Username,
			Password:   n.SMTP.Password,
			Recipients: n.SMTP.Recipients,
		}, nil))
	}
	if n.Telegram.Enabled {
		sinks = append(sinks, notify.NewTelegramSink(notify.NewLazyBot(n.Telegram.BotToken, tgbotapi.APIEndpoint, client), n.Telegram.ChatID))
	}

	if len(sinks) == 0 {
		slog.Warn("No notification channel enabled, notifications are only logged")
		return notify.LogSink{}
	}
	return sinks
}

// Close releases the store connection.
func (app *AppContext) Close() {
	for _, c := range app.closers {
		if err := c(); err != nil {
			slog.Warn("Close failed", "err", err)
		}
	}
}

func (s *RuntimeState) recordCycle(at time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastCycle = at
	s.Cycles++
	if err != nil {
		s.LastCycleErr = err.Error()
	} else {
		s.LastCycleErr = ""
	}
}

// pruneDue reports whether a daily log prune is due and marks it done.
func (s *RuntimeState) pruneDue(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.LastPrune.IsZero() && now.Sub(s.LastPrune) < 24*time.Hour {
		return false
	}
	s.LastPrune = now
	return true
}

type healthView struct {
	Device       string    `json:"device"`
	StartTime    time.Time `json:"startTime"`
	LastCycle    time.Time `json:"lastCycle,omitempty"`
	LastCycleErr string    `json:"lastCycleError,omitempty"`
	Cycles       int       `json:"cycles"`
}

func (s *RuntimeState) view(device string) healthView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return healthView{
		Device:       device,
		StartTime:    s.StartTime,
		LastCycle:    s.LastCycle,
		LastCycleErr: s.LastCycleErr,
		Cycles:       s.Cycles,
	}
}
