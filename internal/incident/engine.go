package incident

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"inventariagent/internal/clock"
	"inventariagent/internal/format"
	"inventariagent/internal/model"
)

// Outcome is what Handle did with one event.
type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeAppended Outcome = "appended"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// PolicyWindow bounds how far back a policy incident is reused.
const PolicyWindow = 15 * time.Minute

// TagPolicy marks incidents raised by the application blocker.
const TagPolicy = "policy"

// MetricPolicyAppBlock is the change-entry metric for repeated policy hits.
const MetricPolicyAppBlock = "policy.appblock"

var policyTags = []string{model.TagAuto, model.TagAlert, TagPolicy, "appblock"}

var highRiskCategories = map[string]bool{
	"launcher_juegos":  true,
	"emulador":         true,
	"android_emulador": true,
}

// SeverityForCategory maps a blocked-app category to an incident severity.
func SeverityForCategory(category string) model.Severity {
	if highRiskCategories[strings.ToLower(category)] {
		return model.SeverityHigh
	}
	return model.SeverityMedium
}

// CooldownPolicy controls how often an open incident may be touched.
type CooldownPolicy struct {
	// NewIncidentCooldown is carried in configuration but not consulted:
	// a new incident is created whenever no open one carries the tag.
	NewIncidentCooldown  time.Duration
	RepeatUpdateCooldown time.Duration
}

// DefaultCooldownPolicy returns 120m / 60m.
func DefaultCooldownPolicy() CooldownPolicy {
	return CooldownPolicy{
		NewIncidentCooldown:  120 * time.Minute,
		RepeatUpdateCooldown: 60 * time.Minute,
	}
}

// PolicyReport describes one enforcement of the application policy.
type PolicyReport struct {
	Exe        string
	Category   string
	PID        int32
	Terminated bool
}

func (r PolicyReport) note() string {
	status := "failed"
	if r.Terminated {
		status = "terminated"
	}
	return fmt.Sprintf("%s (%s) pid=%d %s", r.Exe, r.Category, r.PID, status)
}

func (r PolicyReport) title() string {
	if r.Terminated {
		return fmt.Sprintf("Blocked application: %s (%s), process %d terminated by policy", r.Exe, r.Category, r.PID)
	}
	return fmt.Sprintf("Block attempt failed: %s (%s), process %d could not be closed", r.Exe, r.Category, r.PID)
}

// Config wires an Engine.
type Config struct {
	DeviceID   string
	ReportedBy string
	Cooldown   CooldownPolicy
	Clock      clock.Clock
	Logger     *slog.Logger
	// OnOutcome, when set, observes every Handle/ReportPolicy result.
	OnOutcome func(kind string, o Outcome)
}

// Engine applies the create/append/skip lifecycle against a Gateway.
type Engine struct {
	gw  Gateway
	cfg Config
	clk clock.Clock
	log *slog.Logger
}

func NewEngine(gw Gateway, cfg Config) *Engine {
	if cfg.Cooldown.RepeatUpdateCooldown <= 0 {
		cfg.Cooldown = DefaultCooldownPolicy()
	}
	if cfg.ReportedBy == "" {
		cfg.ReportedBy = "InventariAgent"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		gw:  gw,
		cfg: cfg,
		clk: clock.OrReal(cfg.Clock),
		log: logger.With("component", "incidents", "device", cfg.DeviceID),
	}
}

func (e *Engine) observe(kind string, o Outcome) Outcome {
	if e.cfg.OnOutcome != nil {
		e.cfg.OnOutcome(kind, o)
	}
	return o
}

// Handle creates, appends to, or skips the incident for ev.Tag.
func (e *Engine) Handle(ctx context.Context, ev model.BreachEvent) (Outcome, error) {
	open, err := e.gw.FindOpenByTag(ctx, e.cfg.DeviceID, ev.Tag)
	if err != nil {
		return e.observe(ev.Tag, OutcomeFailed), fmt.Errorf("find open incident %s: %w", ev.Tag, err)
	}

	now := e.clk.Now()
	if open == nil {
		id, err := e.gw.Create(ctx, e.newIncident(ev.Category, ev.Description, ev.Severity, ev.Tags(), now))
		if err != nil {
			return e.observe(ev.Tag, OutcomeFailed), fmt.Errorf("create incident %s: %w", ev.Tag, err)
		}
		e.log.Warn("Incident created", "id", id, "tag", ev.Tag, "category", ev.Category, "value", ev.Value, "limit", ev.Limit)
		return e.observe(ev.Tag, OutcomeCreated), nil
	}

	elapsed := now.Sub(open.LastActivity())
	if elapsed < e.cfg.Cooldown.RepeatUpdateCooldown {
		e.log.Debug("Incident update in cooldown", "id", open.ID, "tag", ev.Tag,
			"elapsed", format.FormatDuration(elapsed),
			"cooldown", format.FormatDuration(e.cfg.Cooldown.RepeatUpdateCooldown))
		return e.observe(ev.Tag, OutcomeSkipped), nil
	}

	entry := model.ChangeEntry{At: now, Metric: ev.Metric, Value: ev.Value, Threshold: ev.Limit, Note: ev.Note}
	if err := e.gw.AppendChange(ctx, e.cfg.DeviceID, open.ID, entry); err != nil {
		return e.observe(ev.Tag, OutcomeFailed), fmt.Errorf("append change to %s: %w", open.ID, err)
	}
	e.log.Info("Incident updated", "id", open.ID, "tag", ev.Tag, "value", ev.Value)
	return e.observe(ev.Tag, OutcomeAppended), nil
}

// HandleAll runs Handle for each event in order. Failures are logged and do
// not stop the remaining events.
func (e *Engine) HandleAll(ctx context.Context, events []model.BreachEvent) []Outcome {
	out := make([]Outcome, 0, len(events))
	for _, ev := range events {
		if ctx.Err() != nil {
			break
		}
		o, err := e.Handle(ctx, ev)
		if err != nil {
			e.log.Error("Incident handling failed", "tag", ev.Tag, "err", err)
		}
		out = append(out, o)
	}
	return out
}

// ReportPolicy records an enforced block. A policy incident of the same
// severity opened within PolicyWindow absorbs the report as a change entry.
func (e *Engine) ReportPolicy(ctx context.Context, r PolicyReport) (Outcome, error) {
	sev := SeverityForCategory(r.Category)
	now := e.clk.Now()

	recent, err := e.gw.FindRecentByTagAndSeverity(ctx, e.cfg.DeviceID, TagPolicy, sev, now.Add(-PolicyWindow))
	if err != nil {
		return e.observe(TagPolicy, OutcomeFailed), fmt.Errorf("find recent policy incident: %w", err)
	}

	if recent == nil {
		id, err := e.gw.Create(ctx, e.newIncident(model.CategoryPolicy, r.title(), sev, policyTags, now))
		if err != nil {
			return e.observe(TagPolicy, OutcomeFailed), fmt.Errorf("create policy incident: %w", err)
		}
		e.log.Warn("Policy incident created", "id", id, "exe", r.Exe, "category", r.Category, "severity", sev)
		return e.observe(TagPolicy, OutcomeCreated), nil
	}

	entry := model.ChangeEntry{At: now, Metric: MetricPolicyAppBlock, Note: r.note()}
	if err := e.gw.AppendChange(ctx, e.cfg.DeviceID, recent.ID, entry); err != nil {
		return e.observe(TagPolicy, OutcomeFailed), fmt.Errorf("append policy change to %s: %w", recent.ID, err)
	}
	e.log.Info("Policy incident updated", "id", recent.ID, "exe", r.Exe)
	return e.observe(TagPolicy, OutcomeAppended), nil
}

func (e *Engine) newIncident(cat model.Category, title string, sev model.Severity, tags []string, now time.Time) model.Incident {
	return model.Incident{
		DeviceID:   e.cfg.DeviceID,
		Category:   cat,
		Title:      title,
		Severity:   sev,
		Status:     model.StatusOpen,
		Tags:       append([]string(nil), tags...),
		ReportedBy: e.cfg.ReportedBy,
		CreatedBy:  "system",
		CreatedAt:  now,
		UpdatedAt:  now,
		Changes:    []model.ChangeEntry{},
		Comments:   []string{},
	}
}
