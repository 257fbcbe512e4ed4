package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"inventariagent/internal/clock"
	"inventariagent/internal/incident"
	"inventariagent/internal/model"
	"inventariagent/internal/notify"
	"inventariagent/internal/policy"
)

// Classifier decides the verdict for a process.
type Classifier interface {
	Classify(obs model.ProcessObservation) policy.Decision
}

// Killer terminates a process.
type Killer interface {
	Terminate(ctx context.Context, pid int32, image string) Termination
}

// Reporter records enforced blocks as incidents.
type Reporter interface {
	ReportPolicy(ctx context.Context, r incident.PolicyReport) (incident.Outcome, error)
}

// Gate rate-limits notifications per application.
type Gate interface {
	TryAcquire(key string) bool
}

// Result is everything Handle did for one observation.
type Result struct {
	Decision    policy.Decision
	Termination Termination
	Incident    incident.Outcome
	Notified    bool
}

// EngineConfig wires an Engine.
type EngineConfig struct {
	DeviceID string
	// ConsoleURL, when set, links notifications to the device page. A %s
	// verb is replaced by the device id, otherwise the id is appended.
	ConsoleURL string
	Clock      clock.Clock
	Logger     *slog.Logger
	// OnResult, when set, observes every handled observation.
	OnResult func(Result)
}

// Engine runs classify, terminate, report and notify for each process.
type Engine struct {
	classifier Classifier
	killer     Killer
	reporter   Reporter
	gate       Gate
	sink       notify.Sink
	cfg        EngineConfig
	clk        clock.Clock
	log        *slog.Logger
}

func NewEngine(c Classifier, k Killer, r Reporter, g Gate, s notify.Sink, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		classifier: c,
		killer:     k,
		reporter:   r,
		gate:       g,
		sink:       s,
		cfg:        cfg,
		clk:        clock.OrReal(cfg.Clock),
		log:        logger.With("component", "appblock"),
	}
}

// Handle enforces the policy on obs. Reporting and notification failures
// are logged; they never undo or block a termination.
func (e *Engine) Handle(ctx context.Context, obs model.ProcessObservation) Result {
	res := Result{Decision: e.classifier.Classify(obs)}
	if !res.Decision.Blocked() {
		e.done(res)
		return res
	}

	d := res.Decision
	log := e.log.With("exe", d.Name, "pid", obs.PID, "category", d.Category, "reason", d.Reason)
	log.Info("Blocked application detected")

	res.Termination = e.killer.Terminate(ctx, obs.PID, d.Name)
	if res.Termination.Terminated {
		log.Info("Blocked application terminated", "stage", res.Termination.Stage)
	} else {
		log.Error("Blocked application could not be terminated")
	}

	report := incident.PolicyReport{Exe: d.Name, Category: d.Category, PID: obs.PID, Terminated: res.Termination.Terminated}
	outcome, err := e.reporter.ReportPolicy(ctx, report)
	res.Incident = outcome
	if err != nil {
		log.Error("Policy incident report failed", "err", err)
	}

	if e.sink != nil && (e.gate == nil || e.gate.TryAcquire(d.Name)) {
		n := notify.Notification{
			DeviceID: e.cfg.DeviceID,
			Title:    blockTitle(report),
			Category: string(model.CategoryPolicy),
			Severity: incident.SeverityForCategory(d.Category),
			At:       e.clk.Now(),
			Link:     e.link(),
		}
		if err := e.sink.Send(ctx, n); err != nil {
			log.Error("Notification failed", "err", err)
		} else {
			res.Notified = true
		}
	}

	e.done(res)
	return res
}

func (e *Engine) done(res Result) {
	if e.cfg.OnResult != nil {
		e.cfg.OnResult(res)
	}
}

func (e *Engine) link() string {
	if e.cfg.ConsoleURL == "" {
		return ""
	}
	if strings.Contains(e.cfg.ConsoleURL, "%s") {
		return fmt.Sprintf(e.cfg.ConsoleURL, e.cfg.DeviceID)
	}
	return strings.TrimRight(e.cfg.ConsoleURL, "/") + "/" + e.cfg.DeviceID
}

func blockTitle(r incident.PolicyReport) string {
	if r.Terminated {
		return "Blocked application: " + r.Exe + " (" + r.Category + ")"
	}
	return "Block attempt failed: " + r.Exe + " (" + r.Category + ")"
}
