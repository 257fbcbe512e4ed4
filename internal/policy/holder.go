package policy

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"inventariagent/internal/model"
)

// Holder publishes the current Policy to concurrent readers.
type Holder struct {
	cur atomic.Pointer[Policy]
	log *slog.Logger
}

func NewHolder(logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Holder{log: logger.With("component", "policy")}
	h.cur.Store(&Policy{})
	return h
}

// Load replaces the current policy with the file at path. A missing or
// malformed file leaves the previous policy in place.
func (h *Holder) Load(path string) error {
	doc, err := ReadDocument(path)
	if err != nil {
		h.log.Error("Policy load failed, keeping previous policy", "path", path, "err", err)
		return err
	}
	p, err := doc.Compile()
	if err != nil && !errors.Is(err, ErrEmptyPolicy) {
		h.log.Error("Policy compile failed, keeping previous policy", "path", path, "err", err)
		return err
	}
	h.cur.Store(p)
	blocked, allowed, tools := p.Counts()
	if err != nil {
		h.log.Warn("Policy loaded but empty", "path", path)
		return err
	}
	h.log.Info("Policy loaded", "path", path, "blocked", blocked, "allowed", allowed, "tools", tools)
	return nil
}

// Current returns the active policy.
func (h *Holder) Current() *Policy {
	return h.cur.Load()
}

func (h *Holder) Classify(obs model.ProcessObservation) Decision {
	return h.Current().Classify(obs)
}
