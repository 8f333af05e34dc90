// Package automation implements the AutomationSweeper spec.md §4.8
// describes: a periodic scan over each enabled Automation rule's
// matching inactive sessions, emitting one synthetic inbound message
// per session per rule, guarded by an idempotency lease so a session
// is never nudged twice for the same automation before it resets.
//
// Grounded on the teacher's periodic-scan/cron dispatch shape
// (cmd/gateway_cron.go), generalized from a fixed heartbeat job list to
// spec.md's configurable, per-bot inactivity rules, with idempotency
// implemented via the same KV.SetIfAbsent primitive the session lock
// uses (spec.md §5).
package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/waorchestrator/internal/kv"
	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// Trigger is called once per session that an Automation rule matched
// and has not already nudged. Implementations typically enqueue a
// synthetic message into the AI engine.
type Trigger func(ctx context.Context, automation store.Automation, session store.Session) error

// Sweeper periodically evaluates every enabled Automation against its
// matching sessions.
type Sweeper struct {
	repo   store.Repository
	kv     kv.KV
	log    *slog.Logger
	onFire Trigger
}

func New(repo store.Repository, k kv.KV, log *slog.Logger, onFire Trigger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{repo: repo, kv: k, log: log, onFire: onFire}
}

// Run blocks, evaluating all automations every interval until ctx is
// canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.log.Error("automation: sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce evaluates every enabled Automation exactly once.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	autos, err := s.repo.ListEnabledAutomations(ctx)
	if err != nil {
		return fmt.Errorf("automation: list enabled: %w", err)
	}

	for _, a := range autos {
		if err := s.evaluate(ctx, a); err != nil {
			s.log.Error("automation: evaluate rule failed", "automation_id", a.ID, "error", err)
		}
	}
	return nil
}

func (s *Sweeper) evaluate(ctx context.Context, a store.Automation) error {
	if a.Event != store.EventInactivity {
		return nil // only INACTIVITY is defined by the spec
	}

	sessions, err := s.matchingSessions(ctx, a)
	if err != nil {
		return err
	}

	bot, err := s.repo.GetBot(ctx, a.BotID)
	if err != nil {
		return fmt.Errorf("automation: get bot: %w", err)
	}
	if !bot.AIEnabled {
		return nil // spec.md §4.8: only automations on AI-enabled bots run
	}

	timeout := time.Duration(a.TimeoutMs) * time.Millisecond
	for _, sess := range sessions {
		if len(bot.IgnoredLabels) > 0 {
			excluded, err := s.hasIgnoredLabel(ctx, sess.ID, bot.IgnoredLabels)
			if err != nil {
				s.log.Error("automation: ignored-label lookup failed", "session_id", sess.ID, "error", err)
				continue
			}
			if excluded {
				continue
			}
		}

		last, err := s.repo.LastInboundMessage(ctx, sess.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue // no inbound history — nothing to consider stale
		}
		if err != nil {
			s.log.Error("automation: last inbound message lookup failed", "session_id", sess.ID, "error", err)
			continue
		}
		// spec.md §4.8: "If it does not exist or its timestamp is newer
		// than now − timeoutMs, skip" — a session with no inbound
		// message yet has nothing to consider stale.
		if last == nil || time.Since(last.CreatedAt) < timeout {
			continue
		}

		leaseKey := fmt.Sprintf("automation:done:%s:%s", a.ID, sess.ID)
		won, err := s.kv.SetIfAbsent(ctx, leaseKey, "1", timeout)
		if err != nil {
			s.log.Error("automation: lease acquire failed", "session_id", sess.ID, "error", err)
			continue
		}
		if !won {
			continue // already nudged for this rule within the timeout window
		}

		if err := s.onFire(ctx, a, sess); err != nil {
			s.log.Error("automation: trigger failed", "automation_id", a.ID, "session_id", sess.ID, "error", err)
		}
	}
	return nil
}

// matchingSessions resolves which sessions a rule applies to: sessions
// carrying LabelName, or — when LabelName is empty — sessions carrying
// no labels at all (spec.md §4.8).
func (s *Sweeper) matchingSessions(ctx context.Context, a store.Automation) ([]store.Session, error) {
	if a.LabelName == "" {
		return s.repo.SessionsWithoutLabels(ctx, a.BotID)
	}
	return s.repo.SessionsByLabel(ctx, a.BotID, a.LabelName)
}

func (s *Sweeper) hasIgnoredLabel(ctx context.Context, sessionID string, ignored []string) (bool, error) {
	labels, err := s.repo.SessionLabelsFor(ctx, sessionID)
	if err != nil {
		return false, err
	}
	for _, l := range labels {
		for _, ig := range ignored {
			if l.Name == ig {
				return true, nil
			}
		}
	}
	return false, nil
}
