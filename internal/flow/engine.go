// Package flow implements the FlowEngine spec.md §4.7 describes:
// trigger matching against inbound/outbound message content, Execution
// row lifecycle, and step scheduling with per-step delay.
//
// Grounded on the teacher's internal/agent tool-dispatch step-sequencing
// shape, generalized from "queue one assistant reply" to "run an
// ordered list of Steps against a Trigger match", with REGEX trigger
// resolution implemented via the standard library regexp package (an
// Open Question in spec.md §9 resolved in DESIGN.md: Go regexp syntax,
// not PCRE, since nothing in the example pack pulls in a PCRE binding).
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// placeholderRE matches a `{{key}}` substitution token in a step's
// content (spec.md §4.4 FLOW dispatch, step 1).
var placeholderRE = regexp.MustCompile(`\{\{(\w+)\}\}`)

// renderStep substitutes every `{{key}}` in content with
// String(arguments[key]); a placeholder with no matching argument is
// left as-is so a misconfigured flow fails visibly instead of silently.
func renderStep(content string, args map[string]interface{}) string {
	if len(args) == 0 {
		return content
	}
	return placeholderRE.ReplaceAllStringFunc(content, func(token string) string {
		key := token[2 : len(token)-2]
		v, ok := args[key]
		if !ok {
			return token
		}
		return fmt.Sprintf("%v", v)
	})
}

// Sender delivers one outbound step to a session. runtime.Router
// implements it over a transport.Transport.
type Sender interface {
	SendStep(ctx context.Context, sessionID string, step store.Step, rendered string) error
}

// Engine evaluates triggers and runs matched flows.
type Engine struct {
	repo   store.Repository
	sender Sender
	log    *slog.Logger

	reCache map[string]*regexp.Regexp
}

func New(repo store.Repository, sender Sender, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{repo: repo, sender: sender, log: log, reCache: make(map[string]*regexp.Regexp)}
}

// MatchScope reports whether a trigger's scope applies to a message
// traveling in the given direction ("incoming" or "outgoing").
func MatchScope(scope store.TriggerScope, outgoing bool) bool {
	switch scope {
	case store.ScopeBoth:
		return true
	case store.ScopeOutgoing:
		return outgoing
	case store.ScopeIncoming:
		return !outgoing
	default:
		return false
	}
}

// Matches reports whether content satisfies trigger per its match type.
// Comparisons other than REGEX are case-insensitive (spec.md §4.7).
func (e *Engine) Matches(trigger store.Trigger, content string) bool {
	switch trigger.MatchType {
	case store.MatchContains:
		return strings.Contains(strings.ToLower(content), strings.ToLower(trigger.Keyword))
	case store.MatchEquals:
		return strings.EqualFold(strings.TrimSpace(content), strings.TrimSpace(trigger.Keyword))
	case store.MatchStartsWith:
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(content)), strings.ToLower(trigger.Keyword))
	case store.MatchRegex:
		re, err := e.compile(trigger.Keyword)
		if err != nil {
			e.log.Warn("flow: invalid regex trigger", "trigger_id", trigger.ID, "pattern", trigger.Keyword, "error", err)
			return false
		}
		return re.MatchString(content)
	default:
		return false
	}
}

func (e *Engine) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.reCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.reCache[pattern] = re
	return re, nil
}

// EvaluateIncoming checks every trigger for botID against an inbound
// message and starts an Execution for each match.
func (e *Engine) EvaluateIncoming(ctx context.Context, botID, sessionID, content string) error {
	return e.evaluate(ctx, botID, sessionID, content, false)
}

// EvaluateOutgoing checks every trigger for botID against an outbound
// message (e.g. a tool-sent reply) and starts an Execution for each match.
func (e *Engine) EvaluateOutgoing(ctx context.Context, botID, sessionID, content string) error {
	return e.evaluate(ctx, botID, sessionID, content, true)
}

func (e *Engine) evaluate(ctx context.Context, botID, sessionID, content string, outgoing bool) error {
	triggers, err := e.repo.ListTriggers(ctx, botID)
	if err != nil {
		return fmt.Errorf("flow: list triggers: %w", err)
	}

	for _, tr := range triggers {
		if !MatchScope(tr.Scope, outgoing) {
			continue
		}
		if !e.Matches(tr, content) {
			continue
		}
		if err := e.Start(ctx, tr.FlowID, sessionID, nil); err != nil {
			e.log.Error("flow: start failed", "flow_id", tr.FlowID, "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// Start creates a RUNNING Execution for flowID against sessionID and
// runs its steps in order, substituting `{{key}}` placeholders in each
// step's content from args (spec.md §4.4 FLOW dispatch) and applying
// each step's delay before sending. A step send error is logged but
// does not stop later steps; the Execution still reaches COMPLETED.
// FAILED is reserved for context cancellation during a delay wait.
// Trigger-started flows pass a nil args map.
func (e *Engine) Start(ctx context.Context, flowID, sessionID string, args map[string]interface{}) error {
	f, err := e.repo.GetFlow(ctx, flowID)
	if err != nil {
		return fmt.Errorf("flow: get flow: %w", err)
	}

	exec := &store.Execution{
		ID:        uuid.NewString(),
		FlowID:    flowID,
		SessionID: sessionID,
		Status:    store.ExecutionRunning,
		StartedAt: time.Now(),
	}
	if _, err := e.repo.CreateExecution(ctx, exec); err != nil {
		return fmt.Errorf("flow: create execution: %w", err)
	}

	for i, step := range f.Steps {
		if step.DelayMs > 0 {
			select {
			case <-time.After(time.Duration(step.DelayMs) * time.Millisecond):
			case <-ctx.Done():
				return e.fail(ctx, exec, ctx.Err())
			}
		}

		rendered := renderStep(step.Content, args)
		// spec.md §4.4 FLOW: per-step transport errors are logged but
		// never abort the flow — the remaining steps still run.
		if err := e.sender.SendStep(ctx, sessionID, step, rendered); err != nil {
			e.log.Error("flow: step send failed", "flow_id", flowID, "session_id", sessionID, "step", i, "error", err)
		}
		exec.CurrentStep = i + 1
	}

	finished := time.Now()
	exec.Status = store.ExecutionCompleted
	exec.FinishedAt = &finished
	return e.repo.UpdateExecution(ctx, exec)
}

func (e *Engine) fail(ctx context.Context, exec *store.Execution, cause error) error {
	finished := time.Now()
	exec.Status = store.ExecutionFailed
	exec.FinishedAt = &finished
	if err := e.repo.UpdateExecution(ctx, exec); err != nil {
		e.log.Error("flow: mark execution failed also failed to persist", "execution_id", exec.ID, "error", err)
	}
	return fmt.Errorf("flow: step %d failed: %w", exec.CurrentStep, cause)
}
