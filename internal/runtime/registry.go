// Package runtime holds the process-wide, in-memory state the core's
// spec.md §5 calls out as owned exclusively by the transport layer and
// never touched by the AI core directly: the live transport per bot,
// pending QR codes, and reconnect bookkeeping.
//
// Grounded on the teacher's internal/channels/manager.go Manager
// (map[string]Channel registry with Register/Get/StartAll/StopAll),
// generalized from "one channel per named transport kind" to "one
// WhatsApp transport per tenant bot".
package runtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nextlevelbuilder/waorchestrator/internal/transport"
)

// Registry is the process-wide map of botID -> live transport, plus
// the QR/reconnect bookkeeping spec.md §5 scopes to the transport
// layer alone.
type Registry struct {
	log *slog.Logger

	mu                sync.RWMutex
	transports        map[string]transport.Transport
	qrCodes           map[string]string
	reconnectAttempts map[string]int
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:               log,
		transports:        make(map[string]transport.Transport),
		qrCodes:           make(map[string]string),
		reconnectAttempts: make(map[string]int),
	}
}

// Register associates botID with its live transport. Idempotent: a
// second Register for the same bot replaces the entry (used on
// reconnect-from-scratch flows).
func (r *Registry) Register(botID string, t transport.Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[botID] = t
}

func (r *Registry) Unregister(botID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, botID)
	delete(r.qrCodes, botID)
	delete(r.reconnectAttempts, botID)
}

func (r *Registry) Get(botID string) (transport.Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[botID]
	return t, ok
}

func (r *Registry) SetQR(botID, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.qrCodes[botID] = code
}

func (r *Registry) QR(botID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.qrCodes[botID]
	return code, ok
}

func (r *Registry) IncrReconnectAttempt(botID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnectAttempts[botID]++
	return r.reconnectAttempts[botID]
}

func (r *Registry) ResetReconnectAttempt(botID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reconnectAttempts, botID)
}

// ShutdownAll stops every registered bot's transport, logging and
// continuing past individual failures (transient transport failures
// never abort a shutdown, spec.md §7).
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.transports))
	for id := range r.transports {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		t, ok := r.Get(id)
		if !ok {
			continue
		}
		if err := t.StopSession(ctx, id); err != nil {
			r.log.Error("runtime: stop session failed", "bot_id", id, "error", err)
		}
	}
}
