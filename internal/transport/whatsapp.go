package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// reconnectBaseNormal/reconnectBaseConflict/reconnectCap implement the
// backoff schedule spec.md §5 specifies:
// min(base·2^attempts, 120s), base=5s normally, base=15s on a bridge
// conflict (HTTP 440 — another device paired the same session).
const (
	reconnectBaseNormal   = 5 * time.Second
	reconnectBaseConflict = 15 * time.Second
	reconnectCap          = 120 * time.Second
	statusConflict        = 440
)

// BridgeTransport implements Transport as a WebSocket client of a
// per-bot WhatsApp bridge process. Grounded on the teacher's
// internal/channels/whatsapp/whatsapp.go (connect/listenLoop,
// reconnect-with-backoff, JSON envelope over a single WS connection),
// generalized from one fixed channel to one connection per tenant bot
// (spec.md §1: multi-tenant, one long-lived session per bot).
//
// QR pairing and media download are explicitly out of scope (spec.md
// §1 "deliberately out of scope... consumed via a transport
// interface") and are not exposed on Transport at all — a deployment
// that needs them implements its own bridge process independently of
// this reference client.
type BridgeTransport struct {
	urlForBot func(botID string) string
	log       *slog.Logger

	mu    sync.Mutex
	conns map[string]*botConn
}

type botConn struct {
	mu         sync.Mutex
	conn       *websocket.Conn
	cancel     context.CancelFunc
	attempts   int
	lastStatus int
}

// NewBridgeTransport builds a BridgeTransport. urlForBot resolves a
// bot's bridge WebSocket URL (deployment-specific: typically one bridge
// process per bot, addressed by a per-bot path or query param).
func NewBridgeTransport(urlForBot func(botID string) string, log *slog.Logger) *BridgeTransport {
	if log == nil {
		log = slog.Default()
	}
	return &BridgeTransport{urlForBot: urlForBot, log: log, conns: make(map[string]*botConn)}
}

func (t *BridgeTransport) StartSession(ctx context.Context, botID string) error {
	t.mu.Lock()
	if _, ok := t.conns[botID]; ok {
		t.mu.Unlock()
		return nil
	}
	connCtx, cancel := context.WithCancel(context.Background())
	bc := &botConn{cancel: cancel}
	t.conns[botID] = bc
	t.mu.Unlock()

	if err := t.dial(botID, bc); err != nil {
		t.log.Warn("transport: initial bridge dial failed, will retry", "bot_id", botID, "error", err)
	}
	go t.listenLoop(connCtx, botID, bc)
	return nil
}

func (t *BridgeTransport) StopSession(ctx context.Context, botID string) error {
	t.mu.Lock()
	bc, ok := t.conns[botID]
	delete(t.conns, botID)
	t.mu.Unlock()
	if !ok {
		return nil
	}
	bc.cancel()
	bc.mu.Lock()
	if bc.conn != nil {
		_ = bc.conn.Close()
	}
	bc.mu.Unlock()
	return nil
}

func (t *BridgeTransport) ShutdownAll(ctx context.Context) error {
	t.mu.Lock()
	ids := make([]string, 0, len(t.conns))
	for id := range t.conns {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	for _, id := range ids {
		_ = t.StopSession(ctx, id)
	}
	return nil
}

func (t *BridgeTransport) dial(botID string, bc *botConn) error {
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, resp, err := dialer.Dial(t.urlForBot(botID), nil)
	if err != nil {
		bc.mu.Lock()
		if resp != nil {
			bc.lastStatus = resp.StatusCode
		}
		bc.mu.Unlock()
		return fmt.Errorf("transport: dial bridge for bot %s: %w", botID, err)
	}

	bc.mu.Lock()
	bc.conn = conn
	bc.attempts = 0
	bc.lastStatus = http.StatusOK
	bc.mu.Unlock()

	t.log.Info("transport: bridge connected", "bot_id", botID)
	return nil
}

func (t *BridgeTransport) listenLoop(ctx context.Context, botID string, bc *botConn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		bc.mu.Lock()
		conn := bc.conn
		bc.mu.Unlock()

		if conn == nil {
			wait := t.nextBackoff(bc)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			if err := t.dial(botID, bc); err != nil {
				t.log.Warn("transport: bridge reconnect failed", "bot_id", botID, "error", err)
			}
			continue
		}

		_, _, err := conn.ReadMessage()
		if err != nil {
			t.log.Warn("transport: bridge read error, will reconnect", "bot_id", botID, "error", err)
			bc.mu.Lock()
			if bc.conn != nil {
				_ = bc.conn.Close()
				bc.conn = nil
			}
			bc.mu.Unlock()
		}
	}
}

func (t *BridgeTransport) nextBackoff(bc *botConn) time.Duration {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	base := reconnectBaseNormal
	if bc.lastStatus == statusConflict {
		base = reconnectBaseConflict
	}
	d := base
	for i := 0; i < bc.attempts; i++ {
		d *= 2
		if d >= reconnectCap {
			d = reconnectCap
			break
		}
	}
	bc.attempts++
	return d
}

func (t *BridgeTransport) send(botID string, envelope map[string]interface{}) error {
	t.mu.Lock()
	bc, ok := t.conns[botID]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: no active session for bot %s", botID)
	}

	bc.mu.Lock()
	conn := bc.conn
	bc.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: bridge not connected for bot %s", botID)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("transport: marshal envelope: %w", err)
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.conn == nil {
		return fmt.Errorf("transport: bridge not connected for bot %s", botID)
	}
	return bc.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *BridgeTransport) SendMessage(ctx context.Context, botID, identifier string, payload Payload) error {
	envelope := map[string]interface{}{"type": "send", "to": identifier}
	switch {
	case payload.Image != nil:
		envelope["image"] = map[string]string{"url": payload.Image.URL}
		envelope["caption"] = payload.Image.Caption
	case payload.Audio != nil:
		envelope["audio"] = map[string]string{"url": payload.Audio.URL}
		envelope["ptt"] = payload.Audio.PTT
	default:
		envelope["text"] = payload.Text
		if payload.ContextInfo != nil {
			envelope["contextInfo"] = map[string]interface{}{
				"stanzaId":    payload.ContextInfo.StanzaID,
				"participant": payload.ContextInfo.Participant,
				"quotedMessage": map[string]string{
					"conversation": payload.ContextInfo.QuotedMessage.Conversation,
				},
			}
		}
	}
	return t.send(botID, envelope)
}

func (t *BridgeTransport) MarkRead(ctx context.Context, botID, identifier, externalID string) error {
	return t.send(botID, map[string]interface{}{"type": "mark_read", "to": identifier, "message_id": externalID})
}

func (t *BridgeTransport) SendPresence(ctx context.Context, botID, identifier string, presence Presence) error {
	return t.send(botID, map[string]interface{}{"type": "presence", "to": identifier, "state": string(presence)})
}

func (t *BridgeTransport) AddChatLabel(ctx context.Context, botID, identifier, waLabelID string) error {
	return t.send(botID, map[string]interface{}{"type": "label_add", "to": identifier, "label_id": waLabelID})
}

func (t *BridgeTransport) RemoveChatLabel(ctx context.Context, botID, identifier, waLabelID string) error {
	return t.send(botID, map[string]interface{}{"type": "label_remove", "to": identifier, "label_id": waLabelID})
}

func (t *BridgeTransport) SyncLabels(ctx context.Context, botID string) error {
	return t.send(botID, map[string]interface{}{"type": "label_sync"})
}

var _ Transport = (*BridgeTransport)(nil)
