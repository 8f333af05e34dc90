package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// AppendConversationLog writes one durable turn. Failures here must
// never abort the caller's in-flight AI turn (spec.md §7) — callers
// (internal/conversation.Store) are responsible for treating the
// returned error as log-and-continue, not fatal.
func (s *Store) AppendConversationLog(ctx context.Context, entry *store.ConversationLogEntry) error {
	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}
	toolCallsJSON := marshalJSON(entry.ToolCalls)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_log
			(id, session_id, role, content, tool_calls, tool_call_id, tool_name, model, prompt_tokens, completion_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		id, entry.SessionID, entry.Role, entry.Content, toolCallsJSON,
		nilStr(entry.ToolCallID), nilStr(entry.ToolName), nilStr(entry.Model),
		entry.PromptTokens, entry.CompletionTokens,
	)
	if err != nil {
		return fmt.Errorf("pg: append conversation log: %w", err)
	}
	return nil
}

// ConversationLogSince returns turns created at or after `since`,
// oldest-first, capped at `limit` rows — the reconstruction query
// spec.md §4.2 describes (createdAt >= now-PG_HISTORY_DAYS).
func (s *Store) ConversationLogSince(ctx context.Context, sessionID string, since time.Time, limit int) ([]store.ConversationLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, tool_calls, tool_call_id, tool_name, model, prompt_tokens, completion_tokens, created_at
		FROM conversation_log
		WHERE session_id = $1 AND created_at >= $2
		ORDER BY created_at ASC
		LIMIT $3`, sessionID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: conversation log since: %w", err)
	}
	defer rows.Close()

	var out []store.ConversationLogEntry
	for rows.Next() {
		var e store.ConversationLogEntry
		var toolCalls []byte
		var toolCallID, toolName, model sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &toolCalls, &toolCallID, &toolName, &model, &e.PromptTokens, &e.CompletionTokens, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan conversation log entry: %w", err)
		}
		e.ToolCallID = toolCallID.String
		e.ToolName = toolName.String
		e.Model = model.String
		if len(toolCalls) > 0 && string(toolCalls) != "null" {
			_ = json.Unmarshal(toolCalls, &e.ToolCalls)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) ClearConversationLog(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversation_log WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("pg: clear conversation log: %w", err)
	}
	return nil
}

// TagRecentAssistantTurns attaches model + token usage metadata to the
// most recently written assistant turns (best-effort, spec.md §4.6
// step i).
func (s *Store) TagRecentAssistantTurns(ctx context.Context, sessionID, model string, promptTokens, completionTokens, count int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversation_log SET model = $1, prompt_tokens = $2, completion_tokens = $3
		WHERE id IN (
			SELECT id FROM conversation_log
			WHERE session_id = $4 AND role = 'assistant'
			ORDER BY created_at DESC LIMIT $5
		)`, model, promptTokens, completionTokens, sessionID, count)
	if err != nil {
		return fmt.Errorf("pg: tag recent assistant turns: %w", err)
	}
	return nil
}
