package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

func (s *Store) GetBot(ctx context.Context, botID string) (*store.Bot, error) {
	var b store.Bot
	var systemPrompt sql.NullString
	var ignoredLabels []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, provider, model, system_prompt, temperature, message_delay_ms,
		       ignored_labels, exclude_groups, ai_enabled, created_at, updated_at
		FROM bots WHERE id = $1`, botID,
	).Scan(&b.ID, &b.Provider, &b.Model, &systemPrompt, &b.Temperature, &b.MessageDelayMs,
		&ignoredLabels, &b.ExcludeGroups, &b.AIEnabled, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get bot: %w", err)
	}
	b.SystemPrompt = systemPrompt.String
	if len(ignoredLabels) > 0 {
		_ = jsonUnmarshalStrings(ignoredLabels, &b.IgnoredLabels)
	}
	return &b, nil
}

func (s *Store) ListBots(ctx context.Context) ([]store.Bot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, provider, model, system_prompt, temperature, message_delay_ms,
		       ignored_labels, exclude_groups, ai_enabled, created_at, updated_at
		FROM bots ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: list bots: %w", err)
	}
	defer rows.Close()

	var out []store.Bot
	for rows.Next() {
		var b store.Bot
		var systemPrompt sql.NullString
		var ignoredLabels []byte
		if err := rows.Scan(&b.ID, &b.Provider, &b.Model, &systemPrompt, &b.Temperature, &b.MessageDelayMs,
			&ignoredLabels, &b.ExcludeGroups, &b.AIEnabled, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan bot: %w", err)
		}
		b.SystemPrompt = systemPrompt.String
		if len(ignoredLabels) > 0 {
			_ = jsonUnmarshalStrings(ignoredLabels, &b.IgnoredLabels)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: list bots rows: %w", err)
	}
	return out, nil
}
