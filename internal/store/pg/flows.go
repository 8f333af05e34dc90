package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

func (s *Store) GetFlow(ctx context.Context, flowID string) (*store.Flow, error) {
	var f store.Flow
	err := s.db.QueryRowContext(ctx, `SELECT id, bot_id, name FROM flows WHERE id = $1`, flowID).
		Scan(&f.ID, &f.BotID, &f.Name)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get flow: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, flow_id, "order", type, content, media_url, delay_ms
		FROM flow_steps WHERE flow_id = $1 ORDER BY "order" ASC`, flowID)
	if err != nil {
		return nil, fmt.Errorf("pg: list flow steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step store.Step
		var mediaURL sql.NullString
		if err := rows.Scan(&step.ID, &step.FlowID, &step.Order, &step.Type, &step.Content, &mediaURL, &step.DelayMs); err != nil {
			return nil, fmt.Errorf("pg: scan flow step: %w", err)
		}
		step.MediaURL = mediaURL.String
		f.Steps = append(f.Steps, step)
	}
	return &f, rows.Err()
}

func (s *Store) ListTriggers(ctx context.Context, botID string) ([]store.Trigger, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bot_id, flow_id, keyword, match_type, scope
		FROM triggers WHERE bot_id = $1`, botID)
	if err != nil {
		return nil, fmt.Errorf("pg: list triggers: %w", err)
	}
	defer rows.Close()

	var out []store.Trigger
	for rows.Next() {
		var t store.Trigger
		if err := rows.Scan(&t.ID, &t.BotID, &t.FlowID, &t.Keyword, &t.MatchType, &t.Scope); err != nil {
			return nil, fmt.Errorf("pg: scan trigger: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
