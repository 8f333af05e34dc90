package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

func (s *Store) ListEnabledAutomations(ctx context.Context) ([]store.Automation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.bot_id, a.name, a.enabled, a.event, a.label_name, a.timeout_ms, a.prompt
		FROM automations a
		JOIN bots b ON b.id = a.bot_id
		WHERE a.enabled = true AND b.ai_enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("pg: list enabled automations: %w", err)
	}
	defer rows.Close()

	var out []store.Automation
	for rows.Next() {
		var a store.Automation
		var labelName sql.NullString
		if err := rows.Scan(&a.ID, &a.BotID, &a.Name, &a.Enabled, &a.Event, &labelName, &a.TimeoutMs, &a.Prompt); err != nil {
			return nil, fmt.Errorf("pg: scan automation: %w", err)
		}
		a.LabelName = labelName.String
		out = append(out, a)
	}
	return out, rows.Err()
}
