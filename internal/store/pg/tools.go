package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

func (s *Store) ListActiveTools(ctx context.Context, botID string) ([]store.Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bot_id, name, description, parameters, action_type, action_config, status, flow_id
		FROM tools WHERE bot_id = $1 AND status = 'ACTIVE'`, botID)
	if err != nil {
		return nil, fmt.Errorf("pg: list active tools: %w", err)
	}
	defer rows.Close()

	var out []store.Tool
	for rows.Next() {
		t, err := scanTool(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) GetTool(ctx context.Context, botID, name string) (*store.Tool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, name, description, parameters, action_type, action_config, status, flow_id
		FROM tools WHERE bot_id = $1 AND name = $2 AND status = 'ACTIVE'`, botID, name)
	t, err := scanToolRow(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get tool: %w", err)
	}
	return t, nil
}

// CreateTool inserts a new tool row. A create attempt colliding with an
// existing (bot_id,name) row surfaces as store.ErrAlreadyExists so
// callers can apply ALREADY_EXISTS semantics (spec.md §4.3). Names
// reserved by built-ins are not checked here; tools.Registry.CreateTool
// rejects those before reaching the repository.
func (s *Store) CreateTool(ctx context.Context, t *store.Tool) (*store.Tool, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tools (id, bot_id, name, description, parameters, action_type, action_config, status, flow_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, t.BotID, t.Name, t.Description, marshalJSON(t.Parameters), t.ActionType, marshalJSON(t.ActionConfig), t.Status, nilStr(t.FlowID),
	)
	if isUniqueViolation(err) {
		return nil, store.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("pg: create tool: %w", err)
	}
	t.ID = id
	return t, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTool(rows *sql.Rows) (store.Tool, error) {
	return scanToolRowInto(rows)
}

func scanToolRow(row *sql.Row) (*store.Tool, error) {
	t, err := scanToolRowInto(row)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func scanToolRowInto(r rowScanner) (store.Tool, error) {
	var t store.Tool
	var params, actionConfig []byte
	var flowID sql.NullString
	err := r.Scan(&t.ID, &t.BotID, &t.Name, &t.Description, &params, &t.ActionType, &actionConfig, &t.Status, &flowID)
	if err != nil {
		return store.Tool{}, err
	}
	t.Parameters = unmarshalJSONMap(params)
	t.ActionConfig = unmarshalJSONMap(actionConfig)
	t.FlowID = flowID.String
	return t, nil
}
