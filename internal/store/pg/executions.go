package pg

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

func (s *Store) CreateExecution(ctx context.Context, e *store.Execution) (*store.Execution, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, flow_id, session_id, status, current_step, started_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		id, e.FlowID, e.SessionID, e.Status, e.CurrentStep,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: create execution: %w", err)
	}
	e.ID = id
	return e, nil
}

func (s *Store) UpdateExecution(ctx context.Context, e *store.Execution) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = $1, current_step = $2, finished_at = $3
		WHERE id = $4`,
		e.Status, e.CurrentStep, e.FinishedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("pg: update execution: %w", err)
	}
	return nil
}
