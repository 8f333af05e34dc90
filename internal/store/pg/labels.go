package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

func (s *Store) GetLabelByName(ctx context.Context, botID, name string) (*store.Label, error) {
	var l store.Label
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, wa_label_id, name FROM labels
		WHERE bot_id = $1 AND lower(name) = lower($2)`, botID, name,
	).Scan(&l.ID, &l.BotID, &l.WALabelID, &l.Name)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get label by name: %w", err)
	}
	return &l, nil
}

func (s *Store) ListLabels(ctx context.Context, botID string) ([]store.Label, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, bot_id, wa_label_id, name FROM labels WHERE bot_id = $1`, botID)
	if err != nil {
		return nil, fmt.Errorf("pg: list labels: %w", err)
	}
	defer rows.Close()

	var out []store.Label
	for rows.Next() {
		var l store.Label
		if err := rows.Scan(&l.ID, &l.BotID, &l.WALabelID, &l.Name); err != nil {
			return nil, fmt.Errorf("pg: scan label: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) AddSessionLabel(ctx context.Context, sessionID, labelID string) error {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_labels (id, session_id, label_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, label_id) DO NOTHING`, id, sessionID, labelID)
	if err != nil {
		return fmt.Errorf("pg: add session label: %w", err)
	}
	return nil
}

func (s *Store) RemoveSessionLabel(ctx context.Context, sessionID, labelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_labels WHERE session_id = $1 AND label_id = $2`, sessionID, labelID)
	if err != nil {
		return fmt.Errorf("pg: remove session label: %w", err)
	}
	return nil
}

func (s *Store) SessionsByLabel(ctx context.Context, botID, labelName string) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.bot_id, s.identifier, s.display_name, s.platform, s.status, s.created_at, s.updated_at
		FROM sessions s
		JOIN session_labels sl ON sl.session_id = s.id
		JOIN labels l ON l.id = sl.label_id
		WHERE s.bot_id = $1 AND lower(l.name) = lower($2)`, botID, labelName)
	if err != nil {
		return nil, fmt.Errorf("pg: sessions by label: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) SessionsWithoutLabels(ctx context.Context, botID string) ([]store.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.bot_id, s.identifier, s.display_name, s.platform, s.status, s.created_at, s.updated_at
		FROM sessions s
		WHERE s.bot_id = $1
		  AND NOT EXISTS (SELECT 1 FROM session_labels sl WHERE sl.session_id = s.id)`, botID)
	if err != nil {
		return nil, fmt.Errorf("pg: sessions without labels: %w", err)
	}
	defer rows.Close()
	return scanSessions(rows)
}

func (s *Store) SessionLabelsFor(ctx context.Context, sessionID string) ([]store.Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.bot_id, l.wa_label_id, l.name
		FROM labels l
		JOIN session_labels sl ON sl.label_id = l.id
		WHERE sl.session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("pg: session labels for: %w", err)
	}
	defer rows.Close()

	var out []store.Label
	for rows.Next() {
		var l store.Label
		if err := rows.Scan(&l.ID, &l.BotID, &l.WALabelID, &l.Name); err != nil {
			return nil, fmt.Errorf("pg: scan session label: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanSessions(rows *sql.Rows) ([]store.Session, error) {
	var out []store.Session
	for rows.Next() {
		var sess store.Session
		if err := rows.Scan(&sess.ID, &sess.BotID, &sess.Identifier, &sess.DisplayName, &sess.Platform, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
