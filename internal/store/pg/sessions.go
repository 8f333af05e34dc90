package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// GetOrCreateSession is idempotent under the unique (bot_id,identifier)
// key (spec.md §3): a second concurrent creator loses the
// ON CONFLICT DO NOTHING race and re-reads the row a prior caller
// already committed, grounded on the teacher's
// internal/store/pg/sessions.go GetOrCreate/loadFromDB pair.
func (s *Store) GetOrCreateSession(ctx context.Context, botID, identifier, displayName, platform string) (*store.Session, error) {
	if sess, err := s.getSessionByKey(ctx, botID, identifier); err == nil {
		return sess, nil
	} else if err != store.ErrNotFound {
		return nil, err
	}

	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, bot_id, identifier, display_name, platform, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'ACTIVE', now(), now())
		ON CONFLICT (bot_id, identifier) DO NOTHING`,
		id, botID, identifier, displayName, platform,
	)
	if err != nil {
		return nil, fmt.Errorf("pg: insert session: %w", err)
	}

	sess, err := s.getSessionByKey(ctx, botID, identifier)
	if err != nil {
		return nil, fmt.Errorf("pg: re-read session after insert race: %w", err)
	}
	return sess, nil
}

func (s *Store) getSessionByKey(ctx context.Context, botID, identifier string) (*store.Session, error) {
	var sess store.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, identifier, display_name, platform, status, created_at, updated_at
		FROM sessions WHERE bot_id = $1 AND identifier = $2`, botID, identifier,
	).Scan(&sess.ID, &sess.BotID, &sess.Identifier, &sess.DisplayName, &sess.Platform, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get session by key: %w", err)
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*store.Session, error) {
	var sess store.Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, identifier, display_name, platform, status, created_at, updated_at
		FROM sessions WHERE id = $1`, sessionID,
	).Scan(&sess.ID, &sess.BotID, &sess.Identifier, &sess.DisplayName, &sess.Platform, &sess.Status, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get session: %w", err)
	}
	return &sess, nil
}
