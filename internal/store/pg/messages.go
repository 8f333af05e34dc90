package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/waorchestrator/internal/store"
)

// UpsertMessage inserts msg keyed by ExternalID. created=false means a
// prior insert already won the race and this call's data was not
// applied — the caller must not treat the row as newly arrived
// (spec.md §3 invariant, §5 "atomic upsert on externalId").
func (s *Store) UpsertMessage(ctx context.Context, msg *store.Message) (*store.Message, bool, error) {
	if msg.ExternalID == "" {
		// Synthetic messages (automation) carry no externalId and are
		// always "new" — there is nothing to dedup against.
		id := uuid.NewString()
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO messages (id, session_id, external_id, sender, from_me, content, type, media_url, is_processed, created_at)
			VALUES ($1, $2, NULL, $3, $4, $5, $6, $7, false, now())`,
			id, msg.SessionID, msg.Sender, msg.FromMe, msg.Content, msg.Type, nilStr(msg.MediaURL),
		)
		if err != nil {
			return nil, false, fmt.Errorf("pg: insert synthetic message: %w", err)
		}
		msg.ID = id
		return msg, true, nil
	}

	id := uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, external_id, sender, from_me, content, type, media_url, is_processed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, now())
		ON CONFLICT (external_id) DO NOTHING`,
		id, msg.SessionID, msg.ExternalID, msg.Sender, msg.FromMe, msg.Content, msg.Type, nilStr(msg.MediaURL),
	)
	if err != nil {
		return nil, false, fmt.Errorf("pg: insert message: %w", err)
	}
	rows, _ := res.RowsAffected()

	existing, err := s.GetMessageByExternalID(ctx, "", msg.ExternalID)
	if err != nil {
		return nil, false, fmt.Errorf("pg: re-read message after upsert: %w", err)
	}
	return existing, rows == 1, nil
}

// GetMessageByExternalID looks up a message by its global externalId,
// joined through its session to confirm it belongs to botID. externalId
// is globally unique (spec.md §3), but a tool like reply_to_message
// must still "validate the quoted message belongs to the current bot"
// (spec.md §4.4) — an empty botID skips that scoping, for callers
// (UpsertMessage's own re-read) that already know the row is theirs.
func (s *Store) GetMessageByExternalID(ctx context.Context, botID, externalID string) (*store.Message, error) {
	var m store.Message
	var extID sql.NullString
	var mediaURL sql.NullString
	var err error
	if botID == "" {
		err = s.db.QueryRowContext(ctx, `
			SELECT id, session_id, external_id, sender, from_me, content, type, media_url, is_processed, created_at
			FROM messages WHERE external_id = $1`, externalID,
		).Scan(&m.ID, &m.SessionID, &extID, &m.Sender, &m.FromMe, &m.Content, &m.Type, &mediaURL, &m.IsProcessed, &m.CreatedAt)
	} else {
		err = s.db.QueryRowContext(ctx, `
			SELECT m.id, m.session_id, m.external_id, m.sender, m.from_me, m.content, m.type, m.media_url, m.is_processed, m.created_at
			FROM messages m
			JOIN sessions s ON s.id = m.session_id
			WHERE m.external_id = $1 AND s.bot_id = $2`, externalID, botID,
		).Scan(&m.ID, &m.SessionID, &extID, &m.Sender, &m.FromMe, &m.Content, &m.Type, &mediaURL, &m.IsProcessed, &m.CreatedAt)
	}
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get message by external id: %w", err)
	}
	m.ExternalID = extID.String
	m.MediaURL = mediaURL.String
	return &m, nil
}

func (s *Store) RecentInboundMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, external_id, sender, from_me, content, type, media_url, is_processed, created_at
		FROM messages
		WHERE session_id = $1 AND from_me = false
		ORDER BY created_at DESC LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("pg: recent inbound messages: %w", err)
	}
	defer rows.Close()

	var out []store.Message
	for rows.Next() {
		var m store.Message
		var extID, mediaURL sql.NullString
		if err := rows.Scan(&m.ID, &m.SessionID, &extID, &m.Sender, &m.FromMe, &m.Content, &m.Type, &mediaURL, &m.IsProcessed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan recent inbound message: %w", err)
		}
		m.ExternalID = extID.String
		m.MediaURL = mediaURL.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) LastInboundMessage(ctx context.Context, sessionID string) (*store.Message, error) {
	msgs, err := s.RecentInboundMessages(ctx, sessionID, 1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, store.ErrNotFound
	}
	return &msgs[0], nil
}
