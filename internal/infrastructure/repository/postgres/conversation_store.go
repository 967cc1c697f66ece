package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kirillkom/docqa-assistant/internal/core/domain"
)

// ConversationStore persists conversation state snapshots beyond the
// in-memory cache TTL.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (r *ConversationStore) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082402)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS conversation_snapshots (
	snapshot_id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	state JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_conversation
	ON conversation_snapshots(conversation_id, captured_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// SaveSnapshot is idempotent on snapshot ID so queue redeliveries are safe.
func (r *ConversationStore) SaveSnapshot(ctx context.Context, snapshot domain.StateSnapshot) error {
	stateJSON, err := json.Marshal(snapshot.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO conversation_snapshots (snapshot_id, conversation_id, state, captured_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (snapshot_id) DO NOTHING
`, snapshot.SnapshotID, snapshot.State.ConversationID, stateJSON, snapshot.CapturedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (r *ConversationStore) LoadLatest(ctx context.Context, conversationID string) (*domain.ConversationState, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT state
FROM conversation_snapshots
WHERE conversation_id = $1
ORDER BY captured_at DESC
LIMIT 1
`, conversationID)

	var stateJSON []byte
	if err := row.Scan(&stateJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrConversationNotFound, "load latest snapshot", err)
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal(stateJSON, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}
