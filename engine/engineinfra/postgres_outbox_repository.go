package engineinfra

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/pkg/kernel"
)

// PostgresOutboxRepository hands queued outbound messages to the transport
// dispatcher. Messages are queued inside the conversation snapshot
// transaction; this repository only reads and marks them.
type PostgresOutboxRepository struct {
	db *sqlx.DB
}

var _ engine.OutboxRepository = (*PostgresOutboxRepository)(nil)

func NewPostgresOutboxRepository(db *sqlx.DB) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

type dbOutboxMessage struct {
	ID             string          `db:"id"`
	ContactID      string          `db:"contact_id"`
	ConversationID string          `db:"conversation_id"`
	Payload        json.RawMessage `db:"payload"`
	CreatedAt      time.Time       `db:"created_at"`
}

func (r *PostgresOutboxRepository) ListPending(ctx context.Context, limit int) ([]engine.OutboundMessage, error) {
	query := `
		SELECT id, contact_id, conversation_id, payload, created_at
		FROM outbox_messages
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT $1`

	var rows []dbOutboxMessage
	err := r.db.SelectContext(ctx, &rows, query, limit)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list pending outbox messages", errx.TypeInternal)
	}

	result := make([]engine.OutboundMessage, 0, len(rows))
	for _, row := range rows {
		var payload engine.MessagePayload
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return nil, errx.Wrap(err, "failed to unmarshal outbox payload", errx.TypeInternal).
				WithDetail("message_id", row.ID)
		}

		result = append(result, engine.OutboundMessage{
			ID:             kernel.MessageID(row.ID),
			ContactID:      kernel.ContactID(row.ContactID),
			ConversationID: kernel.ConversationID(row.ConversationID),
			Payload:        payload,
			CreatedAt:      row.CreatedAt,
		})
	}

	return result, nil
}

func (r *PostgresOutboxRepository) MarkDispatched(ctx context.Context, ids []kernel.MessageID) error {
	if len(ids) == 0 {
		return nil
	}

	idStrings := make([]string, len(ids))
	for i, id := range ids {
		idStrings[i] = id.String()
	}

	query := `
		UPDATE outbox_messages
		SET status = 'DISPATCHED', dispatched_at = NOW()
		WHERE id = ANY($1) AND status = 'PENDING'`

	result, err := r.db.ExecContext(ctx, query, pq.Array(idStrings))
	if err != nil {
		return errx.Wrap(err, "failed to mark outbox messages dispatched", errx.TypeInternal)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}

	if int(rowsAffected) != len(ids) {
		return errx.New(fmt.Sprintf("marked %d of %d outbox messages", rowsAffected, len(ids)), errx.TypeConflict)
	}

	return nil
}
