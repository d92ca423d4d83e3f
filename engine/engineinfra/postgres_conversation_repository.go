package engineinfra

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/Abraxas-365/craftable/storex"
	"github.com/jmoiron/sqlx"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/pkg/kernel"
)

type PostgresConversationRepository struct {
	db *sqlx.DB
}

var _ engine.ConversationRepository = (*PostgresConversationRepository)(nil)

func NewPostgresConversationRepository(db *sqlx.DB) *PostgresConversationRepository {
	return &PostgresConversationRepository{db: db}
}

// dbConversation is an intermediate struct for database operations
type dbConversation struct {
	ID            string          `db:"id"`
	ContactID     string          `db:"contact_id"`
	FlowID        string          `db:"flow_id"`
	CurrentStepID string          `db:"current_step_id"`
	Variables     json.RawMessage `db:"variables"`
	Status        string          `db:"status"`
	PendingReply  json.RawMessage `db:"pending_reply"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
	CompletedAt   *time.Time      `db:"completed_at"`
}

// toDBConversation converts domain Conversation to dbConversation
func toDBConversation(conv engine.Conversation) (*dbConversation, error) {
	variablesJSON, err := json.Marshal(conv.Variables)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variables: %w", err)
	}

	var pendingJSON json.RawMessage
	if conv.PendingReply != nil {
		pendingJSON, err = json.Marshal(conv.PendingReply)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pending reply: %w", err)
		}
	}

	return &dbConversation{
		ID:            conv.ID.String(),
		ContactID:     conv.ContactID.String(),
		FlowID:        conv.FlowID.String(),
		CurrentStepID: conv.CurrentStepID.String(),
		Variables:     variablesJSON,
		Status:        string(conv.Status),
		PendingReply:  pendingJSON,
		CreatedAt:     conv.CreatedAt,
		UpdatedAt:     conv.UpdatedAt,
		CompletedAt:   conv.CompletedAt,
	}, nil
}

// toDomainConversation converts dbConversation to domain Conversation
func toDomainConversation(dbConv *dbConversation) (*engine.Conversation, error) {
	var variables engine.Variables
	if len(dbConv.Variables) > 0 {
		if err := json.Unmarshal(dbConv.Variables, &variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	} else {
		variables = engine.NewVariables()
	}

	var pending *engine.PendingReply
	if len(dbConv.PendingReply) > 0 && string(dbConv.PendingReply) != "null" {
		pending = &engine.PendingReply{}
		if err := json.Unmarshal(dbConv.PendingReply, pending); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pending reply: %w", err)
		}
	}

	return &engine.Conversation{
		ID:            kernel.ConversationID(dbConv.ID),
		ContactID:     kernel.ContactID(dbConv.ContactID),
		FlowID:        kernel.FlowID(dbConv.FlowID),
		CurrentStepID: kernel.StepID(dbConv.CurrentStepID),
		Variables:     variables,
		Status:        engine.ConversationStatus(dbConv.Status),
		PendingReply:  pending,
		CreatedAt:     dbConv.CreatedAt,
		UpdatedAt:     dbConv.UpdatedAt,
		CompletedAt:   dbConv.CompletedAt,
	}, nil
}

const conversationColumns = `
	id, contact_id, flow_id, current_step_id, variables,
	status, pending_reply, created_at, updated_at, completed_at`

func (r *PostgresConversationRepository) FindByID(ctx context.Context, id kernel.ConversationID) (*engine.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE id = $1`, conversationColumns)

	var dbConv dbConversation
	err := r.db.GetContext(ctx, &dbConv, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, engine.ErrConversationNotFound().WithDetail("conversation_id", id.String())
		}
		return nil, errx.Wrap(err, "failed to find conversation by id", errx.TypeInternal).
			WithDetail("conversation_id", id.String())
	}

	return toDomainConversation(&dbConv)
}

func (r *PostgresConversationRepository) FindOpenByContact(ctx context.Context, contactID kernel.ContactID) (*engine.Conversation, error) {
	// Completed conversations are never resumed; a contact has at most one
	// open conversation at a time.
	query := fmt.Sprintf(`
		SELECT %s FROM conversations
		WHERE contact_id = $1 AND status != 'COMPLETED'
		ORDER BY updated_at DESC
		LIMIT 1`, conversationColumns)

	var dbConv dbConversation
	err := r.db.GetContext(ctx, &dbConv, query, contactID.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, engine.ErrConversationNotFound().WithDetail("contact_id", contactID.String())
		}
		return nil, errx.Wrap(err, "failed to find open conversation", errx.TypeInternal).
			WithDetail("contact_id", contactID.String())
	}

	return toDomainConversation(&dbConv)
}

func (r *PostgresConversationRepository) FindAwaitingReplyBefore(ctx context.Context, cutoff time.Time, limit int) ([]*engine.Conversation, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM conversations
		WHERE status = 'ACTIVE'
			AND pending_reply IS NOT NULL
			AND (pending_reply->>'asked_at')::timestamptz < $1
		ORDER BY updated_at ASC
		LIMIT $2`, conversationColumns)

	var dbConvs []dbConversation
	err := r.db.SelectContext(ctx, &dbConvs, query, cutoff, limit)
	if err != nil {
		return nil, errx.Wrap(err, "failed to find conversations awaiting reply", errx.TypeInternal)
	}

	result := make([]*engine.Conversation, 0, len(dbConvs))
	for i := range dbConvs {
		conv, err := toDomainConversation(&dbConvs[i])
		if err != nil {
			return nil, errx.Wrap(err, "failed to convert conversation", errx.TypeInternal)
		}
		result = append(result, conv)
	}

	return result, nil
}

// SaveSnapshot commits one event's outcome atomically: the conversation
// upsert, the new trail entries and the queued outbound messages share a
// transaction, so a crash mid-event leaves the prior snapshot intact.
func (r *PostgresConversationRepository) SaveSnapshot(ctx context.Context, conv engine.Conversation, trail []engine.TrailEntry, outbound []engine.OutboundMessage) error {
	dbConv, err := toDBConversation(conv)
	if err != nil {
		return errx.Wrap(err, "failed to convert conversation", errx.TypeInternal).
			WithDetail("conversation_id", conv.ID.String())
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin snapshot transaction", errx.TypeInternal)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO conversations (
			id, contact_id, flow_id, current_step_id, variables,
			status, pending_reply, created_at, updated_at, completed_at
		) VALUES (
			:id, :contact_id, :flow_id, :current_step_id, :variables,
			:status, :pending_reply, :created_at, :updated_at, :completed_at
		)
		ON CONFLICT (id) DO UPDATE SET
			current_step_id = EXCLUDED.current_step_id,
			variables = EXCLUDED.variables,
			status = EXCLUDED.status,
			pending_reply = EXCLUDED.pending_reply,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at`

	if _, err := tx.NamedExecContext(ctx, upsert, dbConv); err != nil {
		return errx.Wrap(err, "failed to upsert conversation", errx.TypeInternal).
			WithDetail("conversation_id", conv.ID.String())
	}

	trailInsert := `
		INSERT INTO transition_trail (
			id, conversation_id, flow_id, from_step_id, to_step_id,
			transition_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, entry := range trail {
		_, err := tx.ExecContext(ctx, trailInsert,
			entry.ID,
			entry.ConversationID.String(),
			entry.FlowID.String(),
			entry.FromStepID.String(),
			entry.ToStepID.String(),
			entry.TransitionID.String(),
			entry.Timestamp,
		)
		if err != nil {
			return errx.Wrap(err, "failed to append trail entry", errx.TypeInternal).
				WithDetail("conversation_id", conv.ID.String())
		}
	}

	outboxInsert := `
		INSERT INTO outbox_messages (
			id, contact_id, conversation_id, payload, status, created_at
		) VALUES ($1, $2, $3, $4, 'PENDING', $5)`

	for _, msg := range outbound {
		payloadJSON, err := json.Marshal(msg.Payload)
		if err != nil {
			return errx.Wrap(err, "failed to marshal outbound payload", errx.TypeInternal).
				WithDetail("message_id", msg.ID.String())
		}

		_, err = tx.ExecContext(ctx, outboxInsert,
			msg.ID.String(),
			msg.ContactID.String(),
			msg.ConversationID.String(),
			payloadJSON,
			msg.CreatedAt,
		)
		if err != nil {
			return errx.Wrap(err, "failed to queue outbound message", errx.TypeInternal).
				WithDetail("message_id", msg.ID.String())
		}
	}

	if err := tx.Commit(); err != nil {
		return errx.Wrap(err, "failed to commit snapshot", errx.TypeInternal).
			WithDetail("conversation_id", conv.ID.String())
	}

	return nil
}

func (r *PostgresConversationRepository) Save(ctx context.Context, conv engine.Conversation) error {
	return r.SaveSnapshot(ctx, conv, nil, nil)
}

func (r *PostgresConversationRepository) List(ctx context.Context, req engine.ConversationListRequest) (engine.ConversationListResponse, error) {
	var conditions []string
	var args []any
	argPos := 1

	conditions = append(conditions, "TRUE")

	if !req.FlowID.IsEmpty() {
		conditions = append(conditions, fmt.Sprintf("flow_id = $%d", argPos))
		args = append(args, req.FlowID.String())
		argPos++
	}

	if req.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(req.Status))
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM conversations WHERE %s", whereClause)
	var total int
	err := r.db.GetContext(ctx, &total, countQuery, args...)
	if err != nil {
		return engine.ConversationListResponse{}, errx.Wrap(err, "failed to count conversations", errx.TypeInternal)
	}

	dataQuery := fmt.Sprintf(`
		SELECT %s FROM conversations
		WHERE %s
		ORDER BY updated_at DESC
		LIMIT $%d OFFSET $%d`,
		conversationColumns, whereClause, argPos, argPos+1)

	args = append(args, req.PageSize, req.GetOffset())

	var dbConvs []dbConversation
	err = r.db.SelectContext(ctx, &dbConvs, dataQuery, args...)
	if err != nil {
		return engine.ConversationListResponse{}, errx.Wrap(err, "failed to list conversations", errx.TypeInternal)
	}

	conversations := make([]engine.Conversation, 0, len(dbConvs))
	for i := range dbConvs {
		conv, err := toDomainConversation(&dbConvs[i])
		if err != nil {
			return engine.ConversationListResponse{}, errx.Wrap(err, "failed to convert conversation", errx.TypeInternal)
		}
		conversations = append(conversations, *conv)
	}

	return storex.NewPaginated(conversations, total, req.Page, req.PageSize), nil
}
