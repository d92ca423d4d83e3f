package engineinfra

import (
	"context"
	"time"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/jmoiron/sqlx"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/pkg/kernel"
)

// PostgresTrailRepository reads the transition trail. Rows are written only
// by the conversation snapshot transaction; this repository never mutates.
type PostgresTrailRepository struct {
	db *sqlx.DB
}

var _ engine.TrailRepository = (*PostgresTrailRepository)(nil)

func NewPostgresTrailRepository(db *sqlx.DB) *PostgresTrailRepository {
	return &PostgresTrailRepository{db: db}
}

func (r *PostgresTrailRepository) ListByConversation(ctx context.Context, id kernel.ConversationID) ([]engine.TrailEntry, error) {
	query := `
		SELECT
			id, conversation_id, flow_id, from_step_id, to_step_id,
			transition_id, created_at
		FROM transition_trail
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`

	var entries []engine.TrailEntry
	err := r.db.SelectContext(ctx, &entries, query, id.String())
	if err != nil {
		return nil, errx.Wrap(err, "failed to list trail entries", errx.TypeInternal).
			WithDetail("conversation_id", id.String())
	}

	return entries, nil
}

func (r *PostgresTrailRepository) CountByFlowSince(ctx context.Context, flowID kernel.FlowID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM transition_trail
		WHERE flow_id = $1 AND created_at >= $2`

	var count int
	err := r.db.GetContext(ctx, &count, query, flowID.String(), since)
	if err != nil {
		return 0, errx.Wrap(err, "failed to count trail entries", errx.TypeInternal).
			WithDetail("flow_id", flowID.String())
	}

	return count, nil
}
