package engineinfra

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Abraxas-365/craftable/errx"
	"github.com/Abraxas-365/craftable/storex"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kanalhq/kanal/engine"
	"github.com/kanalhq/kanal/pkg/kernel"
)

type PostgresFlowRepository struct {
	db *sqlx.DB
}

var _ engine.FlowRepository = (*PostgresFlowRepository)(nil)

func NewPostgresFlowRepository(db *sqlx.DB) *PostgresFlowRepository {
	return &PostgresFlowRepository{db: db}
}

// dbFlow is an intermediate struct for database operations
type dbFlow struct {
	ID              string          `db:"id"`
	Name            string          `db:"name"`
	Description     string          `db:"description"`
	IsActive        bool            `db:"is_active"`
	TriggerKeywords pq.StringArray  `db:"trigger_keywords"`
	Steps           json.RawMessage `db:"steps"`
	Transitions     json.RawMessage `db:"transitions"`
	CreatedAt       string          `db:"created_at"`
	UpdatedAt       string          `db:"updated_at"`
}

// toDBFlow converts domain Flow to dbFlow
func toDBFlow(flow engine.Flow) (*dbFlow, error) {
	stepsJSON := []byte("[]")
	if len(flow.Steps) > 0 {
		var err error
		stepsJSON, err = json.Marshal(flow.Steps)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal steps: %w", err)
		}
	}

	transitionsJSON := []byte("[]")
	if len(flow.Transitions) > 0 {
		var err error
		transitionsJSON, err = json.Marshal(flow.Transitions)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal transitions: %w", err)
		}
	}

	return &dbFlow{
		ID:              flow.ID.String(),
		Name:            flow.Name,
		Description:     flow.Description,
		IsActive:        flow.IsActive,
		TriggerKeywords: pq.StringArray(flow.TriggerKeywords),
		Steps:           stepsJSON,
		Transitions:     transitionsJSON,
		CreatedAt:       flow.CreatedAt.Format("2006-01-02 15:04:05.999999"),
		UpdatedAt:       flow.UpdatedAt.Format("2006-01-02 15:04:05.999999"),
	}, nil
}

// toDomainFlow converts dbFlow to domain Flow
func toDomainFlow(dbF *dbFlow) (*engine.Flow, error) {
	var steps []engine.Step
	if len(dbF.Steps) > 0 && string(dbF.Steps) != "null" {
		if err := json.Unmarshal(dbF.Steps, &steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal steps: %w", err)
		}
	}

	var transitions []engine.Transition
	if len(dbF.Transitions) > 0 && string(dbF.Transitions) != "null" {
		if err := json.Unmarshal(dbF.Transitions, &transitions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transitions: %w", err)
		}
	}

	return &engine.Flow{
		ID:              kernel.FlowID(dbF.ID),
		Name:            dbF.Name,
		Description:     dbF.Description,
		IsActive:        dbF.IsActive,
		TriggerKeywords: []string(dbF.TriggerKeywords),
		Steps:           steps,
		Transitions:     transitions,
	}, nil
}

func (r *PostgresFlowRepository) Save(ctx context.Context, flow engine.Flow) error {
	exists, err := r.flowExists(ctx, flow.ID)
	if err != nil {
		return errx.Wrap(err, "failed to check flow existence", errx.TypeInternal)
	}

	if exists {
		return r.update(ctx, flow)
	}
	return r.create(ctx, flow)
}

func (r *PostgresFlowRepository) create(ctx context.Context, flow engine.Flow) error {
	dbF, err := toDBFlow(flow)
	if err != nil {
		return errx.Wrap(err, "failed to convert flow", errx.TypeInternal).
			WithDetail("flow_id", flow.ID.String())
	}

	query := `
		INSERT INTO flows (
			id, name, description, is_active, trigger_keywords,
			steps, transitions, created_at, updated_at
		) VALUES (
			:id, :name, :description, :is_active, :trigger_keywords,
			:steps, :transitions, :created_at, :updated_at
		)`

	_, err = r.db.NamedExecContext(ctx, query, dbF)
	if err != nil {
		return errx.Wrap(err, "failed to create flow", errx.TypeInternal).
			WithDetail("flow_id", flow.ID.String())
	}

	return nil
}

func (r *PostgresFlowRepository) update(ctx context.Context, flow engine.Flow) error {
	dbF, err := toDBFlow(flow)
	if err != nil {
		return errx.Wrap(err, "failed to convert flow", errx.TypeInternal).
			WithDetail("flow_id", flow.ID.String())
	}

	query := `
		UPDATE flows SET
			name = :name,
			description = :description,
			is_active = :is_active,
			trigger_keywords = :trigger_keywords,
			steps = :steps,
			transitions = :transitions,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, dbF)
	if err != nil {
		return errx.Wrap(err, "failed to update flow", errx.TypeInternal).
			WithDetail("flow_id", flow.ID.String())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}

	if rowsAffected == 0 {
		return engine.ErrFlowNotFound().WithDetail("flow_id", flow.ID.String())
	}

	return nil
}

func (r *PostgresFlowRepository) FindByID(ctx context.Context, id kernel.FlowID) (*engine.Flow, error) {
	query := `
		SELECT
			id, name, description, is_active, trigger_keywords,
			steps, transitions, created_at, updated_at
		FROM flows
		WHERE id = $1`

	var dbF dbFlow
	err := r.db.GetContext(ctx, &dbF, query, id.String())
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, engine.ErrFlowNotFound().WithDetail("flow_id", id.String())
		}
		return nil, errx.Wrap(err, "failed to find flow by id", errx.TypeInternal).
			WithDetail("flow_id", id.String())
	}

	return toDomainFlow(&dbF)
}

func (r *PostgresFlowRepository) FindActive(ctx context.Context) ([]*engine.Flow, error) {
	query := `
		SELECT
			id, name, description, is_active, trigger_keywords,
			steps, transitions, created_at, updated_at
		FROM flows
		WHERE is_active = true
		ORDER BY name ASC`

	var dbFlows []dbFlow
	err := r.db.SelectContext(ctx, &dbFlows, query)
	if err != nil {
		return nil, errx.Wrap(err, "failed to find active flows", errx.TypeInternal)
	}

	result := make([]*engine.Flow, 0, len(dbFlows))
	for i := range dbFlows {
		flow, err := toDomainFlow(&dbFlows[i])
		if err != nil {
			return nil, errx.Wrap(err, "failed to convert flow", errx.TypeInternal)
		}
		result = append(result, flow)
	}

	return result, nil
}

func (r *PostgresFlowRepository) List(ctx context.Context, req engine.FlowListRequest) (engine.FlowListResponse, error) {
	var conditions []string
	var args []any
	argPos := 1

	conditions = append(conditions, "TRUE")

	if req.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", argPos))
		args = append(args, *req.IsActive)
		argPos++
	}

	if req.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", argPos, argPos+1))
		searchPattern := "%" + req.Search + "%"
		args = append(args, searchPattern, searchPattern)
		argPos += 2
	}

	whereClause := strings.Join(conditions, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM flows WHERE %s", whereClause)
	var total int
	err := r.db.GetContext(ctx, &total, countQuery, args...)
	if err != nil {
		return engine.FlowListResponse{}, errx.Wrap(err, "failed to count flows", errx.TypeInternal)
	}

	dataQuery := fmt.Sprintf(`
		SELECT
			id, name, description, is_active, trigger_keywords,
			steps, transitions, created_at, updated_at
		FROM flows
		WHERE %s
		ORDER BY name ASC
		LIMIT $%d OFFSET $%d`,
		whereClause, argPos, argPos+1)

	args = append(args, req.PageSize, req.GetOffset())

	var dbFlows []dbFlow
	err = r.db.SelectContext(ctx, &dbFlows, dataQuery, args...)
	if err != nil {
		return engine.FlowListResponse{}, errx.Wrap(err, "failed to list flows", errx.TypeInternal)
	}

	flows := make([]engine.Flow, 0, len(dbFlows))
	for i := range dbFlows {
		flow, err := toDomainFlow(&dbFlows[i])
		if err != nil {
			return engine.FlowListResponse{}, errx.Wrap(err, "failed to convert flow", errx.TypeInternal)
		}
		flows = append(flows, *flow)
	}

	return storex.NewPaginated(flows, total, req.Page, req.PageSize), nil
}

func (r *PostgresFlowRepository) Delete(ctx context.Context, id kernel.FlowID) error {
	query := `DELETE FROM flows WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete flow", errx.TypeInternal).
			WithDetail("flow_id", id.String())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errx.Wrap(err, "failed to get rows affected", errx.TypeInternal)
	}

	if rowsAffected == 0 {
		return engine.ErrFlowNotFound().WithDetail("flow_id", id.String())
	}

	return nil
}

func (r *PostgresFlowRepository) flowExists(ctx context.Context, id kernel.FlowID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM flows WHERE id = $1)`

	var exists bool
	err := r.db.GetContext(ctx, &exists, query, id.String())
	if err != nil {
		return false, errx.Wrap(err, "failed to check flow existence", errx.TypeInternal)
	}

	return exists, nil
}
