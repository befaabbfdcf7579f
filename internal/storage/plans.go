package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"

	"kurut-provisioner/internal/stories/plans"
)

const plansTable = "plans"

var planRowFields = fields(planRow{})

type planRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Params    string    `db:"params"`
	Archived  bool      `db:"archived"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (p planRow) ToModel() (*plans.Plan, error) {
	plan := &plans.Plan{
		ID:        p.ID,
		Name:      p.Name,
		Archived:  p.Archived,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(p.Params), &plan.Params); err != nil {
		return nil, fmt.Errorf("decode plan %d params: %w", p.ID, err)
	}
	return plan, nil
}

func (s *storageImpl) CreatePlan(ctx context.Context, plan plans.Plan) (*plans.Plan, error) {
	encoded, err := json.Marshal(plan.Params)
	if err != nil {
		return nil, fmt.Errorf("encode plan params: %w", err)
	}

	q, args, err := s.stmpBuilder().
		Insert(plansTable).
		SetMap(map[string]interface{}{
			"name":       plan.Name,
			"params":     string(encoded),
			"archived":   plan.Archived,
			"created_at": s.now(),
			"updated_at": s.now(),
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("result.LastInsertId: %w", err)
	}

	return s.GetPlan(ctx, plans.GetCriteria{ID: &id})
}

func (s *storageImpl) GetPlan(ctx context.Context, criteria plans.GetCriteria) (*plans.Plan, error) {
	query := s.stmpBuilder().
		Select(planRowFields).
		From(plansTable).
		Limit(1)

	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.Name != nil {
		query = query.Where(sq.Eq{"name": *criteria.Name})
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var row planRow
	if err := s.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return row.ToModel()
}

func (s *storageImpl) ListPlans(ctx context.Context, criteria plans.ListCriteria) ([]*plans.Plan, error) {
	query := s.stmpBuilder().
		Select(planRowFields).
		From(plansTable).
		OrderBy("id ASC")

	if criteria.Archived != nil {
		query = query.Where(sq.Eq{"archived": *criteria.Archived})
	}
	if criteria.Limit > 0 {
		query = query.Limit(uint64(criteria.Limit))
	}
	if criteria.Offset > 0 {
		query = query.Offset(uint64(criteria.Offset))
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []planRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*plans.Plan, 0, len(rows))
	for _, row := range rows {
		plan, err := row.ToModel()
		if err != nil {
			return nil, err
		}
		result = append(result, plan)
	}
	return result, nil
}

func (s *storageImpl) UpdatePlan(ctx context.Context, criteria plans.GetCriteria, params plans.UpdateParams) (*plans.Plan, error) {
	query := s.stmpBuilder().
		Update(plansTable).
		Set("updated_at", s.now())

	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.Name != nil {
		query = query.Where(sq.Eq{"name": *criteria.Name})
	}

	if params.Name != nil {
		query = query.Set("name", *params.Name)
	}
	if params.Params != nil {
		encoded, err := json.Marshal(params.Params)
		if err != nil {
			return nil, fmt.Errorf("encode plan params: %w", err)
		}
		query = query.Set("params", string(encoded))
	}
	if params.Archived != nil {
		query = query.Set("archived", *params.Archived)
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	if params.Name != nil && criteria.ID == nil {
		criteria.Name = params.Name
	}
	return s.GetPlan(ctx, criteria)
}
