package plans

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"kurut-provisioner/internal/inboundcfg"
)

var ErrPlanNotFound = errors.New("plan not found")

// Service provides business logic for plan operations
type Service struct {
	storage Storage
}

func NewService(storage Storage) *Service {
	return &Service{
		storage: storage,
	}
}

func (s *Service) CreatePlan(ctx context.Context, plan Plan) (*Plan, error) {
	if plan.Name == "" {
		return nil, errors.New("plan name is required")
	}
	if err := plan.Params.Validate(); err != nil {
		return nil, err
	}

	created, err := s.storage.CreatePlan(ctx, plan)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create plan in storage")
	}
	return created, nil
}

func (s *Service) GetPlan(ctx context.Context, criteria GetCriteria) (*Plan, error) {
	plan, err := s.storage.GetPlan(ctx, criteria)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get plan from storage")
	}
	return plan, nil
}

func (s *Service) GetActivePlans(ctx context.Context) ([]*Plan, error) {
	plans, err := s.storage.ListPlans(ctx, ListCriteria{Archived: lo.ToPtr(false), Limit: 100})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list plans from storage")
	}
	return plans, nil
}

func (s *Service) UpdatePlan(ctx context.Context, criteria GetCriteria, params UpdateParams) (*Plan, error) {
	if params.Params != nil {
		if err := params.Params.Validate(); err != nil {
			return nil, err
		}
	}

	updated, err := s.storage.UpdatePlan(ctx, criteria, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update plan in storage")
	}
	return updated, nil
}

func (s *Service) ArchivePlan(ctx context.Context, planID int64) (*Plan, error) {
	return s.UpdatePlan(ctx, GetCriteria{ID: lo.ToPtr(planID)}, UpdateParams{Archived: lo.ToPtr(true)})
}

// UpsertByName creates the plan or replaces the parameters of the stored one
// with the same name.
func (s *Service) UpsertByName(ctx context.Context, plan Plan) (*Plan, error) {
	existing, err := s.GetPlan(ctx, GetCriteria{Name: &plan.Name})
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return s.CreatePlan(ctx, plan)
	}
	return s.UpdatePlan(ctx, GetCriteria{ID: &existing.ID}, UpdateParams{Params: &plan.Params, Archived: lo.ToPtr(false)})
}

// Params returns the provisioning parameters of an active plan.
func (s *Service) Params(ctx context.Context, planID int64) (inboundcfg.PlanParams, error) {
	plan, err := s.GetPlan(ctx, GetCriteria{ID: &planID})
	if err != nil {
		return inboundcfg.PlanParams{}, err
	}
	if plan == nil || plan.Archived {
		return inboundcfg.PlanParams{}, errors.Wrapf(ErrPlanNotFound, "plan %d", planID)
	}
	return plan.Params, nil
}
