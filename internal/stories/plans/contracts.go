package plans

import "context"

type (
	Storage interface {
		CreatePlan(ctx context.Context, plan Plan) (*Plan, error)
		GetPlan(ctx context.Context, criteria GetCriteria) (*Plan, error)
		UpdatePlan(ctx context.Context, criteria GetCriteria, params UpdateParams) (*Plan, error)
		ListPlans(ctx context.Context, criteria ListCriteria) ([]*Plan, error)
	}
)
