package plans

import (
	"time"

	"kurut-provisioner/internal/inboundcfg"
)

// Plan is a named set of provisioning parameters.
type Plan struct {
	ID        int64
	Name      string
	Params    inboundcfg.PlanParams
	Archived  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Критерии для получения плана
type GetCriteria struct {
	ID   *int64
	Name *string
}

// Критерии для списка планов
type ListCriteria struct {
	Archived *bool
	Limit    int
	Offset   int
}

// Параметры для обновления плана
type UpdateParams struct {
	Name     *string
	Params   *inboundcfg.PlanParams
	Archived *bool
}
