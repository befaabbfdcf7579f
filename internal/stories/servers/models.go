package servers

import (
	"time"

	"kurut-provisioner/internal/panel"
)

type Server struct {
	ID             int64
	Name           string
	BaseURL        string
	PublicHost     string
	Username       string
	Password       string
	Variant        panel.Variant
	RealityCapable bool
	TLSInsecure    bool
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Panel returns the connection view the panel package works with.
func (s Server) Panel() panel.Server {
	return panel.Server{
		ID:             s.ID,
		Name:           s.Name,
		BaseURL:        s.BaseURL,
		PublicHost:     s.PublicHost,
		Username:       s.Username,
		Password:       s.Password,
		Variant:        s.Variant,
		RealityCapable: s.RealityCapable,
		TLSInsecure:    s.TLSInsecure,
	}
}

// GetCriteria - критерии для получения сервера
type GetCriteria struct {
	ID       *int64
	Name     *string
	Archived *bool
}

// ListCriteria - критерии для списка серверов
type ListCriteria struct {
	Archived *bool
	Variant  *panel.Variant
	Limit    int
	Offset   int
}

// UpdateParams - параметры для обновления сервера
type UpdateParams struct {
	Name           *string
	BaseURL        *string
	PublicHost     *string
	Username       *string
	Password       *string
	Variant        *panel.Variant
	RealityCapable *bool
	TLSInsecure    *bool
	Archived       *bool
}
