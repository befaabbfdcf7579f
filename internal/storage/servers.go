package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/stories/servers"
)

const serversTable = "panel_servers"

var serverRowFields = fields(serverRow{})

type serverRow struct {
	ID             int64     `db:"id"`
	Name           string    `db:"name"`
	BaseURL        string    `db:"base_url"`
	PublicHost     string    `db:"public_host"`
	Username       string    `db:"username"`
	Password       string    `db:"password"`
	Variant        string    `db:"variant"`
	RealityCapable bool      `db:"reality_capable"`
	TLSInsecure    bool      `db:"tls_insecure"`
	Archived       bool      `db:"archived"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (s serverRow) ToModel() *servers.Server {
	return &servers.Server{
		ID:             s.ID,
		Name:           s.Name,
		BaseURL:        s.BaseURL,
		PublicHost:     s.PublicHost,
		Username:       s.Username,
		Password:       s.Password,
		Variant:        panel.Variant(s.Variant),
		RealityCapable: s.RealityCapable,
		TLSInsecure:    s.TLSInsecure,
		Archived:       s.Archived,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func (s *storageImpl) CreateServer(ctx context.Context, server servers.Server) (*servers.Server, error) {
	params := map[string]interface{}{
		"name":            server.Name,
		"base_url":        server.BaseURL,
		"public_host":     server.PublicHost,
		"username":        server.Username,
		"password":        server.Password,
		"variant":         string(server.Variant),
		"reality_capable": server.RealityCapable,
		"tls_insecure":    server.TLSInsecure,
		"archived":        server.Archived,
		"created_at":      s.now(),
		"updated_at":      s.now(),
	}

	q, args, err := s.stmpBuilder().
		Insert(serversTable).
		SetMap(params).
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

	return s.GetServer(ctx, servers.GetCriteria{ID: &id})
}

func (s *storageImpl) GetServer(ctx context.Context, criteria servers.GetCriteria) (*servers.Server, error) {
	query := s.stmpBuilder().
		Select(serverRowFields).
		From(serversTable).
		Limit(1)

	if criteria.ID != nil {
		query = query.Where(sq.Eq{"id": *criteria.ID})
	}
	if criteria.Name != nil {
		query = query.Where(sq.Eq{"name": *criteria.Name})
	}
	if criteria.Archived != nil {
		query = query.Where(sq.Eq{"archived": *criteria.Archived})
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var srv serverRow
	err = s.db.GetContext(ctx, &srv, q, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.GetContext: %w", err)
	}

	return srv.ToModel(), nil
}

func (s *storageImpl) ListServers(ctx context.Context, criteria servers.ListCriteria) ([]*servers.Server, error) {
	query := s.stmpBuilder().
		Select(serverRowFields).
		From(serversTable)

	if criteria.Archived != nil {
		query = query.Where(sq.Eq{"archived": *criteria.Archived})
	}
	if criteria.Variant != nil {
		query = query.Where(sq.Eq{"variant": string(*criteria.Variant)})
	}

	if criteria.Limit > 0 {
		query = query.Limit(uint64(criteria.Limit))
	}
	if criteria.Offset > 0 {
		query = query.Offset(uint64(criteria.Offset))
	}

	query = query.OrderBy("id ASC")

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	var rows []serverRow
	err = s.db.SelectContext(ctx, &rows, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.SelectContext: %w", err)
	}

	result := make([]*servers.Server, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.ToModel())
	}

	return result, nil
}

func (s *storageImpl) UpdateServer(ctx context.Context, criteria servers.GetCriteria, params servers.UpdateParams) (*servers.Server, error) {
	query := s.stmpBuilder().
		Update(serversTable).
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
	if params.BaseURL != nil {
		query = query.Set("base_url", *params.BaseURL)
	}
	if params.PublicHost != nil {
		query = query.Set("public_host", *params.PublicHost)
	}
	if params.Username != nil {
		query = query.Set("username", *params.Username)
	}
	if params.Password != nil {
		query = query.Set("password", *params.Password)
	}
	if params.Variant != nil {
		query = query.Set("variant", string(*params.Variant))
	}
	if params.RealityCapable != nil {
		query = query.Set("reality_capable", *params.RealityCapable)
	}
	if params.TLSInsecure != nil {
		query = query.Set("tls_insecure", *params.TLSInsecure)
	}
	if params.Archived != nil {
		query = query.Set("archived", *params.Archived)
	}

	q, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build sql query: %w", err)
	}

	_, err = s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("db.ExecContext: %w", err)
	}

	// архивный флаг мог измениться, поэтому перечитываем только по id/name
	reread := servers.GetCriteria{ID: criteria.ID, Name: criteria.Name}
	if params.Name != nil && criteria.ID == nil {
		reread.Name = params.Name
	}
	return s.GetServer(ctx, reread)
}
