package servers

import (
	"context"
	"net/url"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"kurut-provisioner/internal/panel"
)

var ErrServerNotFound = errors.New("panel server not found")

type Service struct {
	storage Storage
}

func NewService(storage Storage) *Service {
	return &Service{
		storage: storage,
	}
}

func validate(server Server) error {
	if server.Name == "" {
		return errors.New("server name is required")
	}
	if !server.Variant.Valid() {
		return errors.Errorf("unknown panel variant %q", server.Variant)
	}
	u, err := url.Parse(server.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.Errorf("invalid base url for server %s", server.Name)
	}
	return nil
}

func (s *Service) CreateServer(ctx context.Context, server Server) (*Server, error) {
	if err := validate(server); err != nil {
		return nil, err
	}

	created, err := s.storage.CreateServer(ctx, server)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create server in storage")
	}

	return created, nil
}

func (s *Service) GetServer(ctx context.Context, criteria GetCriteria) (*Server, error) {
	server, err := s.storage.GetServer(ctx, criteria)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get server from storage")
	}

	return server, nil
}

func (s *Service) ListServers(ctx context.Context, criteria ListCriteria) ([]*Server, error) {
	servers, err := s.storage.ListServers(ctx, criteria)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list servers from storage")
	}

	return servers, nil
}

// ListActive returns every non-archived server.
func (s *Service) ListActive(ctx context.Context) ([]*Server, error) {
	return s.ListServers(ctx, ListCriteria{Archived: lo.ToPtr(false)})
}

func (s *Service) UpdateServer(ctx context.Context, criteria GetCriteria, params UpdateParams) (*Server, error) {
	if params.Variant != nil && !params.Variant.Valid() {
		return nil, errors.Errorf("unknown panel variant %q", *params.Variant)
	}

	updated, err := s.storage.UpdateServer(ctx, criteria, params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update server in storage")
	}

	return updated, nil
}

func (s *Service) ArchiveServer(ctx context.Context, serverID int64) (*Server, error) {
	updated, err := s.storage.UpdateServer(ctx, GetCriteria{ID: &serverID}, UpdateParams{Archived: lo.ToPtr(true)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to archive server")
	}

	return updated, nil
}

func (s *Service) UnarchiveServer(ctx context.Context, serverID int64) (*Server, error) {
	updated, err := s.storage.UpdateServer(ctx, GetCriteria{ID: &serverID}, UpdateParams{Archived: lo.ToPtr(false)})
	if err != nil {
		return nil, errors.Wrap(err, "failed to unarchive server")
	}

	return updated, nil
}

// UpsertByName creates the server or overwrites the stored one with the
// same name. Used by the seed import.
func (s *Service) UpsertByName(ctx context.Context, server Server) (*Server, error) {
	if err := validate(server); err != nil {
		return nil, err
	}

	existing, err := s.storage.GetServer(ctx, GetCriteria{Name: &server.Name})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get server from storage")
	}
	if existing == nil {
		return s.CreateServer(ctx, server)
	}

	return s.UpdateServer(ctx, GetCriteria{ID: &existing.ID}, UpdateParams{
		BaseURL:        &server.BaseURL,
		PublicHost:     &server.PublicHost,
		Username:       &server.Username,
		Password:       &server.Password,
		Variant:        &server.Variant,
		RealityCapable: &server.RealityCapable,
		TLSInsecure:    &server.TLSInsecure,
	})
}

// Panel resolves an active server into its connection view.
func (s *Service) Panel(ctx context.Context, serverID int64) (panel.Server, error) {
	server, err := s.GetServer(ctx, GetCriteria{ID: &serverID, Archived: lo.ToPtr(false)})
	if err != nil {
		return panel.Server{}, err
	}
	if server == nil {
		return panel.Server{}, errors.Wrapf(ErrServerNotFound, "server %d", serverID)
	}
	return server.Panel(), nil
}
