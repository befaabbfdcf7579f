package environment

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/stories/plans"
	"kurut-provisioner/internal/stories/servers"
)

// Seed is the operator file declaring panels and plans. ${VAR} references
// are expanded from the environment before parsing, so passwords can stay
// out of the file.
type Seed struct {
	Servers []SeedServer `yaml:"servers"`
	Plans   []SeedPlan   `yaml:"plans"`
}

type SeedServer struct {
	Name           string        `yaml:"name"`
	BaseURL        string        `yaml:"base_url"`
	PublicHost     string        `yaml:"public_host"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Variant        panel.Variant `yaml:"variant"`
	RealityCapable bool          `yaml:"reality_capable"`
	TLSInsecure    bool          `yaml:"tls_insecure"`
}

type SeedPlan struct {
	Name   string                `yaml:"name"`
	Params inboundcfg.PlanParams `yaml:"params"`
}

func parseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return &seed, nil
}

type seedTargets struct {
	servers *servers.Service
	plans   *plans.Service
}

func importSeed(ctx context.Context, path string, services *Services, logger *slog.Logger) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	seed, err := parseSeed(data)
	if err != nil {
		return err
	}
	return seed.apply(ctx, seedTargets{servers: services.Servers, plans: services.Plans}, logger)
}

func (s *Seed) apply(ctx context.Context, t seedTargets, logger *slog.Logger) error {
	for _, srv := range s.Servers {
		stored, err := t.servers.UpsertByName(ctx, servers.Server{
			Name:           srv.Name,
			BaseURL:        srv.BaseURL,
			PublicHost:     srv.PublicHost,
			Username:       srv.Username,
			Password:       srv.Password,
			Variant:        srv.Variant,
			RealityCapable: srv.RealityCapable,
			TLSInsecure:    srv.TLSInsecure,
		})
		if err != nil {
			return fmt.Errorf("server %q: %w", srv.Name, err)
		}
		logger.Info("Seeded panel server", "name", stored.Name, "id", stored.ID, "variant", stored.Variant)
	}

	for _, p := range s.Plans {
		stored, err := t.plans.UpsertByName(ctx, plans.Plan{Name: p.Name, Params: p.Params})
		if err != nil {
			return fmt.Errorf("plan %q: %w", p.Name, err)
		}
		logger.Info("Seeded plan", "name", stored.Name, "id", stored.ID)
	}
	return nil
}
