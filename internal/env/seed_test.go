package environment

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"

	"kurut-provisioner/internal/inboundcfg"
	"kurut-provisioner/internal/infra/sqlite3"
	"kurut-provisioner/internal/panel"
	"kurut-provisioner/internal/storage"
	"kurut-provisioner/internal/stories/plans"
	"kurut-provisioner/internal/stories/servers"
)

const seedYAML = `
servers:
  - name: de-1
    base_url: https://de-1.example.com:2053
    public_host: de.example.com
    username: admin
    password: ${SEED_TEST_PANEL_PASSWORD}
    variant: sanaei
    reality_capable: true
plans:
  - name: monthly-reality
    params:
      protocol: vless
      transport: tcp
      security: reality
      days: 30
      volume_gib: 10
      reality:
        server_names: [www.microsoft.com]
`

func TestSeedImportIsRepeatable(t *testing.T) {
	t.Setenv("SEED_TEST_PANEL_PASSWORD", "from-env")

	seed, err := parseSeed([]byte(seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Servers, 1)
	require.Equal(t, "from-env", seed.Servers[0].Password)
	require.Equal(t, panel.VariantSanaei, seed.Servers[0].Variant)
	require.Equal(t, []string{"www.microsoft.com"}, seed.Plans[0].Params.Reality.ServerNames)

	ctx := context.Background()
	db, err := sqlite3.New(ctx, sqlite3.WithDSN(":memory:"), sqlite3.WithMaxOpenConns(1))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storage.Migrate(ctx, db.DB))

	st := storage.New(db.DB)
	targets := seedTargets{servers: servers.NewService(st), plans: plans.NewService(st)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, seed.apply(ctx, targets, logger))
	seed.Servers[0].PublicHost = "de2.example.com"
	require.NoError(t, seed.apply(ctx, targets, logger))

	list, err := targets.servers.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "de2.example.com", list[0].PublicHost)
	require.True(t, list[0].RealityCapable)

	params, err := targets.plans.GetPlan(ctx, plans.GetCriteria{Name: lo.ToPtr("monthly-reality")})
	require.NoError(t, err)
	require.Equal(t, inboundcfg.SecurityReality, params.Params.Security)
	require.Equal(t, 30, params.Params.Days)
}

func TestSeedRejectsInvalidPlan(t *testing.T) {
	seed, err := parseSeed([]byte(`
plans:
  - name: broken
    params:
      protocol: vmess
      transport: tcp
      security: reality
`))
	require.NoError(t, err)

	ctx := context.Background()
	db, err := sqlite3.New(ctx, sqlite3.WithDSN(":memory:"), sqlite3.WithMaxOpenConns(1))
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, storage.Migrate(ctx, db.DB))

	st := storage.New(db.DB)
	err = seed.apply(ctx, seedTargets{servers: servers.NewService(st), plans: plans.NewService(st)}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	require.True(t, inboundcfg.IsValidation(err))
}
