package app

import (
	"context"
	"errors"
	"fmt"

	"gigboard/internal/config"
	"gigboard/internal/repo"
)

// DefaultMarketplaceName seeds fresh workspaces that have no config yet.
const DefaultMarketplaceName = "campus"

// ResolveConfig returns the marketplace config, seeding the database copy if
// missing. The database is authoritative; a gigboard.yml in the workspace is
// imported once on first use, otherwise the built-in defaults apply.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetMarketplaceConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", config.Path(workspace), err)
	}
	if seed == nil {
		seed = config.Default(DefaultMarketplaceName)
	}
	if err := r.UpsertMarketplaceConfig(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed marketplace config: %w", err)
	}
	return seed, nil
}

// ImportConfig validates a config file and stores it as the authoritative
// marketplace document.
func ImportConfig(ctx context.Context, path string, r repo.Repo) (*config.Config, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	if err := r.UpsertMarketplaceConfig(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
