package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"fieldline/internal/config"
	"fieldline/internal/repo"
)

// ResolveConfig returns the app config for a workspace. The database copy is
// authoritative once seeded; on first use the workspace fieldline.yml (or the
// built-in default) is loaded and stored so every later open agrees.
func ResolveConfig(ctx context.Context, r repo.Repo, workspace string) (*config.Config, error) {
	cfg, err := r.GetAppConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if err != repo.ErrNotFound {
		return nil, err
	}
	cfg, err = config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(defaultAppID(workspace))
	}
	if err := r.UpsertAppConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed app config: %w", err)
	}
	return cfg, nil
}

func defaultAppID(workspace string) string {
	if workspace == "" || workspace == "." {
		if wd, err := os.Getwd(); err == nil {
			workspace = wd
		}
	}
	if base := filepath.Base(workspace); base != "" && base != "." && base != string(filepath.Separator) {
		return base
	}
	return "fieldline"
}
