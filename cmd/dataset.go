package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KaramelBytes/churnlens/internal/churn"
	cfgpkg "github.com/KaramelBytes/churnlens/internal/config"
	"github.com/KaramelBytes/churnlens/internal/table"
)

// openSession scores path into a fresh one-shot session. modelPath, when set,
// replaces the configured artifact.
func openSession(ctx context.Context, path, modelPath string) (*churn.Service, *churn.Upload, error) {
	c, err := requireConfig()
	if err != nil {
		return nil, nil, err
	}
	local := *c
	if modelPath != "" {
		local.ModelPath = modelPath
	}
	svc := buildService(&local)
	up, err := uploadFile(ctx, svc, path)
	if err != nil {
		return nil, nil, err
	}
	return svc, up, nil
}

func uploadFile(ctx context.Context, svc *churn.Service, path string) (*churn.Upload, error) {
	if !table.Supported(path) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), table.ErrUnsupportedFormat)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return svc.Upload(ctx, path, f)
}

// configOrDefault is used by commands that only read a few settings.
func configOrDefault() *cfgpkg.Global {
	if c, err := requireConfig(); err == nil {
		return c
	}
	return &cfgpkg.Global{}
}
