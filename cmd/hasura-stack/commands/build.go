package commands

import (
	"context"
	"fmt"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	"github.com/chazu/hasura-stack/pkg/network"
	"github.com/chazu/hasura-stack/pkg/stack"
	"github.com/chazu/hasura-stack/pkg/stackloader"
)

// loadConfig reads and validates the stack configuration
func loadConfig(opts *globalOptions) (*v1alpha1.HasuraStack, error) {
	cfg, err := stackloader.NewLoader().LoadFile(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", opts.configPath, err)
	}
	return cfg, nil
}

// buildStack assembles the stack from cached network lookups only
func buildStack(ctx context.Context, opts *globalOptions) (*stack.Stack, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	cache, err := network.LoadContextFile(opts.contextPath)
	if err != nil {
		return nil, err
	}

	return stack.NewBuilder(cache).Build(ctx, cfg)
}
