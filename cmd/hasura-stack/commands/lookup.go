package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/hasura-stack/pkg/network"
)

// Lookup returns the command that resolves the configured network against
// the provider and records it in the context file.
//
// Optional flags:
//
//	--refresh: Query the provider even when the context file has an entry
func Lookup(opts *globalOptions) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Resolve the configured network and cache it in the context file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logger := log.FromContext(ctx)

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			criteria := network.LookupCriteria{
				Account:   cfg.Spec.Env.Account,
				Region:    cfg.Spec.Env.Region,
				IsDefault: cfg.Spec.Network.IsDefault,
				VpcID:     cfg.Spec.Network.VpcID,
				VpcName:   cfg.Spec.Network.VpcName,
				Tags:      cfg.Spec.Network.Tags,
			}

			cache, err := network.LoadContextFile(opts.contextPath)
			if err != nil {
				return err
			}
			upstream, err := network.NewEC2ResolverForRegion(ctx, criteria.Region)
			if err != nil {
				return err
			}

			var resolver network.Resolver = &network.CachingResolver{Cache: cache, Upstream: upstream}
			if refresh {
				resolver = upstream
			}
			net, err := resolver.LookupNetwork(ctx, criteria)
			if err != nil {
				return err
			}
			if refresh {
				cache.Set(criteria.Key(), net)
			}

			if cache.Dirty() {
				if err := cache.Save(opts.contextPath); err != nil {
					return err
				}
				logger.Info("Updated context file", "path", opts.contextPath, "key", criteria.Key())
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", net.ID, net.CIDR)
			for _, s := range net.Subnets {
				fmt.Fprintf(out, "  %-24s %-12s %-8s %s\n", s.ID, s.AvailabilityZone, s.Type, s.CIDR)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Query the provider even when the network is cached")

	return cmd
}
