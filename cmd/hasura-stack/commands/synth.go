package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/hasura-stack/pkg/artifact"
	"github.com/chazu/hasura-stack/pkg/metrics"
)

// DefaultOutputDir receives synthesized bundles
const DefaultOutputDir = "stack.out"

// Synth returns the command that assembles the graph and writes the bundle.
//
// Optional flags:
//
//	--output, -o: Directory to write the bundle to (default: stack.out)
//	--publish: s3://bucket/prefix to upload the bundle to
//	--metrics-file: Path to write synthesis metrics in the Prometheus text format
func Synth(opts *globalOptions) *cobra.Command {
	var (
		outputDir   string
		publishURI  string
		metricsFile string
	)

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Assemble the resource graph and write the deployment bundle",
		Long: `Assemble the resource graph and write the deployment bundle.

The network is resolved from the context file only. Run 'hasura-stack lookup'
first to populate it.

Examples:
  # Write the bundle to stack.out
  hasura-stack synth -c hasura-stack.yaml

  # Write and publish the bundle
  hasura-stack synth --publish s3://my-artifacts/stacks`,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			logger := log.FromContext(ctx)

			if metricsFile != "" {
				defer func() {
					if werr := metrics.WriteTextfile(metricsFile); werr != nil {
						logger.Error(werr, "Failed to write metrics file", "path", metricsFile)
					}
				}()
			}

			var loc artifact.Location
			if publishURI != "" {
				if loc, err = artifact.ParseLocation(publishURI); err != nil {
					return err
				}
			}

			start := time.Now()
			s, err := buildStack(ctx, opts)
			if err != nil {
				return err
			}

			bundle, err := artifact.Encode(s)
			if err != nil {
				return err
			}
			previous, err := artifact.ReadManifest(outputDir)
			if err != nil {
				return err
			}
			if previous != nil && !s.Graph.HasChanged(previous.RenderHash) {
				logger.Info("Graph unchanged since last synth", "hash", previous.RenderHash)
			}
			paths, err := bundle.WriteDir(outputDir)
			if err != nil {
				return err
			}
			logger.Info("Wrote bundle", "dir", outputDir, "files", len(paths), "duration", time.Since(start).String())

			if publishURI != "" {
				publisher, err := artifact.NewPublisherForRegion(ctx, s.Graph.Metadata.Region)
				if err != nil {
					return err
				}
				if _, err := publisher.Publish(ctx, bundle, loc); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d resources, hash %s\n",
				s.Name, len(s.Graph.Nodes), s.Graph.Metadata.RenderHash)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", DefaultOutputDir, "Directory to write the bundle to")
	cmd.Flags().StringVar(&publishURI, "publish", "", "Upload the bundle to s3://bucket/prefix")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write synthesis metrics to this file")

	return cmd
}
