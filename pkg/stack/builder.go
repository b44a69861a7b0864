package stack

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/authzed/controller-idioms/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	"github.com/chazu/hasura-stack/pkg/assets"
	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/metrics"
	"github.com/chazu/hasura-stack/pkg/network"
)

// ImageAssetID is the logical name of a locally built service image
const ImageAssetID = "HasuraGraphqlEngineImage"

// Output names
const (
	OutputLoadBalancerDNS = "HasuraServiceLoadBalancerDNS"
	OutputServiceURL      = "HasuraServiceServiceURL"
	OutputSecretArn       = "DatabaseSecretArn"
	OutputAdminSecretArn  = "HasuraAdminSecretArn"
)

// Stack is a finalized graph together with the handles each stage produced
type Stack struct {
	Name        string              `json:"name"`
	Graph       *graph.Graph        `json:"graph"`
	DAG         *graph.DAG          `json:"-"`
	Topology    *NetworkTopology    `json:"topology"`
	Access      *SecurityGroup      `json:"access"`
	Data        *DataTier           `json:"data"`
	Compute     *ComputeTier        `json:"compute"`
	Wiring      Permission          `json:"wiring"`
	ImageAssets []assets.ImageAsset `json:"imageAssets,omitempty"`
}

// Option configures a Builder
type Option func(*Builder)

// WithAssetFS sets how image build contexts are opened
func WithAssetFS(open func(dir string) fs.FS) Option {
	return func(b *Builder) {
		b.openFS = open
	}
}

// Builder assembles stacks by running the configuration through a chain of
// stage handlers
type Builder struct {
	resolver network.Resolver
	openFS   func(dir string) fs.FS
	pipeline handler.Handler
}

// NewBuilder creates a builder that resolves networks with resolver
func NewBuilder(resolver network.Resolver, opts ...Option) *Builder {
	b := &Builder{
		resolver: resolver,
		openFS:   os.DirFS,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.pipeline = handler.Chain(
		b.ResolveNetwork(),
		b.AttachEndpoints(),
		b.AccessControl(),
		b.DataTier(),
		b.ResolveImage(),
		b.ComputeTier(),
		b.Wire(),
		b.Finalize(),
	).Handler("stack-assembly")
	return b
}

// Build assembles and finalizes the graph for cfg. It returns either a
// finalized stack or an error; cfg is not modified.
func (b *Builder) Build(ctx context.Context, cfg *v1alpha1.HasuraStack) (stack *Stack, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordSynth(err, time.Since(start).Seconds())
	}()

	if cfg == nil {
		return nil, &graph.ValidationError{Message: "configuration is required"}
	}
	cfg = cfg.DeepCopy()
	cfg.SetDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	ctx = log.IntoContext(ctx, log.FromContext(ctx).WithValues("stack", cfg.Name))

	res := &result{}
	ctx = CtxResult.WithValue(ctx, res)
	ctx = CtxConfig.WithValue(ctx, cfg)
	ctx = CtxGraph.WithValue(ctx, graph.New(cfg.Name, cfg.Spec.Env.Account, cfg.Spec.Env.Region))

	b.pipeline.Handle(ctx)

	if res.err != nil {
		return nil, res.err
	}
	if res.stack == nil {
		return nil, fmt.Errorf("assembly of %s stopped without a result", cfg.Name)
	}
	return res.stack, nil
}

// resolveImage returns a literal image reference, or fingerprints the build
// context and returns its content-addressed reference
func (b *Builder) resolveImage(spec v1alpha1.HasuraStackSpec) (string, *assets.ImageAsset, error) {
	img := spec.Service.Image
	if img.URI != "" {
		return img.URI, nil, nil
	}

	asset, err := assets.NewImageAsset(ImageAssetID, img.Directory, img.Platform,
		spec.Env.Account, spec.Env.Region, b.openFS(img.Directory))
	if err != nil {
		return "", nil, &graph.ValidationError{Field: "spec.service.image.directory", Message: err.Error()}
	}
	return asset.URI, asset, nil
}

func declareOutputs(g *graph.Graph, s *Stack) error {
	dns := graph.GetAtt(s.Compute.LoadBalancerID, "DNSName")
	if err := g.SetOutput(OutputLoadBalancerDNS, dns, "DNS name of the service load balancer"); err != nil {
		return err
	}
	if err := g.SetOutput(OutputServiceURL, graph.Join("", "http://", graph.GetAtt(s.Compute.LoadBalancerID, "DNSName")), "URL of the GraphQL service"); err != nil {
		return err
	}
	if err := g.SetOutput(OutputSecretArn, graph.Ref(s.Data.Credential.SecretID), "ARN of the generated database credential"); err != nil {
		return err
	}
	if s.Compute.AdminSecretID != "" {
		return g.SetOutput(OutputAdminSecretArn, graph.Ref(s.Compute.AdminSecretID), "ARN of the generated GraphQL admin secret")
	}
	return nil
}
