package stack

import (
	"context"

	"github.com/authzed/controller-idioms/handler"
	"github.com/authzed/controller-idioms/typedctx"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	"github.com/chazu/hasura-stack/pkg/assets"
	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/metrics"
	"github.com/chazu/hasura-stack/pkg/network"
)

// Handler keys for the assembly pipeline
const (
	ResolveNetworkID  handler.Key = "resolve-network"
	AttachEndpointsID handler.Key = "attach-endpoints"
	AccessControlID   handler.Key = "access-control"
	DataTierID        handler.Key = "data-tier"
	ResolveImageID    handler.Key = "resolve-image"
	ComputeTierID     handler.Key = "compute-tier"
	WireID            handler.Key = "wire"
	FinalizeID        handler.Key = "finalize"
)

// Context keys for values passed between pipeline stages
var (
	// CtxConfig is the defaulted, validated configuration
	CtxConfig = typedctx.NewKey[*v1alpha1.HasuraStack]()

	// CtxGraph is the graph under construction
	CtxGraph = typedctx.NewKey[*graph.Graph]()

	// CtxNetwork is the resolved network
	CtxNetwork = typedctx.NewKey[*network.Network]()

	// CtxTopology is the network with its endpoints attached
	CtxTopology = typedctx.NewKey[*NetworkTopology]()

	// CtxAccess is the database security group
	CtxAccess = typedctx.NewKey[*SecurityGroup]()

	// CtxData is the declared data tier
	CtxData = typedctx.NewKey[*DataTier]()

	// CtxImage is the resolved service image
	CtxImage = typedctx.NewKey[resolvedImage]()

	// CtxCompute is the declared compute tier
	CtxCompute = typedctx.NewKey[*ComputeTier]()

	// CtxWiring is the service to database permission
	CtxWiring = typedctx.NewKey[Permission]()

	// CtxResult receives the assembled stack or the first stage error
	CtxResult = typedctx.NewKey[*result]()
)

type resolvedImage struct {
	ref   string
	asset *assets.ImageAsset
}

type result struct {
	stack *Stack
	err   error
}

// fail records err and stops the pipeline
func fail(ctx context.Context, err error) {
	CtxResult.MustValue(ctx).err = err
}

// ResolveNetworkHandler resolves the network named by the configuration
type ResolveNetworkHandler struct {
	resolver network.Resolver
	next     handler.Handler
}

func (h *ResolveNetworkHandler) Handle(ctx context.Context) {
	spec := CtxConfig.MustValue(ctx).Spec
	net, err := ResolveNetwork(ctx, h.resolver, network.LookupCriteria{
		Account:   spec.Env.Account,
		Region:    spec.Env.Region,
		IsDefault: spec.Network.IsDefault,
		VpcID:     spec.Network.VpcID,
		VpcName:   spec.Network.VpcName,
		Tags:      spec.Network.Tags,
	})
	if err != nil {
		fail(ctx, err)
		return
	}
	log.FromContext(ctx).Info("Resolved network", "vpcId", net.ID, "subnets", len(net.Subnets))
	CtxGraph.MustValue(ctx).Metadata.Network = net.ID

	h.next.Handle(CtxNetwork.WithValue(ctx, net))
}

// ResolveNetwork returns a handler builder for network resolution
func (b *Builder) ResolveNetwork() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&ResolveNetworkHandler{
				resolver: b.resolver,
				next:     handler.Handlers(next).MustOne(),
			},
			ResolveNetworkID,
		)
	}
}

// AttachEndpointsHandler declares the private service endpoints
type AttachEndpointsHandler struct {
	next handler.Handler
}

func (h *AttachEndpointsHandler) Handle(ctx context.Context) {
	topology, err := AttachEndpoints(ctx, CtxGraph.MustValue(ctx), CtxNetwork.MustValue(ctx))
	if err != nil {
		fail(ctx, err)
		return
	}
	h.next.Handle(CtxTopology.WithValue(ctx, topology))
}

// AttachEndpoints returns a handler builder for endpoint declaration
func (b *Builder) AttachEndpoints() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&AttachEndpointsHandler{next: handler.Handlers(next).MustOne()},
			AttachEndpointsID,
		)
	}
}

// AccessControlHandler declares the database security group
type AccessControlHandler struct {
	next handler.Handler
}

func (h *AccessControlHandler) Handle(ctx context.Context) {
	cfg := CtxConfig.MustValue(ctx)
	group, err := AccessControl(ctx, CtxGraph.MustValue(ctx), CtxNetwork.MustValue(ctx), cfg.Spec.Ingress)
	if err != nil {
		fail(ctx, err)
		return
	}
	h.next.Handle(CtxAccess.WithValue(ctx, group))
}

// AccessControl returns a handler builder for the database security group
func (b *Builder) AccessControl() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&AccessControlHandler{next: handler.Handlers(next).MustOne()},
			AccessControlID,
		)
	}
}

// DataTierHandler declares the database cluster and its credential
type DataTierHandler struct {
	next handler.Handler
}

func (h *DataTierHandler) Handle(ctx context.Context) {
	data, err := DeclareDataTier(ctx, CtxGraph.MustValue(ctx), DataTierInput{
		Database: CtxConfig.MustValue(ctx).Spec.Database,
		Network:  CtxNetwork.MustValue(ctx),
		Group:    CtxAccess.MustValue(ctx),
	})
	if err != nil {
		fail(ctx, err)
		return
	}
	h.next.Handle(CtxData.WithValue(ctx, data))
}

// DataTier returns a handler builder for the data tier
func (b *Builder) DataTier() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&DataTierHandler{next: handler.Handlers(next).MustOne()},
			DataTierID,
		)
	}
}

// ResolveImageHandler picks the service image, fingerprinting a local
// build context when one is configured
type ResolveImageHandler struct {
	builder *Builder
	next    handler.Handler
}

func (h *ResolveImageHandler) Handle(ctx context.Context) {
	ref, asset, err := h.builder.resolveImage(CtxConfig.MustValue(ctx).Spec)
	if err != nil {
		fail(ctx, err)
		return
	}
	if asset != nil {
		log.FromContext(ctx).V(1).Info("Fingerprinted image build context",
			"directory", asset.Directory, "hash", asset.Hash)
	}
	h.next.Handle(CtxImage.WithValue(ctx, resolvedImage{ref: ref, asset: asset}))
}

// ResolveImage returns a handler builder for image resolution
func (b *Builder) ResolveImage() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&ResolveImageHandler{
				builder: b,
				next:    handler.Handlers(next).MustOne(),
			},
			ResolveImageID,
		)
	}
}

// ComputeTierHandler declares the container service and its load balancer
type ComputeTierHandler struct {
	next handler.Handler
}

func (h *ComputeTierHandler) Handle(ctx context.Context) {
	spec := CtxConfig.MustValue(ctx).Spec
	data := CtxData.MustValue(ctx)
	image := CtxImage.MustValue(ctx)

	compute, err := DeclareComputeTier(ctx, CtxGraph.MustValue(ctx), ComputeTierInput{
		Service:     spec.Service,
		HealthCheck: spec.HealthCheck,
		Network:     CtxNetwork.MustValue(ctx),
		Credential:  &data.Credential,
		Image:       image.ref,
		Asset:       image.asset,
	})
	if err != nil {
		fail(ctx, err)
		return
	}
	h.next.Handle(CtxCompute.WithValue(ctx, compute))
}

// ComputeTier returns a handler builder for the compute tier
func (b *Builder) ComputeTier() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&ComputeTierHandler{next: handler.Handlers(next).MustOne()},
			ComputeTierID,
		)
	}
}

// WireHandler lets the service reach the database
type WireHandler struct {
	next handler.Handler
}

func (h *WireHandler) Handle(ctx context.Context) {
	perm, err := Wire(ctx, CtxGraph.MustValue(ctx), CtxData.MustValue(ctx), CtxCompute.MustValue(ctx))
	if err != nil {
		fail(ctx, err)
		return
	}
	h.next.Handle(CtxWiring.WithValue(ctx, perm))
}

// Wire returns a handler builder for the service to database edge
func (b *Builder) Wire() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(
			&WireHandler{next: handler.Handlers(next).MustOne()},
			WireID,
		)
	}
}

// FinalizeHandler declares outputs, applies overrides and computes the
// deployment order
type FinalizeHandler struct{}

func (h *FinalizeHandler) Handle(ctx context.Context) {
	cfg := CtxConfig.MustValue(ctx)
	g := CtxGraph.MustValue(ctx)

	s := &Stack{
		Name:     cfg.Name,
		Graph:    g,
		Topology: CtxTopology.MustValue(ctx),
		Access:   CtxAccess.MustValue(ctx),
		Data:     CtxData.MustValue(ctx),
		Compute:  CtxCompute.MustValue(ctx),
		Wiring:   CtxWiring.MustValue(ctx),
	}
	if image := CtxImage.MustValue(ctx); image.asset != nil {
		s.ImageAssets = append(s.ImageAssets, *image.asset)
	}

	if err := declareOutputs(g, s); err != nil {
		fail(ctx, err)
		return
	}
	if err := g.Finalize(); err != nil {
		fail(ctx, err)
		return
	}
	if err := VerifyWiring(g, s.Wiring, s.Data.ClusterID); err != nil {
		fail(ctx, err)
		return
	}
	dag, err := graph.BuildDAG(g)
	if err != nil {
		fail(ctx, err)
		return
	}
	s.DAG = dag

	metrics.RecordGraph(g)
	log.FromContext(ctx).Info("Assembled stack graph",
		"nodes", len(g.Nodes),
		"overrides", len(g.Overrides),
		"waves", len(dag.Waves()),
		"hash", g.Metadata.RenderHash)

	CtxResult.MustValue(ctx).stack = s
}

// Finalize returns a handler builder that closes the pipeline
func (b *Builder) Finalize() handler.Builder {
	return func(next ...handler.Handler) handler.Handler {
		return handler.NewHandler(&FinalizeHandler{}, FinalizeID)
	}
}
