package stack

import (
	"context"
	"errors"

	"github.com/authzed/controller-idioms/handler"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/network"
)

// mockHandler is a simple handler for testing
type mockHandler struct {
	handleFunc func(ctx context.Context)
}

func (m *mockHandler) Handle(ctx context.Context) {
	if m.handleFunc != nil {
		m.handleFunc(ctx)
	}
}

// stageContext seeds the values every stage expects
func stageContext() (context.Context, *result) {
	cfg := testConfig()
	res := &result{}
	ctx := CtxResult.WithValue(context.Background(), res)
	ctx = CtxConfig.WithValue(ctx, cfg)
	ctx = CtxGraph.WithValue(ctx, graph.New(cfg.Name, testAccount, testRegion))
	return ctx, res
}

var _ = Describe("Pipeline", func() {
	It("passes the resolved network to the next stage", func() {
		ctx, res := stageContext()

		var got *network.Network
		h := &ResolveNetworkHandler{
			resolver: cachedResolver(),
			next: handler.NewHandler(&mockHandler{
				handleFunc: func(ctx context.Context) {
					got = CtxNetwork.MustValue(ctx)
				},
			}, "mock"),
		}
		h.Handle(ctx)

		Expect(res.err).NotTo(HaveOccurred())
		Expect(got).NotTo(BeNil())
		Expect(got.ID).To(Equal(testVpcID))
		Expect(CtxGraph.MustValue(ctx).Metadata.Network).To(Equal(testVpcID))
	})

	It("stops at the first failing stage", func() {
		ctx, res := stageContext()

		nextCalled := false
		h := &ResolveNetworkHandler{
			resolver: network.NewContextFile(),
			next: handler.NewHandler(&mockHandler{
				handleFunc: func(context.Context) { nextCalled = true },
			}, "mock"),
		}
		h.Handle(ctx)

		Expect(nextCalled).To(BeFalse())
		var lookupErr *network.LookupError
		Expect(errors.As(res.err, &lookupErr)).To(BeTrue())
	})

	It("hands the access group to the data tier", func() {
		ctx, res := stageContext()
		ctx = CtxNetwork.WithValue(ctx, defaultNetwork())

		var data *DataTier
		chain := handler.Chain(
			func(next ...handler.Handler) handler.Handler {
				return handler.NewHandler(&AccessControlHandler{next: handler.Handlers(next).MustOne()}, AccessControlID)
			},
			func(next ...handler.Handler) handler.Handler {
				return handler.NewHandler(&DataTierHandler{next: handler.Handlers(next).MustOne()}, DataTierID)
			},
			func(...handler.Handler) handler.Handler {
				return handler.NewHandler(&mockHandler{
					handleFunc: func(ctx context.Context) { data = CtxData.MustValue(ctx) },
				}, "mock")
			},
		).Handler("partial")
		chain.Handle(ctx)

		Expect(res.err).NotTo(HaveOccurred())
		Expect(data).NotTo(BeNil())
		Expect(data.Group.ID).To(Equal(DatabaseSecurityGroupID))
		_, found := CtxGraph.MustValue(ctx).Node(data.ClusterID)
		Expect(found).To(BeTrue())
	})

	It("leaves no stack behind when a stage fails", func() {
		b := NewBuilder(network.NewContextFile())
		s, err := b.Build(context.Background(), testConfig())
		Expect(err).To(HaveOccurred())
		Expect(s).To(BeNil())
	})
})
