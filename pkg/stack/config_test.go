package stack

import (
	"context"
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/stackloader"
)

const loadedStack = `
apiVersion: stack.hasura.example.com/v1alpha1
kind: HasuraStack
metadata:
  name: HasuraStack
spec:
  env:
    account: "123456789012"
    region: us-east-2
  network:
    isDefault: true
  database:
    minCapacity: 0
  service:
    image:
      uri: hasura/graphql-engine:v2.33.0
    desiredCount: 0
  healthCheck: {}
`

var _ = Describe("Loaded configuration", func() {
	var (
		ctx     context.Context
		builder *Builder
		loader  *stackloader.Loader
	)

	BeforeEach(func() {
		ctx = context.Background()
		builder = NewBuilder(cachedResolver())
		loader = stackloader.NewLoader()
	})

	load := func(doc string) *v1alpha1.HasuraStack {
		cfg, err := loader.Load([]byte(doc))
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return cfg
	}

	It("Should keep an explicit zero desired count and minimum capacity", func() {
		cfg := load(loadedStack)
		Expect(*cfg.Spec.Service.DesiredCount).To(BeZero())
		Expect(*cfg.Spec.Database.MinCapacity).To(BeZero())

		stack, err := builder.Build(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		Expect(nodeProperties(stack.Graph, ServiceID)["DesiredCount"]).To(Equal(int64(0)))
		Expect(stack.Data.Scaling).To(Equal(ScalingBounds{Min: 0, Max: 1}))
		Expect(nodeProperties(stack.Graph, DatabaseClusterID)["ServerlessV2ScalingConfiguration"]).To(Equal(
			map[string]interface{}{"MinCapacity": "0", "MaxCapacity": "1"}))
	})

	It("Should fall back to the defaults when the knobs are omitted", func() {
		doc := strings.Replace(loadedStack, "    minCapacity: 0\n", "    instances: 1\n", 1)
		doc = strings.Replace(doc, "    desiredCount: 0\n", "", 1)

		stack, err := builder.Build(ctx, load(doc))
		Expect(err).NotTo(HaveOccurred())
		Expect(nodeProperties(stack.Graph, ServiceID)["DesiredCount"]).To(Equal(int64(1)))
		Expect(stack.Data.Scaling.Min).To(Equal(0.5))
	})

	It("Should reject an explicit empty list of healthy codes", func() {
		doc := strings.Replace(loadedStack, "  healthCheck: {}", "  healthCheck:\n    healthyHttpCodes: []", 1)
		cfg := load(doc)
		Expect(cfg.Spec.HealthCheck.HealthyHTTPCodes).NotTo(BeNil())
		Expect(cfg.Spec.HealthCheck.HealthyHTTPCodes).To(BeEmpty())

		stack, err := builder.Build(ctx, cfg)
		Expect(stack).To(BeNil())

		var verr *graph.ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue(), "expected ValidationError, got %v", err)
		Expect(verr.Field).To(Equal("spec.healthCheck.healthyHttpCodes"))
	})
})
