package stack

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/network"
)

// declareTiers runs every stage before Wiring against a fresh graph
func declareTiers(ctx context.Context) (*graph.Graph, *DataTier, *ComputeTier) {
	cfg := testConfig()
	g := graph.New(cfg.Name, testAccount, testRegion)
	net := defaultNetwork()

	_, err := AttachEndpoints(ctx, g, net)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	access, err := AccessControl(ctx, g, net, cfg.Spec.Ingress)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	data, err := DeclareDataTier(ctx, g, DataTierInput{Database: cfg.Spec.Database, Network: net, Group: access})
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	compute, err := DeclareComputeTier(ctx, g, ComputeTierInput{
		Service:     cfg.Spec.Service,
		HealthCheck: cfg.Spec.HealthCheck,
		Network:     net,
		Credential:  &data.Credential,
		Image:       cfg.Spec.Service.Image.URI,
	})
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	return g, data, compute
}

var _ = Describe("Stages", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("Wiring", func() {
		It("Should reject a port that differs from the cluster's declared port", func() {
			g, data, compute := declareTiers(ctx)
			data.Port = 5433

			_, err := Wire(ctx, g, data, compute)
			var werr *graph.WiringError
			Expect(errors.As(err, &werr)).To(BeTrue())
			Expect(werr.Target).To(Equal(DatabaseClusterID))
			_, found := g.Node(DatabaseFromServiceID)
			Expect(found).To(BeFalse())
		})

		It("Should reject wiring before both tiers exist", func() {
			g, data, _ := declareTiers(ctx)

			_, err := Wire(ctx, g, data, nil)
			var werr *graph.WiringError
			Expect(errors.As(err, &werr)).To(BeTrue())
		})

		It("Should detect an override that moves the cluster port", func() {
			g, data, compute := declareTiers(ctx)
			perm, err := Wire(ctx, g, data, compute)
			Expect(err).NotTo(HaveOccurred())
			Expect(VerifyWiring(g, perm, data.ClusterID)).To(Succeed())

			Expect(g.AddOverride(graph.RawOverride{
				Target: DatabaseClusterID,
				Path:   "Properties",
				Patch:  map[string]interface{}{"Port": int64(6543)},
			})).To(Succeed())
			Expect(g.Finalize()).To(Succeed())

			err = VerifyWiring(g, perm, data.ClusterID)
			var werr *graph.WiringError
			Expect(errors.As(err, &werr)).To(BeTrue())
			Expect(werr.Error()).To(ContainSubstring("6543"))
		})
	})

	Context("AccessControl", func() {
		It("Should require a resolved network", func() {
			g := graph.New("test", testAccount, testRegion)
			_, err := AccessControl(ctx, g, nil, nil)
			var werr *graph.WiringError
			Expect(errors.As(err, &werr)).To(BeTrue())
		})

		It("Should allow all outbound traffic and nothing inbound by default", func() {
			g := graph.New("test", testAccount, testRegion)
			sg, err := AccessControl(ctx, g, defaultNetwork(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(sg.Ingress).To(BeEmpty())

			props := nodeProperties(g, DatabaseSecurityGroupID)
			Expect(props).NotTo(HaveKey("SecurityGroupIngress"))
			Expect(props["SecurityGroupEgress"]).To(ConsistOf(HaveKeyWithValue("IpProtocol", "-1")))
		})

		It("Should reject a permission from an undeclared group", func() {
			g := graph.New("test", testAccount, testRegion)
			dest, err := AccessControl(ctx, g, defaultNetwork(), nil)
			Expect(err).NotTo(HaveOccurred())

			ghost := &SecurityGroup{ID: "GhostSecurityGroup", NetworkID: testVpcID}
			_, err = allowFrom(g, "DbFromGhost", dest, ghost, "tcp", 5432, "")
			var werr *graph.WiringError
			Expect(errors.As(err, &werr)).To(BeTrue())
			Expect(werr.Target).To(Equal("GhostSecurityGroup"))
		})
	})

	Context("NetworkTopology", func() {
		It("Should prefer private subnets for interface endpoints", func() {
			net := defaultNetwork()
			net.Subnets = append(net.Subnets,
				network.Subnet{ID: "subnet-0ppp", AvailabilityZone: "us-east-2a", RouteTableID: "rtb-0priv", Type: network.SubnetTypePrivate})

			g := graph.New("test", testAccount, testRegion)
			_, err := AttachEndpoints(ctx, g, net)
			Expect(err).NotTo(HaveOccurred())

			props := nodeProperties(g, "SSMInterfaceEndpoint")
			Expect(props["SubnetIds"]).To(Equal([]interface{}{"subnet-0ppp"}))
			Expect(nodeProperties(g, "S3GatewayEndpoint")["RouteTableIds"]).To(Equal([]interface{}{"rtb-0main", "rtb-0priv"}))
		})

		It("Should fail with a LookupError without a resolver", func() {
			_, err := ResolveNetwork(ctx, nil, defaultCriteria())
			var lerr *network.LookupError
			Expect(errors.As(err, &lerr)).To(BeTrue())
		})
	})

	Context("ComputeTier", func() {
		It("Should require a credential for secret environment", func() {
			cfg := testConfig()
			g := graph.New("test", testAccount, testRegion)

			_, err := DeclareComputeTier(ctx, g, ComputeTierInput{
				Service:     cfg.Spec.Service,
				HealthCheck: cfg.Spec.HealthCheck,
				Network:     defaultNetwork(),
				Image:       cfg.Spec.Service.Image.URI,
			})
			var werr *graph.WiringError
			Expect(errors.As(err, &werr)).To(BeTrue())
		})

		It("Should bind the admin secret without a database credential", func() {
			cfg := testConfig()
			cfg.Spec.Service.Secrets = map[string]string{"HASURA_GRAPHQL_ADMIN_SECRET": AdminSecretSource}

			g := graph.New("test", testAccount, testRegion)
			tier, err := DeclareComputeTier(ctx, g, ComputeTierInput{
				Service:     cfg.Spec.Service,
				HealthCheck: cfg.Spec.HealthCheck,
				Network:     defaultNetwork(),
				Image:       cfg.Spec.Service.Image.URI,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(tier.Secrets).To(Equal([]SecretBinding{{Name: "HASURA_GRAPHQL_ADMIN_SECRET", SecretID: ServiceAdminSecretID}}))
			Expect(tier.Secrets[0].ValueFrom()).To(Equal(graph.Ref(ServiceAdminSecretID)))

			props := nodeProperties(g, ServiceAdminSecretID)
			Expect(props["GenerateSecretString"]).To(HaveKeyWithValue("PasswordLength", int64(32)))
		})

		It("Should omit logging when disabled", func() {
			cfg := testConfig()
			disabled := false
			cfg.Spec.Service.EnableLogging = &disabled
			cfg.Spec.Service.Secrets = nil

			g := graph.New("test", testAccount, testRegion)
			tier, err := DeclareComputeTier(ctx, g, ComputeTierInput{
				Service:     cfg.Spec.Service,
				HealthCheck: cfg.Spec.HealthCheck,
				Network:     defaultNetwork(),
				Image:       cfg.Spec.Service.Image.URI,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(tier.Secrets).To(BeEmpty())

			_, found := g.Node(ServiceLogGroupID)
			Expect(found).To(BeFalse())
			_, found = g.Node(ServiceExecutionPolicyID)
			Expect(found).To(BeFalse())
			Expect(serviceContainer(g)).NotTo(HaveKey("LogConfiguration"))
		})
	})

	Context("DataTier", func() {
		It("Should render capacity bounds as decimal strings", func() {
			Expect(ScalingBounds{Min: 0.5, Max: 1}.Patch()).To(Equal(map[string]interface{}{
				"MinCapacity": "0.5",
				"MaxCapacity": "1",
			}))
			Expect(ScalingBounds{Min: 2, Max: 16.5}.Patch()).To(Equal(map[string]interface{}{
				"MinCapacity": "2",
				"MaxCapacity": "16.5",
			}))
		})

		It("Should accept equal bounds", func() {
			Expect(ScalingBounds{Min: 1, Max: 1}.Validate()).To(Succeed())
		})

		It("Should expose credential fields as symbolic references", func() {
			cred := Credential{SecretID: DatabaseSecretAttachmentID}
			for _, f := range []string{"host", "port", "username", "password"} {
				field, err := ParseCredentialField(f)
				Expect(err).NotTo(HaveOccurred())
				Expect(graph.IsSymbolic(cred.FieldRef(field))).To(BeTrue())
			}
			_, err := ParseCredentialField("engine")
			Expect(err).To(HaveOccurred())
		})
	})
})
