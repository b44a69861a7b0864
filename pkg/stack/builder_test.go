package stack

import (
	"context"
	"errors"
	"io/fs"
	"testing/fstest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/utils/ptr"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/network"
)

func nodeProperties(g *graph.Graph, id string) map[string]interface{} {
	node, found := g.Node(id)
	ExpectWithOffset(1, found).To(BeTrue(), "node %s should exist", id)
	props, found, err := unstructured.NestedMap(node.Object, "Properties")
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	ExpectWithOffset(1, found).To(BeTrue())
	return props
}

func serviceContainer(g *graph.Graph) map[string]interface{} {
	props := nodeProperties(g, ServiceTaskDefinitionID)
	defs, ok := props["ContainerDefinitions"].([]interface{})
	ExpectWithOffset(1, ok).To(BeTrue())
	ExpectWithOffset(1, defs).To(HaveLen(1))
	return defs[0].(map[string]interface{})
}

func nodesOfType(g *graph.Graph, typ string) []graph.Node {
	var out []graph.Node
	for _, n := range g.Nodes {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

var _ = Describe("Builder", func() {
	var (
		ctx     context.Context
		builder *Builder
		cfg     *v1alpha1.HasuraStack
	)

	BeforeEach(func() {
		ctx = context.Background()
		builder = NewBuilder(cachedResolver())
		cfg = testConfig()
	})

	Context("When building from the default configuration", func() {
		var stack *Stack

		BeforeEach(func() {
			var err error
			stack, err = builder.Build(ctx, cfg)
			Expect(err).NotTo(HaveOccurred())
		})

		It("Should return a finalized graph", func() {
			Expect(stack.Graph.Finalized()).To(BeTrue())
			Expect(stack.Graph.Metadata.RenderHash).NotTo(BeEmpty())
			Expect(stack.DAG.Size()).To(Equal(len(stack.Graph.Nodes)))
		})

		It("Should attach the fixed endpoint set", func() {
			Expect(stack.Topology.Network.ID).To(Equal(testVpcID))
			Expect(stack.Topology.Endpoints).To(HaveLen(6))

			var services []string
			for _, ep := range stack.Topology.Endpoints {
				services = append(services, ep.ServiceName)
				if ep.Kind == EndpointGateway {
					Expect(ep.Group).To(BeNil())
				} else {
					Expect(ep.Group).NotTo(BeNil())
					Expect(ep.Group.Ingress).To(ConsistOf(HaveField("Port", int32(443))))
				}
			}
			Expect(services).To(ConsistOf(
				"com.amazonaws.us-east-2.s3",
				"com.amazonaws.us-east-2.ecr.api",
				"com.amazonaws.us-east-2.ecr.dkr",
				"com.amazonaws.us-east-2.secretsmanager",
				"com.amazonaws.us-east-2.ssm",
				"com.amazonaws.us-east-2.logs",
			))

			gateway := nodeProperties(stack.Graph, "S3GatewayEndpoint")
			Expect(gateway["RouteTableIds"]).To(Equal([]interface{}{"rtb-0main"}))

			iface := nodeProperties(stack.Graph, "ECRInterfaceEndpoint")
			Expect(iface["SubnetIds"]).To(HaveLen(3))
			Expect(iface["PrivateDnsEnabled"]).To(BeTrue())
		})

		It("Should place every security group in the resolved network", func() {
			groups := nodesOfType(stack.Graph, TypeSecurityGroup)
			Expect(groups).NotTo(BeEmpty())
			for _, n := range groups {
				vpc, found, err := unstructured.NestedString(n.Object, "Properties", "VpcId")
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeTrue(), "group %s should name its network", n.ID)
				Expect(vpc).To(Equal(stack.Topology.Network.ID))
			}

			for _, sg := range []*SecurityGroup{stack.Access, stack.Compute.Group, stack.Compute.LoadBalancer} {
				Expect(sg.NetworkID).To(Equal(testVpcID))
			}
		})

		It("Should record the resolved network in the graph metadata", func() {
			Expect(stack.Graph.Metadata.Network).To(Equal(testVpcID))
			Expect(stack.Graph.Validate()).To(Succeed())
		})

		It("Should produce exactly one permission for the ingress rule", func() {
			var fromCIDR []Permission
			for _, p := range stack.Access.Ingress {
				if p.Source.CIDR != "" {
					fromCIDR = append(fromCIDR, p)
				}
			}
			Expect(fromCIDR).To(Equal([]Permission{{
				ID:          DatabaseSecurityGroupID,
				Source:      Peer{CIDR: "73.219.135.83/32"},
				Destination: DatabaseSecurityGroupID,
				Protocol:    "tcp",
				Port:        5432,
				Description: "allow inbound traffic from home to the db on port 5432",
			}}))

			props := nodeProperties(stack.Graph, DatabaseSecurityGroupID)
			Expect(props["SecurityGroupIngress"]).To(Equal([]interface{}{
				map[string]interface{}{
					"CidrIp":      "73.219.135.83/32",
					"IpProtocol":  "tcp",
					"FromPort":    int64(5432),
					"ToPort":      int64(5432),
					"Description": "allow inbound traffic from home to the db on port 5432",
				},
			}))
		})

		It("Should apply the scaling override to the cluster node once", func() {
			want := map[string]interface{}{"MinCapacity": "0.5", "MaxCapacity": "1"}

			var recorded []graph.RawOverride
			for _, o := range stack.Graph.Overrides {
				if o.Target == DatabaseClusterID {
					recorded = append(recorded, o)
				}
			}
			Expect(recorded).To(HaveLen(1))
			Expect(recorded[0].Path).To(Equal(ScalingOverridePath))
			Expect(recorded[0].Patch).To(Equal(want))

			props := nodeProperties(stack.Graph, DatabaseClusterID)
			Expect(props["ServerlessV2ScalingConfiguration"]).To(Equal(want))
			Expect(props["Port"]).To(Equal(int64(5432)))
			Expect(props["EngineVersion"]).To(Equal("13.9"))
		})

		It("Should declare one serverless instance", func() {
			Expect(stack.Data.InstanceIDs).To(Equal([]string{"DatabaseClusterInstance1"}))
			props := nodeProperties(stack.Graph, "DatabaseClusterInstance1")
			Expect(props["DBInstanceClass"]).To(Equal("db.serverless"))
			Expect(props["PubliclyAccessible"]).To(BeTrue())
		})

		It("Should bind the health check to the container port", func() {
			Expect(stack.Compute.HealthCheck.Port).To(Equal(int32(8080)))
			Expect(stack.Compute.HealthCheck.Port).To(Equal(stack.Compute.ContainerPort))

			props := nodeProperties(stack.Graph, ServiceTargetGroupID)
			Expect(props["HealthCheckPath"]).To(Equal("/healthz"))
			Expect(props["HealthCheckPort"]).To(Equal("8080"))
			Expect(props["Matcher"]).To(Equal(map[string]interface{}{"HttpCode": "200"}))
		})

		It("Should run on ARM64 with the configured image", func() {
			props := nodeProperties(stack.Graph, ServiceTaskDefinitionID)
			Expect(props["RuntimePlatform"]).To(HaveKeyWithValue("CpuArchitecture", "ARM64"))
			Expect(props["Cpu"]).To(Equal("256"))
			Expect(props["Memory"]).To(Equal("512"))
			Expect(serviceContainer(stack.Graph)["Image"]).To(Equal("hasura/graphql-engine:v2.33.0"))
		})

		It("Should project secrets as credential references", func() {
			secrets, ok := serviceContainer(stack.Graph)["Secrets"].([]interface{})
			Expect(ok).To(BeTrue())
			Expect(secrets).To(HaveLen(4))
			for _, s := range secrets {
				entry := s.(map[string]interface{})
				Expect(graph.IsSymbolic(entry["ValueFrom"])).To(BeTrue(), "secret %v should be symbolic", entry["Name"])
				Expect(graph.References(entry["ValueFrom"])).To(Equal([]string{DatabaseSecretAttachmentID}))
			}
		})

		It("Should wire the service to the database on the declared port", func() {
			Expect(stack.Wiring.Port).To(Equal(stack.Data.Port))
			Expect(stack.Wiring.Protocol).To(Equal("tcp"))
			Expect(stack.Wiring.Source.SecurityGroupID).To(Equal(ServiceGroupID))
			Expect(stack.Wiring.Destination).To(Equal(DatabaseSecurityGroupID))

			var edges []graph.Node
			for _, n := range nodesOfType(stack.Graph, TypeSecurityGroupIngress) {
				if graph.References(n.Object["Properties"].(map[string]interface{})["GroupId"])[0] == DatabaseSecurityGroupID {
					edges = append(edges, n)
				}
			}
			Expect(edges).To(HaveLen(1))
			props := edges[0].Object["Properties"].(map[string]interface{})
			Expect(props["FromPort"]).To(Equal(int64(5432)))
			Expect(props["ToPort"]).To(Equal(int64(5432)))
		})

		It("Should order the service after its dependencies", func() {
			order := stack.DAG.GetOrder()
			index := make(map[string]int, len(order))
			for i, id := range order {
				index[id] = i
			}
			Expect(index[ServiceID]).To(BeNumerically(">", index[ServiceListenerID]))
			Expect(index[ServiceID]).To(BeNumerically(">", index[ServiceTaskDefinitionID]))
			Expect(index[DatabaseFromServiceID]).To(BeNumerically(">", index[ServiceGroupID]))
			Expect(index[DatabaseFromServiceID]).To(BeNumerically(">", index[DatabaseSecurityGroupID]))
			Expect(stack.DAG.Waves()[0]).To(ContainElement(DatabaseSecurityGroupID))
		})

		It("Should export the load balancer and credential", func() {
			Expect(stack.Graph.Outputs).To(HaveKey(OutputLoadBalancerDNS))
			Expect(stack.Graph.Outputs).To(HaveKey(OutputServiceURL))
			Expect(stack.Graph.Outputs[OutputSecretArn].Value).To(Equal(graph.Ref(DatabaseSecretAttachmentID)))
		})
	})

	It("Should build identical graphs from identical inputs", func() {
		first, err := builder.Build(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		second, err := NewBuilder(cachedResolver()).Build(ctx, testConfig())
		Expect(err).NotTo(HaveOccurred())

		Expect(second.Graph.Metadata).To(Equal(first.Graph.Metadata))
		Expect(second.Graph.Template()).To(Equal(first.Graph.Template()))
		Expect(second.DAG.GetOrder()).To(Equal(first.DAG.GetOrder()))
	})

	It("Should not modify the configuration", func() {
		before := cfg.DeepCopy()
		_, err := builder.Build(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(before))
	})

	It("Should keep a secret reference when a plain variable has the same name", func() {
		cfg.Spec.Service.Environment["DATABASE_PASSWORD"] = "hunter2"

		stack, err := builder.Build(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		container := serviceContainer(stack.Graph)
		for _, e := range container["Environment"].([]interface{}) {
			Expect(e.(map[string]interface{})["Name"]).NotTo(Equal("DATABASE_PASSWORD"))
			Expect(e.(map[string]interface{})["Value"]).NotTo(Equal("hunter2"))
		}
		Expect(container["Secrets"]).To(ContainElement(map[string]interface{}{
			"Name":      "DATABASE_PASSWORD",
			"ValueFrom": stack.Data.Credential.FieldRef(CredentialPassword),
		}))
		Expect(stack.Compute.Environment).NotTo(HaveKey("DATABASE_PASSWORD"))
	})

	It("Should generate an admin secret when a variable asks for one", func() {
		cfg.Spec.Service.Secrets["HASURA_GRAPHQL_ADMIN_SECRET"] = AdminSecretSource

		stack, err := builder.Build(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		node, found := stack.Graph.Node(ServiceAdminSecretID)
		Expect(found).To(BeTrue())
		Expect(node.Type).To(Equal(TypeSecret))
		Expect(stack.Compute.AdminSecretID).To(Equal(ServiceAdminSecretID))

		Expect(serviceContainer(stack.Graph)["Secrets"]).To(ContainElement(map[string]interface{}{
			"Name":      "HASURA_GRAPHQL_ADMIN_SECRET",
			"ValueFrom": graph.Ref(ServiceAdminSecretID),
		}))
		Expect(stack.Graph.Outputs[OutputAdminSecretArn].Value).To(Equal(graph.Ref(ServiceAdminSecretID)))

		doc := nodeProperties(stack.Graph, ServiceExecutionPolicyID)["PolicyDocument"].(map[string]interface{})
		var resources interface{}
		for _, st := range doc["Statement"].([]interface{}) {
			statement := st.(map[string]interface{})
			if actions, ok := statement["Action"].([]interface{}); ok && len(actions) > 0 && actions[0] == "secretsmanager:GetSecretValue" {
				resources = statement["Resource"]
			}
		}
		Expect(resources).To(Equal([]interface{}{
			graph.Ref(DatabaseSecretAttachmentID),
			graph.Ref(ServiceAdminSecretID),
		}))
	})

	It("Should not generate an admin secret unless a variable asks for one", func() {
		stack, err := builder.Build(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())

		_, found := stack.Graph.Node(ServiceAdminSecretID)
		Expect(found).To(BeFalse())
		Expect(stack.Graph.Outputs).NotTo(HaveKey(OutputAdminSecretArn))
	})

	It("Should honor the instance and placement knobs", func() {
		cfg.Spec.Database.Instances = 2
		cfg.Spec.Service.DesiredCount = ptr.To[int32](2)

		stack, err := builder.Build(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(stack.Data.InstanceIDs).To(HaveLen(2))
		Expect(nodeProperties(stack.Graph, ServiceID)["DesiredCount"]).To(Equal(int64(2)))
	})

	It("Should fingerprint a local build context", func() {
		cfg.Spec.Service.Image = v1alpha1.ImageSpec{Directory: "images/hasura-graphql-engine"}
		buildContext := fstest.MapFS{
			"Dockerfile": &fstest.MapFile{Data: []byte("FROM hasura/graphql-engine:v2.33.0\n")},
		}
		builder = NewBuilder(cachedResolver(), WithAssetFS(func(dir string) fs.FS {
			Expect(dir).To(Equal("images/hasura-graphql-engine"))
			return buildContext
		}))

		stack, err := builder.Build(ctx, cfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(stack.ImageAssets).To(HaveLen(1))

		asset := stack.ImageAssets[0]
		Expect(asset.Platform).To(Equal("linux/arm64"))
		Expect(asset.URI).To(HavePrefix("123456789012.dkr.ecr.us-east-2.amazonaws.com/"))
		Expect(serviceContainer(stack.Graph)["Image"]).To(Equal(asset.URI))
	})

	DescribeTable("Should reject invalid configuration before declaring anything",
		func(mutate func(*v1alpha1.HasuraStack), field string) {
			mutate(cfg)

			stack, err := builder.Build(ctx, cfg)
			Expect(stack).To(BeNil())

			var verr *graph.ValidationError
			Expect(errors.As(err, &verr)).To(BeTrue(), "expected ValidationError, got %v", err)
			Expect(verr.Field).To(Equal(field))
		},
		Entry("min capacity above max", func(c *v1alpha1.HasuraStack) {
			c.Spec.Database.MinCapacity = ptr.To(4.0)
			c.Spec.Database.MaxCapacity = 2
		}, "spec.database.minCapacity"),
		Entry("no image", func(c *v1alpha1.HasuraStack) {
			c.Spec.Service.Image = v1alpha1.ImageSpec{}
		}, "spec.service.image"),
		Entry("both image sources", func(c *v1alpha1.HasuraStack) {
			c.Spec.Service.Image.Directory = "images/hasura-graphql-engine"
		}, "spec.service.image"),
		Entry("unknown credential field", func(c *v1alpha1.HasuraStack) {
			c.Spec.Service.Secrets["HASURA_GRAPHQL_JWT_SECRET"] = "token"
		}, "spec.service.secrets.HASURA_GRAPHQL_JWT_SECRET"),
		Entry("negative instance count", func(c *v1alpha1.HasuraStack) {
			c.Spec.Database.Instances = -1
		}, "spec.database.instances"),
		Entry("malformed ingress CIDR", func(c *v1alpha1.HasuraStack) {
			c.Spec.Ingress[0].CIDR = "73.219.135.83"
		}, "spec.ingress[0].cidr"),
		Entry("relative health check path", func(c *v1alpha1.HasuraStack) {
			c.Spec.HealthCheck.Path = "healthz"
		}, "spec.healthCheck.path"),
	)

	It("Should fail with a LookupError when the network is not cached", func() {
		builder = NewBuilder(network.NewContextFile())

		stack, err := builder.Build(ctx, cfg)
		Expect(stack).To(BeNil())

		var lerr *network.LookupError
		Expect(errors.As(err, &lerr)).To(BeTrue())
		Expect(lerr.Key).To(Equal(defaultCriteria().Key()))
	})

	It("Should fail with a LookupError when no subnets match the database placement", func() {
		cfg.Spec.Database.SubnetType = v1alpha1.SubnetTypePrivate

		stack, err := builder.Build(ctx, cfg)
		Expect(stack).To(BeNil())

		var lerr *network.LookupError
		Expect(errors.As(err, &lerr)).To(BeTrue())
	})
})
