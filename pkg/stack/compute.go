package stack

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	"github.com/chazu/hasura-stack/pkg/assets"
	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/network"
)

// Logical IDs of the compute tier
const (
	ServiceID                  = "HasuraService"
	ServiceClusterID           = ServiceID + "Cluster"
	ServiceLoadBalancerID      = ServiceID + "LB"
	ServiceLoadBalancerGroupID = ServiceID + "LBSecurityGroup"
	ServiceListenerID          = ServiceID + "Listener"
	ServiceTargetGroupID       = ServiceID + "TargetGroup"
	ServiceTaskDefinitionID    = ServiceID + "TaskDef"
	ServiceTaskRoleID          = ServiceID + "TaskRole"
	ServiceExecutionRoleID     = ServiceID + "ExecutionRole"
	ServiceExecutionPolicyID   = ServiceID + "ExecutionRolePolicy"
	ServiceLogGroupID          = ServiceID + "LogGroup"
	ServiceGroupID             = ServiceID + "SecurityGroup"
	ServiceFromLoadBalancerID  = ServiceGroupID + "FromLB"
	ServiceAdminSecretID       = ServiceID + "AdminSecret"
)

// AdminSecretSource binds a variable to a secret generated for the service
// itself instead of a database credential field
const AdminSecretSource = "adminSecret"

const (
	containerName               = "web"
	healthCheckGracePeriod      = 60
	policyVersion               = "2012-10-17"
	tasksServicePrincipal       = "ecs-tasks.amazonaws.com"
	operatingSystemFamily       = "LINUX"
	deploymentMaximumPercent    = 200
	deploymentMinHealthyPercent = 50
	adminSecretLength           = 32
)

// HealthCheckTarget is what the load balancer probes to decide whether a
// task may receive traffic
type HealthCheckTarget struct {
	TargetGroupID    string  `json:"targetGroupId"`
	Enabled          bool    `json:"enabled"`
	Path             string  `json:"path"`
	Port             int32   `json:"port"`
	HealthyHTTPCodes []int32 `json:"healthyHttpCodes"`
}

// Matcher renders the accepted codes the way the load balancer expects them
func (h HealthCheckTarget) Matcher() string {
	codes := make([]string, len(h.HealthyHTTPCodes))
	for i, c := range h.HealthyHTTPCodes {
		codes[i] = strconv.Itoa(int(c))
	}
	return strings.Join(codes, ",")
}

// SecretBinding projects a credential field, or a whole generated secret
// when Field is empty, into an environment variable
type SecretBinding struct {
	Name     string          `json:"name"`
	SecretID string          `json:"secretId"`
	Field    CredentialField `json:"field,omitempty"`
}

// ValueFrom is the symbolic reference the container resolves at start
func (b SecretBinding) ValueFrom() map[string]interface{} {
	if b.Field == "" {
		return graph.Ref(b.SecretID)
	}
	return Credential{SecretID: b.SecretID}.FieldRef(b.Field)
}

// ComputeTier is the handle to the declared container service
type ComputeTier struct {
	ServiceID        string             `json:"serviceId"`
	TaskDefinitionID string             `json:"taskDefinitionId"`
	LoadBalancerID   string             `json:"loadBalancerId"`
	Group            *SecurityGroup     `json:"securityGroup"`
	LoadBalancer     *SecurityGroup     `json:"loadBalancerSecurityGroup"`
	ContainerPort    int32              `json:"containerPort"`
	Image            string             `json:"image"`
	Asset            *assets.ImageAsset `json:"asset,omitempty"`
	Environment      map[string]string  `json:"environment,omitempty"`
	Secrets          []SecretBinding    `json:"secrets,omitempty"`
	AdminSecretID    string             `json:"adminSecretId,omitempty"`
	HealthCheck      HealthCheckTarget  `json:"healthCheck"`
}

// ComputeTierInput is the configuration consumed by the compute tier
type ComputeTierInput struct {
	Service     v1alpha1.ServiceSpec
	HealthCheck v1alpha1.HealthCheckSpec
	Network     *network.Network
	Credential  *Credential

	// Image is the resolved image reference; Asset is set when the image
	// is built from a local context
	Image string
	Asset *assets.ImageAsset
}

// DeclareComputeTier declares the load-balanced container service
func DeclareComputeTier(ctx context.Context, g *graph.Graph, in ComputeTierInput) (*ComputeTier, error) {
	logger := log.FromContext(ctx)
	svc := in.Service

	if in.Network == nil {
		return nil, &graph.WiringError{Source: ServiceID, Target: "network", Message: "service requires a resolved network"}
	}
	if in.Image == "" {
		return nil, &graph.ValidationError{Field: "spec.service.image", Message: "an image reference is required"}
	}

	secrets, err := bindSecrets(g, svc.Secrets, in.Credential)
	if err != nil {
		return nil, err
	}
	env := make(map[string]string, len(svc.Environment))
	for name, value := range svc.Environment {
		if _, shadowed := svc.Secrets[name]; shadowed {
			logger.Info("Dropping plain environment variable shadowed by a secret", "name", name)
			continue
		}
		env[name] = value
	}

	tier := &ComputeTier{
		ServiceID:        ServiceID,
		TaskDefinitionID: ServiceTaskDefinitionID,
		LoadBalancerID:   ServiceLoadBalancerID,
		ContainerPort:    svc.ContainerPort,
		Image:            in.Image,
		Asset:            in.Asset,
		Environment:      env,
		Secrets:          secrets,
		HealthCheck: HealthCheckTarget{
			TargetGroupID:    ServiceTargetGroupID,
			Enabled:          boolValue(in.HealthCheck.Enabled),
			Path:             in.HealthCheck.Path,
			Port:             svc.ContainerPort,
			HealthyHTTPCodes: append([]int32(nil), in.HealthCheck.HealthyHTTPCodes...),
		},
	}

	for _, b := range secrets {
		if b.SecretID == ServiceAdminSecretID {
			if err := declareAdminSecret(g); err != nil {
				return nil, err
			}
			tier.AdminSecretID = ServiceAdminSecretID
			break
		}
	}

	if err := g.AddNode(graph.NewNode(ServiceClusterID, TypeECSCluster, nil)); err != nil {
		return nil, err
	}

	if err := declareLoadBalancer(g, in, tier); err != nil {
		return nil, err
	}

	logging := boolValue(svc.EnableLogging)
	if logging {
		logGroup := graph.NewNode(ServiceLogGroupID, TypeLogGroup, nil)
		setPolicies(&logGroup, "Retain")
		if err := g.AddNode(logGroup); err != nil {
			return nil, err
		}
	}

	executionPolicy, err := declareRoles(g, in, tier, logging)
	if err != nil {
		return nil, err
	}

	if err := declareTaskDefinition(g, in, tier, logging, executionPolicy); err != nil {
		return nil, err
	}

	group, err := addSecurityGroup(g, ServiceGroupID, fmt.Sprintf("%s/%s", g.Metadata.Name, ServiceGroupID), in.Network, nil)
	if err != nil {
		return nil, err
	}
	tier.Group = group

	fromLB, err := allowFrom(g, ServiceFromLoadBalancerID, group, tier.LoadBalancer, "tcp", svc.ContainerPort,
		fmt.Sprintf("Load balancer to target on port %d", svc.ContainerPort))
	if err != nil {
		return nil, err
	}
	group.Ingress = append(group.Ingress, fromLB)

	if err := declareService(g, in, tier); err != nil {
		return nil, err
	}

	logger.V(1).Info("Declared compute tier",
		"service", ServiceID,
		"image", in.Image,
		"containerPort", svc.ContainerPort,
		"secrets", len(secrets))
	return tier, nil
}

// bindSecrets resolves each secret entry to a credential field or to the
// admin secret, sorted by variable name
func bindSecrets(g *graph.Graph, secrets map[string]string, cred *Credential) ([]SecretBinding, error) {
	if len(secrets) == 0 {
		return nil, nil
	}

	bindings := make([]SecretBinding, 0, len(secrets))
	for name, source := range secrets {
		if source == AdminSecretSource {
			bindings = append(bindings, SecretBinding{Name: name, SecretID: ServiceAdminSecretID})
			continue
		}
		f, err := ParseCredentialField(source)
		if err != nil {
			return nil, &graph.ValidationError{Field: "spec.service.secrets." + name, Message: err.Error()}
		}
		if cred == nil {
			return nil, &graph.WiringError{Source: ServiceTaskDefinitionID, Target: "credential", Message: "secret environment requires a database credential"}
		}
		if _, found := g.Node(cred.SecretID); !found {
			return nil, &graph.WiringError{Source: ServiceTaskDefinitionID, Target: cred.SecretID, Message: "credential has not been declared"}
		}
		bindings = append(bindings, SecretBinding{Name: name, SecretID: cred.SecretID, Field: f})
	}
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].Name < bindings[j].Name })
	return bindings, nil
}

// declareAdminSecret generates the key that guards the GraphQL API and
// console
func declareAdminSecret(g *graph.Graph) error {
	secret := graph.NewNode(ServiceAdminSecretID, TypeSecret, map[string]interface{}{
		"Description": fmt.Sprintf("Generated by %s for %s", g.Metadata.Name, ServiceID),
		"GenerateSecretString": map[string]interface{}{
			"ExcludePunctuation": true,
			"PasswordLength":     int64(adminSecretLength),
		},
	})
	setPolicies(&secret, "Delete")
	return g.AddNode(secret)
}

// secretResources lists each secret read by the bindings once, in ID order
func secretResources(bindings []SecretBinding) []interface{} {
	ids := make([]string, 0, len(bindings))
	for _, b := range bindings {
		if !slices.Contains(ids, b.SecretID) {
			ids = append(ids, b.SecretID)
		}
	}
	sort.Strings(ids)
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = graph.Ref(id)
	}
	return out
}

func declareLoadBalancer(g *graph.Graph, in ComputeTierInput, tier *ComputeTier) error {
	svc := in.Service
	public := boolValue(svc.PublicLoadBalancer)

	scheme, subnetType, source := "internal", network.SubnetTypePrivate, in.Network.CIDR
	if public {
		scheme, subnetType, source = "internet-facing", network.SubnetTypePublic, allTraffic
	}
	subnets := subnetIDs(network.OnePerZone(in.Network.SelectSubnets(subnetType)))
	if len(subnets) == 0 {
		return &network.LookupError{Key: in.Network.ID, Reason: fmt.Sprintf("network has no %s subnets for the load balancer", subnetType)}
	}

	lbGroup, err := addSecurityGroup(g, ServiceLoadBalancerGroupID,
		fmt.Sprintf("Automatically created Security Group for ELB %s", ServiceLoadBalancerID), in.Network,
		[]Permission{{
			Source:      Peer{CIDR: source},
			Protocol:    "tcp",
			Port:        svc.ListenerPort,
			Description: fmt.Sprintf("Allow from %s on port %d", source, svc.ListenerPort),
		}})
	if err != nil {
		return err
	}
	tier.LoadBalancer = lbGroup

	if err := g.AddNode(graph.NewNode(ServiceLoadBalancerID, TypeLoadBalancer, map[string]interface{}{
		"Type":           "application",
		"Scheme":         scheme,
		"Subnets":        stringList(subnets),
		"SecurityGroups": []interface{}{groupID(lbGroup.ID)},
		"LoadBalancerAttributes": []interface{}{
			map[string]interface{}{"Key": "deletion_protection.enabled", "Value": "false"},
		},
	})); err != nil {
		return err
	}

	hc := tier.HealthCheck
	if err := g.AddNode(graph.NewNode(ServiceTargetGroupID, TypeTargetGroup, map[string]interface{}{
		"Port":               int64(svc.ContainerPort),
		"Protocol":           "HTTP",
		"TargetType":         "ip",
		"VpcId":              in.Network.ID,
		"HealthCheckEnabled": hc.Enabled,
		"HealthCheckPath":    hc.Path,
		"HealthCheckPort":    strconv.Itoa(int(hc.Port)),
		"Matcher":            map[string]interface{}{"HttpCode": hc.Matcher()},
		"TargetGroupAttributes": []interface{}{
			map[string]interface{}{"Key": "stickiness.enabled", "Value": "false"},
		},
	})); err != nil {
		return err
	}

	return g.AddNode(graph.NewNode(ServiceListenerID, TypeListener, map[string]interface{}{
		"LoadBalancerArn": graph.Ref(ServiceLoadBalancerID),
		"Port":            int64(svc.ListenerPort),
		"Protocol":        "HTTP",
		"DefaultActions": []interface{}{
			map[string]interface{}{
				"Type":           "forward",
				"TargetGroupArn": graph.Ref(ServiceTargetGroupID),
			},
		},
	}))
}

// declareRoles declares the task and execution roles. It reports whether an
// execution policy was needed.
func declareRoles(g *graph.Graph, in ComputeTierInput, tier *ComputeTier, logging bool) (bool, error) {
	for _, id := range []string{ServiceTaskRoleID, ServiceExecutionRoleID} {
		if err := g.AddNode(graph.NewNode(id, TypeRole, map[string]interface{}{
			"AssumeRolePolicyDocument": policyDocument(map[string]interface{}{
				"Action":    "sts:AssumeRole",
				"Effect":    "Allow",
				"Principal": map[string]interface{}{"Service": tasksServicePrincipal},
			}),
		})); err != nil {
			return false, err
		}
	}

	var statements []interface{}
	if tier.Asset != nil {
		statements = append(statements,
			map[string]interface{}{
				"Action": stringList([]string{
					"ecr:BatchCheckLayerAvailability",
					"ecr:GetDownloadUrlForLayer",
					"ecr:BatchGetImage",
				}),
				"Effect": "Allow",
				"Resource": fmt.Sprintf("arn:aws:ecr:%s:%s:repository/%s",
					g.Metadata.Region, g.Metadata.Account, tier.Asset.Repository),
			},
			map[string]interface{}{
				"Action":   "ecr:GetAuthorizationToken",
				"Effect":   "Allow",
				"Resource": "*",
			})
	}
	if logging {
		statements = append(statements, map[string]interface{}{
			"Action":   stringList([]string{"logs:CreateLogStream", "logs:PutLogEvents"}),
			"Effect":   "Allow",
			"Resource": graph.GetAtt(ServiceLogGroupID, "Arn"),
		})
	}
	if len(tier.Secrets) > 0 {
		statements = append(statements, map[string]interface{}{
			"Action":   stringList([]string{"secretsmanager:GetSecretValue", "secretsmanager:DescribeSecret"}),
			"Effect":   "Allow",
			"Resource": secretResources(tier.Secrets),
		})
	}
	if len(statements) == 0 {
		return false, nil
	}

	if err := g.AddNode(graph.NewNode(ServiceExecutionPolicyID, TypePolicy, map[string]interface{}{
		"PolicyName":     ServiceExecutionPolicyID,
		"PolicyDocument": policyDocument(statements...),
		"Roles":          []interface{}{graph.Ref(ServiceExecutionRoleID)},
	})); err != nil {
		return false, err
	}
	return true, nil
}

func policyDocument(statements ...interface{}) map[string]interface{} {
	return map[string]interface{}{
		"Version":   policyVersion,
		"Statement": statements,
	}
}

// declareTaskDefinition depends on the execution policy when one was declared
func declareTaskDefinition(g *graph.Graph, in ComputeTierInput, tier *ComputeTier, logging, executionPolicy bool) error {
	svc := in.Service

	names := make([]string, 0, len(tier.Environment))
	for name := range tier.Environment {
		names = append(names, name)
	}
	sort.Strings(names)
	env := make([]interface{}, 0, len(names))
	for _, name := range names {
		env = append(env, map[string]interface{}{"Name": name, "Value": tier.Environment[name]})
	}

	container := map[string]interface{}{
		"Name":      containerName,
		"Image":     tier.Image,
		"Essential": true,
		"PortMappings": []interface{}{
			map[string]interface{}{"ContainerPort": int64(svc.ContainerPort), "Protocol": "tcp"},
		},
	}
	if len(env) > 0 {
		container["Environment"] = env
	}
	if len(tier.Secrets) > 0 {
		secrets := make([]interface{}, 0, len(tier.Secrets))
		for _, b := range tier.Secrets {
			secrets = append(secrets, map[string]interface{}{
				"Name":      b.Name,
				"ValueFrom": b.ValueFrom(),
			})
		}
		container["Secrets"] = secrets
	}
	if logging {
		container["LogConfiguration"] = map[string]interface{}{
			"LogDriver": "awslogs",
			"Options": map[string]interface{}{
				"awslogs-group":         graph.Ref(ServiceLogGroupID),
				"awslogs-stream-prefix": ServiceID,
				"awslogs-region":        g.Metadata.Region,
			},
		}
	}

	node := graph.NewNode(ServiceTaskDefinitionID, TypeTaskDefinition, map[string]interface{}{
		"Family":                  g.Metadata.Name + ServiceTaskDefinitionID,
		"Cpu":                     strconv.Itoa(int(svc.CPU)),
		"Memory":                  strconv.Itoa(int(svc.MemoryMiB)),
		"NetworkMode":             "awsvpc",
		"RequiresCompatibilities": []interface{}{"FARGATE"},
		"RuntimePlatform": map[string]interface{}{
			"CpuArchitecture":       svc.CPUArchitecture,
			"OperatingSystemFamily": operatingSystemFamily,
		},
		"ExecutionRoleArn":     graph.GetAtt(ServiceExecutionRoleID, "Arn"),
		"TaskRoleArn":          graph.GetAtt(ServiceTaskRoleID, "Arn"),
		"ContainerDefinitions": []interface{}{container},
	})
	if executionPolicy {
		node.DependsOn = []string{ServiceExecutionPolicyID}
	}
	return g.AddNode(node)
}

// declareService places tasks in private subnets when the network has them,
// and in public subnets with public addresses otherwise
func declareService(g *graph.Graph, in ComputeTierInput, tier *ComputeTier) error {
	svc := in.Service

	assignPublicIP := "DISABLED"
	subnets := subnetIDs(in.Network.SelectSubnets(network.SubnetTypePrivate))
	if len(subnets) == 0 {
		assignPublicIP = "ENABLED"
		subnets = subnetIDs(in.Network.SelectSubnets(network.SubnetTypePublic))
	}
	if len(subnets) == 0 {
		return &network.LookupError{Key: in.Network.ID, Reason: "network has no subnets for the service"}
	}

	props := map[string]interface{}{
		"Cluster":        graph.Ref(ServiceClusterID),
		"DesiredCount":   int64(ptr.Deref(svc.DesiredCount, v1alpha1.DefaultDesiredCount)),
		"LaunchType":     "FARGATE",
		"TaskDefinition": graph.Ref(ServiceTaskDefinitionID),
		"DeploymentConfiguration": map[string]interface{}{
			"MaximumPercent":        int64(deploymentMaximumPercent),
			"MinimumHealthyPercent": int64(deploymentMinHealthyPercent),
		},
		"LoadBalancers": []interface{}{
			map[string]interface{}{
				"ContainerName":  containerName,
				"ContainerPort":  int64(svc.ContainerPort),
				"TargetGroupArn": graph.Ref(ServiceTargetGroupID),
			},
		},
		"NetworkConfiguration": map[string]interface{}{
			"AwsvpcConfiguration": map[string]interface{}{
				"AssignPublicIp": assignPublicIP,
				"SecurityGroups": []interface{}{groupID(tier.Group.ID)},
				"Subnets":        stringList(subnets),
			},
		},
	}
	if tier.HealthCheck.Enabled {
		props["HealthCheckGracePeriodSeconds"] = int64(healthCheckGracePeriod)
	}

	node := graph.NewNode(ServiceID, TypeECSService, props)
	node.DependsOn = []string{ServiceListenerID, ServiceTaskRoleID}
	return g.AddNode(node)
}

func subnetIDs(subnets []network.Subnet) []string {
	ids := make([]string, len(subnets))
	for i, s := range subnets {
		ids[i] = s.ID
	}
	return ids
}
