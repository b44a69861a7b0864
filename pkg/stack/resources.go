package stack

import "github.com/chazu/hasura-stack/pkg/graph"

// Resource types emitted into the graph
const (
	TypeVPCEndpoint          = "AWS::EC2::VPCEndpoint"
	TypeSecurityGroup        = "AWS::EC2::SecurityGroup"
	TypeSecurityGroupIngress = "AWS::EC2::SecurityGroupIngress"

	TypeDBSubnetGroup          = "AWS::RDS::DBSubnetGroup"
	TypeDBCluster              = "AWS::RDS::DBCluster"
	TypeDBInstance             = "AWS::RDS::DBInstance"
	TypeSecret                 = "AWS::SecretsManager::Secret"
	TypeSecretTargetAttachment = "AWS::SecretsManager::SecretTargetAttachment"

	TypeECSCluster     = "AWS::ECS::Cluster"
	TypeTaskDefinition = "AWS::ECS::TaskDefinition"
	TypeECSService     = "AWS::ECS::Service"
	TypeLoadBalancer   = "AWS::ElasticLoadBalancingV2::LoadBalancer"
	TypeListener       = "AWS::ElasticLoadBalancingV2::Listener"
	TypeTargetGroup    = "AWS::ElasticLoadBalancingV2::TargetGroup"
	TypeRole           = "AWS::IAM::Role"
	TypePolicy         = "AWS::IAM::Policy"
	TypeLogGroup       = "AWS::Logs::LogGroup"
)

const allTraffic = "0.0.0.0/0"

// groupID is the symbolic identifier of a security group node
func groupID(id string) map[string]interface{} {
	return graph.GetAtt(id, "GroupId")
}

func stringList(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// setPolicies sets the deletion and update-replace policies of a node
func setPolicies(n *graph.Node, policy string) {
	n.Object["DeletionPolicy"] = policy
	n.Object["UpdateReplacePolicy"] = policy
}
