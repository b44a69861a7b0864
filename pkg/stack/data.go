package stack

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/network"
)

// Logical IDs of the data tier
const (
	DatabaseClusterID          = "DatabaseCluster"
	DatabaseSubnetGroupID      = "DatabaseClusterSubnets"
	DatabaseSecretID           = "DatabaseClusterSecret"
	DatabaseSecretAttachmentID = "DatabaseClusterSecretAttachment"
)

// ScalingOverridePath addresses the serverless capacity bounds on the
// cluster node. The cluster builder never sets this key itself.
const ScalingOverridePath = "Properties.ServerlessV2ScalingConfiguration"

const (
	instanceClass         = "db.serverless"
	passwordLength        = 30
	passwordExcludedChars = " %+~`#$&*()|[]{}:;<>?!'/@\"\\"
)

// CredentialField names a field of the generated database credential
type CredentialField string

const (
	CredentialHost     CredentialField = "host"
	CredentialPort     CredentialField = "port"
	CredentialUsername CredentialField = "username"
	CredentialPassword CredentialField = "password"
)

// ParseCredentialField validates a credential field name
func ParseCredentialField(s string) (CredentialField, error) {
	switch f := CredentialField(s); f {
	case CredentialHost, CredentialPort, CredentialUsername, CredentialPassword:
		return f, nil
	default:
		return "", fmt.Errorf("unknown credential field %q (want host, port, username or password)", s)
	}
}

// Credential is a handle to the generated database secret. Its values exist
// only once the deployment engine has provisioned the cluster, so consumers
// receive symbolic references.
type Credential struct {
	// SecretID is the node whose identifier is the secret's ARN once it is
	// bound to the cluster
	SecretID string `json:"secretId"`
}

// FieldRef returns a symbolic reference to one field of the credential
func (c Credential) FieldRef(field CredentialField) map[string]interface{} {
	return graph.Join("", graph.Ref(c.SecretID), ":"+string(field)+"::")
}

// ScalingBounds is a serverless capacity range in capacity units
type ScalingBounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Validate checks that the bounds form a non-empty range
func (b ScalingBounds) Validate() error {
	if b.Min < 0 {
		return &graph.ValidationError{Field: "spec.database.minCapacity", Message: "must not be negative"}
	}
	if b.Max <= 0 {
		return &graph.ValidationError{Field: "spec.database.maxCapacity", Message: "must be positive"}
	}
	if b.Min > b.Max {
		return &graph.ValidationError{
			Field:   "spec.database.minCapacity",
			Message: fmt.Sprintf("min capacity %s exceeds max capacity %s", formatCapacity(b.Min), formatCapacity(b.Max)),
		}
	}
	return nil
}

// Patch renders the bounds as the provider expects them: decimal strings
func (b ScalingBounds) Patch() map[string]interface{} {
	return map[string]interface{}{
		"MinCapacity": formatCapacity(b.Min),
		"MaxCapacity": formatCapacity(b.Max),
	}
}

func formatCapacity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DataTier is the handle to the declared database cluster
type DataTier struct {
	ClusterID     string         `json:"clusterId"`
	SubnetGroupID string         `json:"subnetGroupId"`
	InstanceIDs   []string       `json:"instanceIds"`
	Port          int32          `json:"port"`
	Group         *SecurityGroup `json:"securityGroup"`
	Scaling       ScalingBounds  `json:"scaling"`
	Credential    Credential     `json:"credential"`
}

// DataTierInput is the configuration consumed by the data tier
type DataTierInput struct {
	Database v1alpha1.DatabaseSpec
	Network  *network.Network
	Group    *SecurityGroup
}

// DeclareDataTier declares the cluster, its instances, its credential and
// the capacity override
func DeclareDataTier(ctx context.Context, g *graph.Graph, in DataTierInput) (*DataTier, error) {
	logger := log.FromContext(ctx)
	db := in.Database

	if in.Network == nil {
		return nil, &graph.WiringError{Source: DatabaseClusterID, Target: "network", Message: "cluster requires a resolved network"}
	}
	if in.Group == nil {
		return nil, &graph.WiringError{Source: DatabaseClusterID, Target: DatabaseSecurityGroupID, Message: "cluster requires a security group"}
	}
	if db.Instances < 1 {
		return nil, &graph.ValidationError{Field: "spec.database.instances", Message: "at least one instance is required"}
	}
	bounds := ScalingBounds{Min: ptr.Deref(db.MinCapacity, v1alpha1.DefaultMinCapacity), Max: db.MaxCapacity}
	if err := bounds.Validate(); err != nil {
		return nil, err
	}

	subnets := in.Network.SelectSubnets(network.SubnetType(db.SubnetType))
	if len(subnets) == 0 {
		return nil, &network.LookupError{Key: in.Network.ID, Reason: fmt.Sprintf("network has no %s subnets for the database", db.SubnetType)}
	}
	subnetIDs := make([]string, len(subnets))
	for i, s := range subnets {
		subnetIDs[i] = s.ID
	}

	if err := g.AddNode(graph.NewNode(DatabaseSubnetGroupID, TypeDBSubnetGroup, map[string]interface{}{
		"DBSubnetGroupDescription": fmt.Sprintf("Subnets for %s database", DatabaseClusterID),
		"SubnetIds":                stringList(subnetIDs),
	})); err != nil {
		return nil, err
	}

	template, err := json.Marshal(map[string]string{"username": db.Username})
	if err != nil {
		return nil, fmt.Errorf("failed to encode credential template: %w", err)
	}
	secret := graph.NewNode(DatabaseSecretID, TypeSecret, map[string]interface{}{
		"Description": fmt.Sprintf("Generated by %s for %s", g.Metadata.Name, DatabaseClusterID),
		"GenerateSecretString": map[string]interface{}{
			"ExcludeCharacters":    passwordExcludedChars,
			"GenerateStringKey":    string(CredentialPassword),
			"PasswordLength":       int64(passwordLength),
			"SecretStringTemplate": string(template),
		},
	})
	setPolicies(&secret, "Delete")
	if err := g.AddNode(secret); err != nil {
		return nil, err
	}

	cluster := graph.NewNode(DatabaseClusterID, TypeDBCluster, map[string]interface{}{
		"Engine":              db.Engine,
		"EngineVersion":       db.EngineVersion,
		"DBSubnetGroupName":   graph.Ref(DatabaseSubnetGroupID),
		"MasterUsername":      resolveSecret(DatabaseSecretID, CredentialUsername),
		"MasterUserPassword":  resolveSecret(DatabaseSecretID, CredentialPassword),
		"Port":                int64(db.Port),
		"VpcSecurityGroupIds": []interface{}{groupID(in.Group.ID)},
		"CopyTagsToSnapshot":  true,
	})
	setPolicies(&cluster, "Snapshot")
	if err := g.AddNode(cluster); err != nil {
		return nil, err
	}

	tier := &DataTier{
		ClusterID:     DatabaseClusterID,
		SubnetGroupID: DatabaseSubnetGroupID,
		Port:          db.Port,
		Group:         in.Group,
		Scaling:       bounds,
		Credential:    Credential{SecretID: DatabaseSecretAttachmentID},
	}

	for i := int32(1); i <= db.Instances; i++ {
		id := fmt.Sprintf("%sInstance%d", DatabaseClusterID, i)
		instance := graph.NewNode(id, TypeDBInstance, map[string]interface{}{
			"DBClusterIdentifier":     graph.Ref(DatabaseClusterID),
			"DBInstanceClass":         instanceClass,
			"DBSubnetGroupName":       graph.Ref(DatabaseSubnetGroupID),
			"Engine":                  db.Engine,
			"PubliclyAccessible":      boolValue(db.PubliclyAccessible),
			"AutoMinorVersionUpgrade": boolValue(db.AutoMinorVersionUpgrade),
		})
		setPolicies(&instance, "Snapshot")
		if err := g.AddNode(instance); err != nil {
			return nil, err
		}
		tier.InstanceIDs = append(tier.InstanceIDs, id)
	}

	if err := g.AddNode(graph.NewNode(DatabaseSecretAttachmentID, TypeSecretTargetAttachment, map[string]interface{}{
		"SecretId":   graph.Ref(DatabaseSecretID),
		"TargetId":   graph.Ref(DatabaseClusterID),
		"TargetType": TypeDBCluster,
	})); err != nil {
		return nil, err
	}

	if err := g.AddOverride(graph.RawOverride{
		Target: DatabaseClusterID,
		Path:   ScalingOverridePath,
		Patch:  bounds.Patch(),
	}); err != nil {
		return nil, err
	}

	logger.V(1).Info("Declared data tier",
		"cluster", DatabaseClusterID,
		"instances", len(tier.InstanceIDs),
		"minCapacity", formatCapacity(bounds.Min),
		"maxCapacity", formatCapacity(bounds.Max))
	return tier, nil
}

// resolveSecret is a dynamic reference the deployment engine resolves
// against the generated secret
func resolveSecret(secretID string, field CredentialField) map[string]interface{} {
	return graph.Join("", "{{resolve:secretsmanager:", graph.Ref(secretID), ":SecretString:"+string(field)+"::}}")
}

func boolValue(b *bool) bool {
	return b != nil && *b
}
