package stack

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/network"
)

// DatabaseSecurityGroupID is the logical ID of the database firewall scope
const DatabaseSecurityGroupID = "DbSecurityGroup"

// Peer is the source of a Permission: a CIDR block or a security group
type Peer struct {
	CIDR            string `json:"cidr,omitempty"`
	SecurityGroupID string `json:"securityGroupId,omitempty"`
}

func (p Peer) String() string {
	if p.SecurityGroupID != "" {
		return p.SecurityGroupID
	}
	return p.CIDR
}

// Permission is a directed reachability edge into a security group
type Permission struct {
	// ID is the node carrying the rule. Rules declared inline on their
	// security group share the group's ID.
	ID string `json:"id"`

	Source      Peer   `json:"source"`
	Destination string `json:"destination"`
	Protocol    string `json:"protocol"`
	Port        int32  `json:"port"`
	Description string `json:"description,omitempty"`
}

// SecurityGroup is a firewall scope owned by a network. Ingress is additive;
// egress is unrestricted.
type SecurityGroup struct {
	ID        string       `json:"id"`
	NetworkID string       `json:"networkId"`
	Ingress   []Permission `json:"ingress,omitempty"`
}

// addSecurityGroup declares a security group with unrestricted egress and
// the given CIDR ingress rules inline
func addSecurityGroup(g *graph.Graph, id, description string, net *network.Network, ingress []Permission) (*SecurityGroup, error) {
	if net == nil || net.ID == "" {
		return nil, &graph.WiringError{Source: id, Target: "network", Message: "security group requires a resolved network"}
	}

	sg := &SecurityGroup{ID: id, NetworkID: net.ID}

	props := map[string]interface{}{
		"GroupDescription": description,
		"VpcId":            net.ID,
		"SecurityGroupEgress": []interface{}{
			map[string]interface{}{
				"CidrIp":      allTraffic,
				"Description": "Allow all outbound traffic by default",
				"IpProtocol":  "-1",
			},
		},
	}

	if len(ingress) > 0 {
		rules := make([]interface{}, 0, len(ingress))
		for _, p := range ingress {
			if p.Source.CIDR == "" {
				return nil, &graph.ValidationError{Field: id, Message: "inline ingress requires a CIDR source"}
			}
			p.ID = id
			p.Destination = id
			sg.Ingress = append(sg.Ingress, p)
			rules = append(rules, ingressRule(p))
		}
		props["SecurityGroupIngress"] = rules
	}

	if err := g.AddNode(graph.NewNode(id, TypeSecurityGroup, props)); err != nil {
		return nil, err
	}
	return sg, nil
}

func ingressRule(p Permission) map[string]interface{} {
	rule := map[string]interface{}{
		"CidrIp":     p.Source.CIDR,
		"IpProtocol": p.Protocol,
		"FromPort":   int64(p.Port),
		"ToPort":     int64(p.Port),
	}
	if p.Description != "" {
		rule["Description"] = p.Description
	}
	return rule
}

// allowFrom declares a standalone ingress rule from one security group to
// another. Both groups must already be in the graph.
func allowFrom(g *graph.Graph, id string, dest, source *SecurityGroup, protocol string, port int32, description string) (Permission, error) {
	if dest == nil || source == nil {
		return Permission{}, &graph.WiringError{Source: id, Target: "security group", Message: "permission requires both source and destination groups"}
	}
	for _, sgID := range []string{dest.ID, source.ID} {
		if _, found := g.Node(sgID); !found {
			return Permission{}, &graph.WiringError{Source: id, Target: sgID, Message: "security group has not been declared"}
		}
	}

	props := map[string]interface{}{
		"GroupId":               groupID(dest.ID),
		"SourceSecurityGroupId": groupID(source.ID),
		"IpProtocol":            protocol,
		"FromPort":              int64(port),
		"ToPort":                int64(port),
		"Description":           description,
	}
	if err := g.AddNode(graph.NewNode(id, TypeSecurityGroupIngress, props)); err != nil {
		return Permission{}, err
	}

	return Permission{
		ID:          id,
		Source:      Peer{SecurityGroupID: source.ID},
		Destination: dest.ID,
		Protocol:    protocol,
		Port:        port,
		Description: description,
	}, nil
}

// AccessControl declares the database security group on the network with
// one ingress permission per rule
func AccessControl(ctx context.Context, g *graph.Graph, net *network.Network, rules []v1alpha1.IngressRule) (*SecurityGroup, error) {
	logger := log.FromContext(ctx)

	perms := make([]Permission, 0, len(rules))
	for _, r := range rules {
		perms = append(perms, Permission{
			Source:      Peer{CIDR: r.CIDR},
			Protocol:    r.Protocol,
			Port:        r.Port,
			Description: r.Description,
		})
	}

	sg, err := addSecurityGroup(g, DatabaseSecurityGroupID, fmt.Sprintf("%s/%s", g.Metadata.Name, DatabaseSecurityGroupID), net, perms)
	if err != nil {
		return nil, err
	}
	for _, p := range sg.Ingress {
		logger.V(1).Info("Declared ingress permission", "group", sg.ID, "source", p.Source.String(), "protocol", p.Protocol, "port", p.Port)
	}
	return sg, nil
}
