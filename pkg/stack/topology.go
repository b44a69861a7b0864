package stack

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/hasura-stack/pkg/graph"
	"github.com/chazu/hasura-stack/pkg/network"
)

// EndpointKind is the connectivity kind of an endpoint
type EndpointKind string

const (
	// EndpointGateway routes traffic through the network's route tables
	EndpointGateway EndpointKind = "Gateway"

	// EndpointInterface places network interfaces in the network's subnets
	EndpointInterface EndpointKind = "Interface"
)

// Endpoint is a private connectivity path from the network to a managed service
type Endpoint struct {
	ID          string         `json:"id"`
	Service     string         `json:"service"`
	ServiceName string         `json:"serviceName"`
	Kind        EndpointKind   `json:"kind"`
	Group       *SecurityGroup `json:"securityGroup,omitempty"`
}

// NetworkTopology is a resolved network with its endpoints attached
type NetworkTopology struct {
	Network   *network.Network `json:"network"`
	Endpoints []Endpoint       `json:"endpoints"`
}

type endpointService struct {
	id      string
	service string
	kind    EndpointKind
}

// endpointServices is the fixed set of services reachable without an
// outbound gateway: object storage, both registry planes, secret storage,
// parameter storage and log ingestion
var endpointServices = []endpointService{
	{id: "S3GatewayEndpoint", service: "s3", kind: EndpointGateway},
	{id: "ECRInterfaceEndpoint", service: "ecr.api", kind: EndpointInterface},
	{id: "ECRDockerInterfaceEndpoint", service: "ecr.dkr", kind: EndpointInterface},
	{id: "SecretsManagerInterfaceEndpoint", service: "secretsmanager", kind: EndpointInterface},
	{id: "SSMInterfaceEndpoint", service: "ssm", kind: EndpointInterface},
	{id: "CloudwatchLogsInterfaceEndpoint", service: "logs", kind: EndpointInterface},
}

// ServiceName returns the regional endpoint service name for a service
func ServiceName(region, service string) string {
	return fmt.Sprintf("com.amazonaws.%s.%s", region, service)
}

// ResolveNetwork looks up the network matching the criteria
func ResolveNetwork(ctx context.Context, resolver network.Resolver, criteria network.LookupCriteria) (*network.Network, error) {
	if resolver == nil {
		return nil, &network.LookupError{Key: criteria.Key(), Reason: "no network resolver configured"}
	}
	net, err := resolver.LookupNetwork(ctx, criteria)
	if err != nil {
		return nil, err
	}
	if net == nil || net.ID == "" {
		return nil, &network.LookupError{Key: criteria.Key(), Reason: "resolver returned no network"}
	}
	return net, nil
}

// AttachEndpoints declares the endpoint set on a resolved network
func AttachEndpoints(ctx context.Context, g *graph.Graph, net *network.Network) (*NetworkTopology, error) {
	logger := log.FromContext(ctx)
	region := g.Metadata.Region

	topology := &NetworkTopology{Network: net}
	for _, svc := range endpointServices {
		var (
			ep  *Endpoint
			err error
		)
		switch svc.kind {
		case EndpointGateway:
			ep, err = addGatewayEndpoint(g, net, svc, region)
		default:
			ep, err = addInterfaceEndpoint(g, net, svc, region)
		}
		if err != nil {
			return nil, err
		}
		logger.V(1).Info("Declared endpoint", "id", ep.ID, "service", ep.ServiceName, "kind", ep.Kind)
		topology.Endpoints = append(topology.Endpoints, *ep)
	}
	return topology, nil
}

func addGatewayEndpoint(g *graph.Graph, net *network.Network, svc endpointService, region string) (*Endpoint, error) {
	props := map[string]interface{}{
		"ServiceName":     ServiceName(region, svc.service),
		"VpcEndpointType": string(EndpointGateway),
		"VpcId":           net.ID,
	}
	if tables := net.RouteTableIDs(); len(tables) > 0 {
		props["RouteTableIds"] = stringList(tables)
	}
	if err := g.AddNode(graph.NewNode(svc.id, TypeVPCEndpoint, props)); err != nil {
		return nil, err
	}
	return &Endpoint{
		ID:          svc.id,
		Service:     svc.service,
		ServiceName: ServiceName(region, svc.service),
		Kind:        EndpointGateway,
	}, nil
}

// addInterfaceEndpoint places the endpoint in one private subnet per zone,
// or one public subnet per zone when the network has no private subnets.
// Each endpoint gets its own group admitting HTTPS from inside the network.
func addInterfaceEndpoint(g *graph.Graph, net *network.Network, svc endpointService, region string) (*Endpoint, error) {
	subnets := network.OnePerZone(net.SelectSubnets(network.SubnetTypePrivate))
	if len(subnets) == 0 {
		subnets = network.OnePerZone(net.SelectSubnets(network.SubnetTypePublic))
	}
	if len(subnets) == 0 {
		return nil, &network.LookupError{Key: net.ID, Reason: "network has no subnets for interface endpoints"}
	}
	if net.CIDR == "" {
		return nil, &network.LookupError{Key: net.ID, Reason: "network has no CIDR block"}
	}
	subnetIDs := make([]string, len(subnets))
	for i, s := range subnets {
		subnetIDs[i] = s.ID
	}

	sgID := svc.id + "SecurityGroup"
	sg, err := addSecurityGroup(g, sgID, fmt.Sprintf("%s/%s", g.Metadata.Name, sgID), net, []Permission{{
		Source:      Peer{CIDR: net.CIDR},
		Protocol:    "tcp",
		Port:        443,
		Description: fmt.Sprintf("from %s:443", net.CIDR),
	}})
	if err != nil {
		return nil, err
	}

	props := map[string]interface{}{
		"ServiceName":       ServiceName(region, svc.service),
		"VpcEndpointType":   string(EndpointInterface),
		"VpcId":             net.ID,
		"PrivateDnsEnabled": true,
		"SubnetIds":         stringList(subnetIDs),
		"SecurityGroupIds":  []interface{}{groupID(sgID)},
	}
	if err := g.AddNode(graph.NewNode(svc.id, TypeVPCEndpoint, props)); err != nil {
		return nil, err
	}
	return &Endpoint{
		ID:          svc.id,
		Service:     svc.service,
		ServiceName: ServiceName(region, svc.service),
		Kind:        EndpointInterface,
		Group:       sg,
	}, nil
}
