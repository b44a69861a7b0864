package stack

import (
	"context"
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/chazu/hasura-stack/pkg/graph"
)

// DatabaseFromServiceID is the logical ID of the service-to-database edge
const DatabaseFromServiceID = DatabaseClusterID + "From" + ServiceID

// Wire declares the single permission letting the service reach the
// database. The edge's port must equal the port declared on the cluster node.
func Wire(ctx context.Context, g *graph.Graph, data *DataTier, compute *ComputeTier) (Permission, error) {
	if data == nil || compute == nil {
		return Permission{}, &graph.WiringError{Source: ServiceID, Target: DatabaseClusterID, Message: "both tiers must be declared before wiring"}
	}

	port, err := clusterPort(g, data.ClusterID)
	if err != nil {
		return Permission{}, err
	}
	if port != int64(data.Port) {
		return Permission{}, portMismatch(compute.ServiceID, data.ClusterID, int64(data.Port), port)
	}

	perm, err := allowFrom(g, DatabaseFromServiceID, data.Group, compute.Group, "tcp", data.Port,
		fmt.Sprintf("Service to database on port %d", data.Port))
	if err != nil {
		return Permission{}, err
	}
	data.Group.Ingress = append(data.Group.Ingress, perm)

	log.FromContext(ctx).V(1).Info("Wired service to database",
		"source", compute.Group.ID, "destination", data.Group.ID, "port", data.Port)
	return perm, nil
}

// VerifyWiring re-checks a wiring edge against the finalized graph, where
// overrides may have changed either node
func VerifyWiring(g *graph.Graph, perm Permission, clusterID string) error {
	port, err := clusterPort(g, clusterID)
	if err != nil {
		return err
	}

	edge, found := g.Node(perm.ID)
	if !found {
		return &graph.WiringError{Source: perm.Source.String(), Target: perm.Destination, Message: "wiring edge is missing from the graph"}
	}
	for _, field := range []string{"FromPort", "ToPort"} {
		edgePort, found, err := unstructured.NestedInt64(edge.Object, "Properties", field)
		if err != nil || !found {
			return &graph.WiringError{Source: perm.ID, Target: clusterID, Message: fmt.Sprintf("wiring edge has no %s", field)}
		}
		if edgePort != port {
			return portMismatch(perm.ID, clusterID, edgePort, port)
		}
	}
	return nil
}

func clusterPort(g *graph.Graph, clusterID string) (int64, error) {
	node, found := g.Node(clusterID)
	if !found {
		return 0, &graph.WiringError{Source: ServiceID, Target: clusterID, Message: "database cluster has not been declared"}
	}
	port, found, err := unstructured.NestedInt64(node.Object, "Properties", "Port")
	if err != nil || !found {
		return 0, &graph.WiringError{Source: ServiceID, Target: clusterID, Message: "database cluster declares no port"}
	}
	return port, nil
}

func portMismatch(source, target string, edge, declared int64) error {
	return &graph.WiringError{
		Source:  source,
		Target:  target,
		Message: fmt.Sprintf("port %d does not match the declared database port %d", edge, declared),
	}
}
