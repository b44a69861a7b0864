package graph

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// FormatVersion is the version of the graph artifact format
const FormatVersion = "v1"

// Graph represents a dependency graph of cloud resources to be provisioned
// by an external deployment engine
type Graph struct {
	// Metadata contains information about the graph
	Metadata GraphMetadata `json:"metadata"`

	// Nodes contains all the resources, in declaration order
	Nodes []Node `json:"nodes"`

	// Overrides contains the raw structural patches recorded against nodes
	Overrides []RawOverride `json:"overrides,omitempty"`

	// Outputs are named values exported to the deployment engine
	Outputs map[string]Output `json:"outputs,omitempty"`

	finalized bool
}

// GraphMetadata contains metadata about the graph
type GraphMetadata struct {
	// Name is a human-readable name for the graph
	Name string `json:"name"`

	// Version is the version of the graph format
	Version string `json:"version"`

	// Account is the target cloud account
	Account string `json:"account,omitempty"`

	// Region is the target cloud region
	Region string `json:"region,omitempty"`

	// Network is the ID of the network the graph is placed in. When set,
	// every literal VpcId property must name it.
	Network string `json:"network,omitempty"`

	// RenderHash is a hash of the finalized graph for change detection
	RenderHash string `json:"renderHash,omitempty"`
}

// Node represents a single resource in the graph
type Node struct {
	// ID is the logical identifier of this node within the graph
	ID string `json:"id"`

	// Type is the provider resource type (e.g. AWS::EC2::SecurityGroup)
	Type string `json:"type"`

	// Object is the underlying structural representation of the resource.
	// Properties live under the "Properties" key; RawOverride paths are
	// addressed relative to this map.
	Object map[string]interface{} `json:"object"`

	// DependsOn lists the IDs of nodes that must exist before this node
	DependsOn []string `json:"dependsOn,omitempty"`
}

// Output is a value exported from the graph
type Output struct {
	Value       interface{} `json:"value"`
	Description string      `json:"description,omitempty"`
}

// New creates an empty graph with the given name
func New(name, account, region string) *Graph {
	return &Graph{
		Metadata: GraphMetadata{
			Name:    name,
			Version: FormatVersion,
			Account: account,
			Region:  region,
		},
	}
}

// NewNode creates a node with the given type and properties
func NewNode(id, typ string, properties map[string]interface{}) Node {
	if properties == nil {
		properties = map[string]interface{}{}
	}
	return Node{
		ID:     id,
		Type:   typ,
		Object: map[string]interface{}{"Properties": properties},
	}
}

// AddNode appends a node to the graph. IDs must be unique and every
// reference held by the node must point at an already added node.
func (g *Graph) AddNode(n Node) error {
	if g.finalized {
		return fmt.Errorf("graph %s is finalized", g.Metadata.Name)
	}
	if err := validateID(n.ID); err != nil {
		return err
	}
	if _, found := g.Node(n.ID); found {
		return &ValidationError{Field: "nodes", Message: fmt.Sprintf("duplicate node ID: %s", n.ID)}
	}
	if n.Type == "" {
		return &ValidationError{Field: n.ID, Message: "node type is required"}
	}
	if n.Object == nil {
		n.Object = map[string]interface{}{"Properties": map[string]interface{}{}}
	}
	if err := checkJSONValue(n.ID, n.Object); err != nil {
		return err
	}

	for _, ref := range append(References(n.Object), n.DependsOn...) {
		if _, found := g.Node(ref); !found {
			return &WiringError{Source: n.ID, Target: ref, Message: "references a node that has not been declared"}
		}
	}

	g.Nodes = append(g.Nodes, n)
	return nil
}

// Node looks up a node by ID
func (g *Graph) Node(id string) (*Node, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// SetOutput records a named output
func (g *Graph) SetOutput(name string, value interface{}, description string) error {
	if g.finalized {
		return fmt.Errorf("graph %s is finalized", g.Metadata.Name)
	}
	if err := validateID(name); err != nil {
		return err
	}
	if err := checkJSONValue(name, value); err != nil {
		return err
	}
	for _, ref := range References(value) {
		if _, found := g.Node(ref); !found {
			return &WiringError{Source: "output " + name, Target: ref, Message: "references a node that has not been declared"}
		}
	}
	if g.Outputs == nil {
		g.Outputs = make(map[string]Output)
	}
	g.Outputs[name] = Output{Value: value, Description: description}
	return nil
}

// Finalize applies recorded overrides, derives reference edges, validates
// the graph, and stamps the render hash. A finalized graph rejects further
// modification and Finalize may only be called once.
func (g *Graph) Finalize() error {
	if g.finalized {
		return fmt.Errorf("graph %s is already finalized", g.Metadata.Name)
	}

	if err := g.applyOverrides(); err != nil {
		return err
	}

	g.resolveDependencies()

	if err := g.Validate(); err != nil {
		return err
	}

	if _, err := BuildDAG(g); err != nil {
		return err
	}

	g.SetHash()
	g.finalized = true
	return nil
}

// Finalized reports whether Finalize has completed
func (g *Graph) Finalized() bool {
	return g.finalized
}

// CountByType returns the number of nodes per resource type
func (g *Graph) CountByType() map[string]int {
	counts := make(map[string]int)
	for _, n := range g.Nodes {
		counts[n.Type]++
	}
	return counts
}

// ComputeHash computes a hash of the graph for drift detection.
// Metadata is excluded so that only resource changes alter the hash.
func (g *Graph) ComputeHash() string {
	type hashableGraph struct {
		Nodes     []Node            `json:"nodes"`
		Overrides []RawOverride     `json:"overrides"`
		Outputs   map[string]Output `json:"outputs"`
	}

	h := hashableGraph{
		Nodes:     g.Nodes,
		Overrides: g.Overrides,
		Outputs:   g.Outputs,
	}

	// encoding/json sorts map keys, so equal graphs encode identically
	data, err := json.Marshal(h)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%x", xxhash.Sum64(data))
}

// SetHash computes and sets the RenderHash field
func (g *Graph) SetHash() {
	g.Metadata.RenderHash = g.ComputeHash()
}

// HasChanged returns true if the graph has changed since the last hash
func (g *Graph) HasChanged(previousHash string) bool {
	if previousHash == "" {
		return true
	}
	return g.ComputeHash() != previousHash
}
