package graph

import (
	"fmt"
	"regexp"
)

var logicalIDPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{0,254}$`)

func validateID(id string) error {
	if id == "" {
		return &ValidationError{Field: "nodes", Message: "node ID is required"}
	}
	if !logicalIDPattern.MatchString(id) {
		return &ValidationError{Field: id, Message: "node ID must be alphanumeric and start with a letter"}
	}
	return nil
}

// Validate checks the integrity of the Graph
func (g *Graph) Validate() error {
	if g.Metadata.Name == "" {
		return &ValidationError{Field: "metadata.name", Message: "required"}
	}

	if g.Metadata.Version == "" {
		return &ValidationError{Field: "metadata.version", Message: "required"}
	}

	// Check for duplicate node IDs
	nodeIDs := make(map[string]bool)
	for _, node := range g.Nodes {
		if err := validateID(node.ID); err != nil {
			return err
		}
		if nodeIDs[node.ID] {
			return &ValidationError{Field: "nodes", Message: fmt.Sprintf("duplicate node ID: %s", node.ID)}
		}
		nodeIDs[node.ID] = true
	}

	for _, node := range g.Nodes {
		if err := node.Validate(nodeIDs); err != nil {
			return err
		}
		if err := node.validateNetwork(g.Metadata.Network); err != nil {
			return err
		}
	}

	for name, out := range g.Outputs {
		for _, ref := range References(out.Value) {
			if !nodeIDs[ref] {
				return &WiringError{Source: "output " + name, Target: ref, Message: "references a non-existent node"}
			}
		}
	}

	return nil
}

// Validate checks the integrity of a Node
func (n *Node) Validate(allNodeIDs map[string]bool) error {
	if n.Type == "" {
		return &ValidationError{Field: n.ID, Message: "node type is required"}
	}

	if n.Object == nil {
		return &ValidationError{Field: n.ID, Message: "node object is required"}
	}

	if props, found := n.Object["Properties"]; found {
		if _, ok := props.(map[string]interface{}); !ok {
			return &ValidationError{Field: n.ID + ".Properties", Message: "must be a map"}
		}
	}

	for _, depID := range n.DependsOn {
		if depID == n.ID {
			return &WiringError{Source: n.ID, Target: depID, Message: "node depends on itself"}
		}
		if !allNodeIDs[depID] {
			return &WiringError{Source: n.ID, Target: depID, Message: "dependency does not exist"}
		}
	}

	for _, ref := range References(n.Object) {
		if !allNodeIDs[ref] {
			return &WiringError{Source: n.ID, Target: ref, Message: "references a non-existent node"}
		}
	}

	return nil
}

// validateNetwork checks that a literal VpcId names the graph's network
func (n *Node) validateNetwork(network string) error {
	if network == "" {
		return nil
	}
	props, _ := n.Object["Properties"].(map[string]interface{})
	vpc, ok := props["VpcId"].(string)
	if !ok || vpc == network {
		return nil
	}
	return &WiringError{Source: n.ID, Target: vpc, Message: fmt.Sprintf("node is placed outside network %s", network)}
}
