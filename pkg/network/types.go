package network

import (
	"fmt"
	"sort"
	"strings"
)

// SubnetType classifies a subnet by its route to the internet
type SubnetType string

const (
	// SubnetTypePublic subnets route to an internet gateway
	SubnetTypePublic SubnetType = "Public"

	// SubnetTypePrivate subnets have no internet gateway route
	SubnetTypePrivate SubnetType = "Private"
)

// Subnet is a resolved subnet of a Network
type Subnet struct {
	ID               string     `json:"id"`
	AvailabilityZone string     `json:"availabilityZone"`
	CIDR             string     `json:"cidr,omitempty"`
	RouteTableID     string     `json:"routeTableId,omitempty"`
	Type             SubnetType `json:"type"`
}

// Network is a resolved virtual private network
type Network struct {
	ID      string   `json:"id"`
	CIDR    string   `json:"cidr"`
	Subnets []Subnet `json:"subnets"`
}

// SelectSubnets returns the subnets of the given type, sorted by
// availability zone then ID
func (n *Network) SelectSubnets(t SubnetType) []Subnet {
	var selected []Subnet
	for _, s := range n.Subnets {
		if s.Type == t {
			selected = append(selected, s)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].AvailabilityZone != selected[j].AvailabilityZone {
			return selected[i].AvailabilityZone < selected[j].AvailabilityZone
		}
		return selected[i].ID < selected[j].ID
	})
	return selected
}

// OnePerZone keeps the first subnet in each availability zone
func OnePerZone(subnets []Subnet) []Subnet {
	seen := make(map[string]bool)
	var out []Subnet
	for _, s := range subnets {
		if seen[s.AvailabilityZone] {
			continue
		}
		seen[s.AvailabilityZone] = true
		out = append(out, s)
	}
	return out
}

// RouteTableIDs returns the distinct route tables of the network's subnets
func (n *Network) RouteTableIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range n.Subnets {
		if s.RouteTableID == "" || seen[s.RouteTableID] {
			continue
		}
		seen[s.RouteTableID] = true
		ids = append(ids, s.RouteTableID)
	}
	sort.Strings(ids)
	return ids
}

// LookupCriteria describes which network to resolve
type LookupCriteria struct {
	Account   string            `json:"account"`
	Region    string            `json:"region"`
	IsDefault bool              `json:"isDefault,omitempty"`
	VpcID     string            `json:"vpcId,omitempty"`
	VpcName   string            `json:"vpcName,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Validate checks that the criteria select something
func (c LookupCriteria) Validate() error {
	if c.Account == "" || c.Region == "" {
		return fmt.Errorf("lookup requires account and region")
	}
	if !c.IsDefault && c.VpcID == "" && c.VpcName == "" && len(c.Tags) == 0 {
		return fmt.Errorf("lookup requires isDefault, vpcId, vpcName or tags")
	}
	return nil
}

// Key returns a stable cache key for the criteria
func (c LookupCriteria) Key() string {
	parts := []string{"vpc-provider", "account=" + c.Account}
	if c.IsDefault {
		parts = append(parts, "filter.isDefault=true")
	}
	if c.VpcID != "" {
		parts = append(parts, "filter.vpc-id="+c.VpcID)
	}
	if c.VpcName != "" {
		parts = append(parts, "filter.tag:Name="+c.VpcName)
	}
	keys := make([]string, 0, len(c.Tags))
	for k := range c.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("filter.tag:%s=%s", k, c.Tags[k]))
	}
	parts = append(parts, "region="+c.Region)
	return strings.Join(parts, ":")
}
