package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/sourcegraph/conc/pool"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// EC2API is the subset of the EC2 client used for network lookups
type EC2API interface {
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeRouteTables(ctx context.Context, params *ec2.DescribeRouteTablesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRouteTablesOutput, error)
}

// EC2Resolver resolves networks by querying EC2
type EC2Resolver struct {
	client EC2API
}

// NewEC2Resolver creates a resolver over an existing client
func NewEC2Resolver(client EC2API) *EC2Resolver {
	return &EC2Resolver{client: client}
}

// NewEC2ResolverForRegion loads the default credential chain for a region
func NewEC2ResolverForRegion(ctx context.Context, region string) (*EC2Resolver, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewEC2Resolver(ec2.NewFromConfig(cfg)), nil
}

// LookupNetwork implements Resolver
func (r *EC2Resolver) LookupNetwork(ctx context.Context, criteria LookupCriteria) (*Network, error) {
	key := criteria.Key()
	if err := criteria.Validate(); err != nil {
		return nil, &LookupError{Key: key, Reason: err.Error()}
	}
	logger := log.FromContext(ctx).WithValues("key", key)

	out, err := r.client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{Filters: vpcFilters(criteria)})
	if err != nil {
		return nil, &LookupError{Key: key, Reason: "describe networks", Err: classifyAPIError(err)}
	}
	switch len(out.Vpcs) {
	case 0:
		return nil, &LookupError{Key: key, Reason: "no network matches"}
	case 1:
	default:
		ids := make([]string, 0, len(out.Vpcs))
		for _, v := range out.Vpcs {
			ids = append(ids, aws.ToString(v.VpcId))
		}
		return nil, &LookupError{Key: key, Reason: "multiple networks match: " + strings.Join(ids, ", ")}
	}

	vpc := out.Vpcs[0]
	vpcID := aws.ToString(vpc.VpcId)
	logger.V(1).Info("Resolved network", "vpcId", vpcID)

	var subnets []types.Subnet
	var routeTables []types.RouteTable

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		var err error
		subnets, err = r.describeSubnets(ctx, vpcID)
		return err
	})
	p.Go(func(ctx context.Context) error {
		var err error
		routeTables, err = r.describeRouteTables(ctx, vpcID)
		return err
	})
	if err := p.Wait(); err != nil {
		return nil, &LookupError{Key: key, Reason: "describe subnets", Err: classifyAPIError(err)}
	}

	n := &Network{
		ID:      vpcID,
		CIDR:    aws.ToString(vpc.CidrBlock),
		Subnets: classifySubnets(subnets, routeTables),
	}
	if len(n.Subnets) == 0 {
		return nil, &LookupError{Key: key, Reason: fmt.Sprintf("network %s has no subnets", vpcID)}
	}
	logger.V(1).Info("Resolved subnets", "count", len(n.Subnets))
	return n, nil
}

func (r *EC2Resolver) describeSubnets(ctx context.Context, vpcID string) ([]types.Subnet, error) {
	var subnets []types.Subnet
	paginator := ec2.NewDescribeSubnetsPaginator(r.client, &ec2.DescribeSubnetsInput{
		Filters: []types.Filter{{Name: aws.String("vpc-id"), Values: []string{vpcID}}},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		subnets = append(subnets, page.Subnets...)
	}
	return subnets, nil
}

func (r *EC2Resolver) describeRouteTables(ctx context.Context, vpcID string) ([]types.RouteTable, error) {
	var tables []types.RouteTable
	paginator := ec2.NewDescribeRouteTablesPaginator(r.client, &ec2.DescribeRouteTablesInput{
		Filters: []types.Filter{{Name: aws.String("vpc-id"), Values: []string{vpcID}}},
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		tables = append(tables, page.RouteTables...)
	}
	return tables, nil
}

func vpcFilters(c LookupCriteria) []types.Filter {
	var filters []types.Filter
	if c.IsDefault {
		filters = append(filters, types.Filter{Name: aws.String("isDefault"), Values: []string{"true"}})
	}
	if c.VpcID != "" {
		filters = append(filters, types.Filter{Name: aws.String("vpc-id"), Values: []string{c.VpcID}})
	}
	if c.VpcName != "" {
		filters = append(filters, types.Filter{Name: aws.String("tag:Name"), Values: []string{c.VpcName}})
	}
	keys := make([]string, 0, len(c.Tags))
	for k := range c.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		filters = append(filters, types.Filter{Name: aws.String("tag:" + k), Values: []string{c.Tags[k]}})
	}
	return filters
}

// classifySubnets marks a subnet public when its route table (explicitly
// associated, or the main table otherwise) routes to an internet gateway
func classifySubnets(subnets []types.Subnet, tables []types.RouteTable) []Subnet {
	tableBySubnet := make(map[string]types.RouteTable)
	var mainTable *types.RouteTable
	for i := range tables {
		t := tables[i]
		for _, a := range t.Associations {
			if aws.ToBool(a.Main) {
				mainTable = &tables[i]
			}
			if id := aws.ToString(a.SubnetId); id != "" {
				tableBySubnet[id] = t
			}
		}
	}

	out := make([]Subnet, 0, len(subnets))
	for _, s := range subnets {
		id := aws.ToString(s.SubnetId)
		table, found := tableBySubnet[id]
		if !found && mainTable != nil {
			table, found = *mainTable, true
		}

		subnet := Subnet{
			ID:               id,
			AvailabilityZone: aws.ToString(s.AvailabilityZone),
			CIDR:             aws.ToString(s.CidrBlock),
			Type:             SubnetTypePrivate,
		}
		if found {
			subnet.RouteTableID = aws.ToString(table.RouteTableId)
			if routesToInternetGateway(table) {
				subnet.Type = SubnetTypePublic
			}
		}
		out = append(out, subnet)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func routesToInternetGateway(t types.RouteTable) bool {
	for _, r := range t.Routes {
		if strings.HasPrefix(aws.ToString(r.GatewayId), "igw-") {
			return true
		}
	}
	return false
}

// classifyAPIError annotates provider errors with their error code
func classifyAPIError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
	return err
}
