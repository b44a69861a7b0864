package stack

import (
	"fmt"
	"net/netip"
	"strings"

	"k8s.io/utils/ptr"

	"github.com/chazu/hasura-stack/api/v1alpha1"
	"github.com/chazu/hasura-stack/pkg/graph"
)

// Validate checks a defaulted configuration. It duplicates the schema's
// constraints for callers that build without the loader, and adds the
// cross-field checks the schema does not express.
func Validate(cfg *v1alpha1.HasuraStack) error {
	if cfg == nil {
		return &graph.ValidationError{Message: "configuration is required"}
	}
	if cfg.Name == "" {
		return &graph.ValidationError{Field: "metadata.name", Message: "is required"}
	}
	spec := cfg.Spec

	if spec.Env.Account == "" {
		return &graph.ValidationError{Field: "spec.env.account", Message: "is required"}
	}
	if spec.Env.Region == "" {
		return &graph.ValidationError{Field: "spec.env.region", Message: "is required"}
	}

	for i, r := range spec.Ingress {
		field := fmt.Sprintf("spec.ingress[%d]", i)
		prefix, err := netip.ParsePrefix(r.CIDR)
		if err != nil || !prefix.Addr().Is4() {
			return &graph.ValidationError{Field: field + ".cidr", Message: fmt.Sprintf("%q is not an IPv4 CIDR block", r.CIDR)}
		}
		switch r.Protocol {
		case "tcp", "udp", "icmp":
		default:
			return &graph.ValidationError{Field: field + ".protocol", Message: fmt.Sprintf("unsupported protocol %q", r.Protocol)}
		}
		if err := checkPort(field+".port", r.Port, true); err != nil {
			return err
		}
	}

	db := spec.Database
	if db.Instances < 1 {
		return &graph.ValidationError{Field: "spec.database.instances", Message: "at least one instance is required"}
	}
	if err := (ScalingBounds{Min: ptr.Deref(db.MinCapacity, v1alpha1.DefaultMinCapacity), Max: db.MaxCapacity}).Validate(); err != nil {
		return err
	}
	if err := checkPort("spec.database.port", db.Port, false); err != nil {
		return err
	}
	if db.SubnetType != v1alpha1.SubnetTypePublic && db.SubnetType != v1alpha1.SubnetTypePrivate {
		return &graph.ValidationError{Field: "spec.database.subnetType", Message: fmt.Sprintf("unsupported subnet type %q", db.SubnetType)}
	}

	svc := spec.Service
	switch {
	case svc.Image.URI == "" && svc.Image.Directory == "":
		return &graph.ValidationError{Field: "spec.service.image", Message: "one of uri or directory is required"}
	case svc.Image.URI != "" && svc.Image.Directory != "":
		return &graph.ValidationError{Field: "spec.service.image", Message: "uri and directory are mutually exclusive"}
	}
	if svc.CPU <= 0 || svc.MemoryMiB <= 0 {
		return &graph.ValidationError{Field: "spec.service", Message: "cpu and memoryMiB must be positive"}
	}
	if ptr.Deref(svc.DesiredCount, 0) < 0 {
		return &graph.ValidationError{Field: "spec.service.desiredCount", Message: "must not be negative"}
	}
	if err := checkPort("spec.service.containerPort", svc.ContainerPort, false); err != nil {
		return err
	}
	if err := checkPort("spec.service.listenerPort", svc.ListenerPort, false); err != nil {
		return err
	}
	if svc.CPUArchitecture != v1alpha1.CPUArchitectureARM64 && svc.CPUArchitecture != v1alpha1.CPUArchitectureX86 {
		return &graph.ValidationError{Field: "spec.service.cpuArchitecture", Message: fmt.Sprintf("unsupported architecture %q", svc.CPUArchitecture)}
	}
	for name := range svc.Environment {
		if name == "" {
			return &graph.ValidationError{Field: "spec.service.environment", Message: "variable names must not be empty"}
		}
	}
	for name, field := range svc.Secrets {
		if name == "" {
			return &graph.ValidationError{Field: "spec.service.secrets", Message: "variable names must not be empty"}
		}
		if field == AdminSecretSource {
			continue
		}
		if _, err := ParseCredentialField(field); err != nil {
			return &graph.ValidationError{Field: "spec.service.secrets." + name, Message: err.Error()}
		}
	}

	hc := spec.HealthCheck
	if !strings.HasPrefix(hc.Path, "/") {
		return &graph.ValidationError{Field: "spec.healthCheck.path", Message: "must start with /"}
	}
	if len(hc.HealthyHTTPCodes) == 0 {
		return &graph.ValidationError{Field: "spec.healthCheck.healthyHttpCodes", Message: "at least one code is required"}
	}
	for _, code := range hc.HealthyHTTPCodes {
		if code < 200 || code > 499 {
			return &graph.ValidationError{Field: "spec.healthCheck.healthyHttpCodes", Message: fmt.Sprintf("code %d is outside 200-499", code)}
		}
	}
	return nil
}

func checkPort(field string, port int32, allowZero bool) error {
	lowest := int32(1)
	if allowZero {
		lowest = 0
	}
	if port < lowest || port > 65535 {
		return &graph.ValidationError{Field: field, Message: fmt.Sprintf("port %d is out of range", port)}
	}
	return nil
}
