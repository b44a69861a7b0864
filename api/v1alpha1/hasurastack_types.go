/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// GroupVersion is the apiVersion of HasuraStack documents
	GroupVersion = "stack.hasura.example.com/v1alpha1"

	// Kind is the kind of HasuraStack documents
	Kind = "HasuraStack"
)

// HasuraStackSpec defines the desired shape of the provisioned GraphQL service
type HasuraStackSpec struct {
	// Env selects the target account and region
	Env Environment `json:"env"`

	// Network holds the lookup criteria for the network to deploy into
	Network NetworkLookup `json:"network"`

	// Ingress is the allowlist of sources that may reach the database directly
	// +optional
	Ingress []IngressRule `json:"ingress,omitempty"`

	// Database configures the relational database cluster
	Database DatabaseSpec `json:"database"`

	// Service configures the containerized GraphQL engine
	Service ServiceSpec `json:"service"`

	// HealthCheck configures the load balancer health check for the service
	HealthCheck HealthCheckSpec `json:"healthCheck"`
}

// Environment selects the target account and region
type Environment struct {
	// Account is the 12-digit cloud account ID
	Account string `json:"account"`

	// Region is the cloud region, e.g. us-east-2
	Region string `json:"region"`
}

// NetworkLookup describes how to find an existing network
type NetworkLookup struct {
	// IsDefault selects the account's default network
	// +optional
	IsDefault bool `json:"isDefault,omitempty"`

	// VpcID selects a network by ID
	// +optional
	VpcID string `json:"vpcId,omitempty"`

	// VpcName selects a network by its Name tag
	// +optional
	VpcName string `json:"vpcName,omitempty"`

	// Tags selects a network carrying all of these tags
	// +optional
	Tags map[string]string `json:"tags,omitempty"`
}

// IngressRule allows a CIDR to reach the database on a port
type IngressRule struct {
	// CIDR is the source IPv4 range, e.g. 73.219.135.83/32
	CIDR string `json:"cidr"`

	// Protocol is tcp, udp or icmp
	// +kubebuilder:default="tcp"
	Protocol string `json:"protocol,omitempty"`

	// Port is the destination port
	Port int32 `json:"port"`

	// Description is a human-readable reason for the rule
	// +optional
	Description string `json:"description,omitempty"`
}

// DatabaseSpec configures the database cluster
type DatabaseSpec struct {
	// Engine is the cluster engine
	// +kubebuilder:default="aurora-postgresql"
	Engine string `json:"engine,omitempty"`

	// EngineVersion is the engine version
	// +kubebuilder:default="13.9"
	EngineVersion string `json:"engineVersion,omitempty"`

	// Instances is the number of instances in the cluster
	// +kubebuilder:validation:Minimum=1
	Instances int32 `json:"instances,omitempty"`

	// MinCapacity is the lower serverless capacity bound in capacity units.
	// Zero lets the cluster pause when idle.
	// +optional
	MinCapacity *float64 `json:"minCapacity,omitempty"`

	// MaxCapacity is the upper serverless capacity bound in capacity units
	MaxCapacity float64 `json:"maxCapacity,omitempty"`

	// Port is the port the cluster listens on
	Port int32 `json:"port,omitempty"`

	// PubliclyAccessible places instances behind public addresses
	// +optional
	PubliclyAccessible *bool `json:"publiclyAccessible,omitempty"`

	// SubnetType selects the subnet class instances are placed in
	// +kubebuilder:validation:Enum=Public;Private
	SubnetType string `json:"subnetType,omitempty"`

	// AutoMinorVersionUpgrade enables automatic minor engine upgrades
	// +optional
	AutoMinorVersionUpgrade *bool `json:"autoMinorVersionUpgrade,omitempty"`

	// Username is the administrative user stored in the generated credential
	Username string `json:"username,omitempty"`
}

// ServiceSpec configures the containerized service
type ServiceSpec struct {
	// Image is the container image to run
	Image ImageSpec `json:"image"`

	// CPU is the task CPU in units (1024 = 1 vCPU)
	CPU int32 `json:"cpu,omitempty"`

	// MemoryMiB is the task memory in MiB
	MemoryMiB int32 `json:"memoryMiB,omitempty"`

	// DesiredCount is the number of running tasks; zero keeps the service
	// declared but stopped
	// +optional
	DesiredCount *int32 `json:"desiredCount,omitempty"`

	// ContainerPort is the port the container listens on
	ContainerPort int32 `json:"containerPort,omitempty"`

	// ListenerPort is the public load balancer port
	ListenerPort int32 `json:"listenerPort,omitempty"`

	// CPUArchitecture is ARM64 or X86_64
	// +kubebuilder:validation:Enum=ARM64;X86_64
	CPUArchitecture string `json:"cpuArchitecture,omitempty"`

	// PublicLoadBalancer exposes the service to the internet
	// +optional
	PublicLoadBalancer *bool `json:"publicLoadBalancer,omitempty"`

	// EnableLogging ships container output to a log group
	// +optional
	EnableLogging *bool `json:"enableLogging,omitempty"`

	// Environment holds plain environment variables
	// +optional
	Environment map[string]string `json:"environment,omitempty"`

	// Secrets maps environment variable names to credential fields
	// (host, port, username, password) or to adminSecret, a key generated
	// for the service. Values are projected at provisioning time.
	// +optional
	Secrets map[string]string `json:"secrets,omitempty"`
}

// ImageSpec identifies the container image. Exactly one of URI or
// Directory must be set.
type ImageSpec struct {
	// URI is a prebuilt image reference
	// +optional
	URI string `json:"uri,omitempty"`

	// Directory is a build context; the image is built by external tooling
	// and tagged with the directory's content fingerprint
	// +optional
	Directory string `json:"directory,omitempty"`

	// Platform is the image platform, e.g. linux/arm64
	// +optional
	Platform string `json:"platform,omitempty"`
}

// HealthCheckSpec configures the service health check
type HealthCheckSpec struct {
	// Enabled turns the health check on
	// +optional
	Enabled *bool `json:"enabled,omitempty"`

	// Path is the HTTP path probed by the load balancer
	Path string `json:"path,omitempty"`

	// HealthyHTTPCodes are the response codes accepted as healthy
	HealthyHTTPCodes []int32 `json:"healthyHttpCodes,omitempty"`
}

// HasuraStack is the Schema for a GraphQL service stack
type HasuraStack struct {
	metav1.TypeMeta `json:",inline"`

	// metadata is a standard object metadata
	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// spec defines the desired stack
	// +required
	Spec HasuraStackSpec `json:"spec"`
}
