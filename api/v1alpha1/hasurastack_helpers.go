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
	"k8s.io/utils/ptr"
)

const (
	// SubnetTypePublic places resources in subnets routed to an internet gateway
	SubnetTypePublic = "Public"

	// SubnetTypePrivate places resources in subnets without a direct internet route
	SubnetTypePrivate = "Private"
)

const (
	// CPUArchitectureARM64 runs tasks on ARM64
	CPUArchitectureARM64 = "ARM64"

	// CPUArchitectureX86 runs tasks on X86_64
	CPUArchitectureX86 = "X86_64"
)

// Defaults applied to unset fields
const (
	DefaultEngine          = "aurora-postgresql"
	DefaultEngineVersion   = "13.9"
	DefaultInstances       = 1
	DefaultMinCapacity     = 0.5
	DefaultMaxCapacity     = 1.0
	DefaultDatabasePort    = 5432
	DefaultUsername        = "postgres"
	DefaultCPU             = 256
	DefaultMemoryMiB       = 512
	DefaultDesiredCount    = 1
	DefaultContainerPort   = 8080
	DefaultListenerPort    = 80
	DefaultImagePlatform   = "linux/arm64"
	DefaultHealthCheckPath = "/healthz"
	DefaultProtocol        = "tcp"
)

// SetDefaults fills unset fields. Boolean knobs default to the
// cost-saving choices: public placement and a public load balancer.
func (s *HasuraStack) SetDefaults() {
	if s.APIVersion == "" {
		s.APIVersion = GroupVersion
	}
	if s.Kind == "" {
		s.Kind = Kind
	}

	spec := &s.Spec
	if spec.Network.VpcID == "" && spec.Network.VpcName == "" && len(spec.Network.Tags) == 0 {
		spec.Network.IsDefault = true
	}

	for i := range spec.Ingress {
		if spec.Ingress[i].Protocol == "" {
			spec.Ingress[i].Protocol = DefaultProtocol
		}
	}

	db := &spec.Database
	if db.Engine == "" {
		db.Engine = DefaultEngine
	}
	if db.EngineVersion == "" {
		db.EngineVersion = DefaultEngineVersion
	}
	if db.Instances == 0 {
		db.Instances = DefaultInstances
	}
	if db.MinCapacity == nil {
		db.MinCapacity = ptr.To(DefaultMinCapacity)
	}
	if db.MaxCapacity == 0 {
		db.MaxCapacity = DefaultMaxCapacity
	}
	if db.Port == 0 {
		db.Port = DefaultDatabasePort
	}
	if db.PubliclyAccessible == nil {
		db.PubliclyAccessible = ptr.To(true)
	}
	if db.SubnetType == "" {
		db.SubnetType = SubnetTypePublic
	}
	if db.AutoMinorVersionUpgrade == nil {
		db.AutoMinorVersionUpgrade = ptr.To(true)
	}
	if db.Username == "" {
		db.Username = DefaultUsername
	}

	svc := &spec.Service
	if svc.Image.Directory != "" && svc.Image.Platform == "" {
		svc.Image.Platform = DefaultImagePlatform
	}
	if svc.CPU == 0 {
		svc.CPU = DefaultCPU
	}
	if svc.MemoryMiB == 0 {
		svc.MemoryMiB = DefaultMemoryMiB
	}
	if svc.DesiredCount == nil {
		svc.DesiredCount = ptr.To[int32](DefaultDesiredCount)
	}
	if svc.ContainerPort == 0 {
		svc.ContainerPort = DefaultContainerPort
	}
	if svc.ListenerPort == 0 {
		svc.ListenerPort = DefaultListenerPort
	}
	if svc.CPUArchitecture == "" {
		svc.CPUArchitecture = CPUArchitectureARM64
	}
	if svc.PublicLoadBalancer == nil {
		svc.PublicLoadBalancer = ptr.To(true)
	}
	if svc.EnableLogging == nil {
		svc.EnableLogging = ptr.To(true)
	}

	hc := &spec.HealthCheck
	if hc.Enabled == nil {
		hc.Enabled = ptr.To(true)
	}
	if hc.Path == "" {
		hc.Path = DefaultHealthCheckPath
	}
	if hc.HealthyHTTPCodes == nil {
		hc.HealthyHTTPCodes = []int32{200}
	}
}

// DeepCopy returns a copy of the stack that shares no mutable state
func (s *HasuraStack) DeepCopy() *HasuraStack {
	if s == nil {
		return nil
	}
	out := new(HasuraStack)
	out.TypeMeta = s.TypeMeta
	s.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	out.Spec = s.Spec

	if s.Spec.Network.Tags != nil {
		out.Spec.Network.Tags = make(map[string]string, len(s.Spec.Network.Tags))
		for k, v := range s.Spec.Network.Tags {
			out.Spec.Network.Tags[k] = v
		}
	}
	if s.Spec.Ingress != nil {
		out.Spec.Ingress = append([]IngressRule(nil), s.Spec.Ingress...)
	}
	out.Spec.Database.MinCapacity = copyPtr(s.Spec.Database.MinCapacity)
	out.Spec.Service.DesiredCount = copyPtr(s.Spec.Service.DesiredCount)
	out.Spec.Database.PubliclyAccessible = copyPtr(s.Spec.Database.PubliclyAccessible)
	out.Spec.Database.AutoMinorVersionUpgrade = copyPtr(s.Spec.Database.AutoMinorVersionUpgrade)
	out.Spec.Service.PublicLoadBalancer = copyPtr(s.Spec.Service.PublicLoadBalancer)
	out.Spec.Service.EnableLogging = copyPtr(s.Spec.Service.EnableLogging)
	out.Spec.HealthCheck.Enabled = copyPtr(s.Spec.HealthCheck.Enabled)
	if s.Spec.Service.Environment != nil {
		out.Spec.Service.Environment = make(map[string]string, len(s.Spec.Service.Environment))
		for k, v := range s.Spec.Service.Environment {
			out.Spec.Service.Environment[k] = v
		}
	}
	if s.Spec.Service.Secrets != nil {
		out.Spec.Service.Secrets = make(map[string]string, len(s.Spec.Service.Secrets))
		for k, v := range s.Spec.Service.Secrets {
			out.Spec.Service.Secrets[k] = v
		}
	}
	if s.Spec.HealthCheck.HealthyHTTPCodes != nil {
		out.Spec.HealthCheck.HealthyHTTPCodes = make([]int32, len(s.Spec.HealthCheck.HealthyHTTPCodes))
		copy(out.Spec.HealthCheck.HealthyHTTPCodes, s.Spec.HealthCheck.HealthyHTTPCodes)
	}
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	return ptr.To(*p)
}
