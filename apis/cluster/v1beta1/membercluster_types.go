/*
Copyright 2025 The KubeFleet Authors.

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

package v1beta1

import (
	"strings"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

const (
	// DefaultAPIContainerPort is the port the Kubernetes API server listens on inside a member container.
	DefaultAPIContainerPort = 16443
)

// ContainerState is the lifecycle state of the system container that hosts a member cluster.
type ContainerState string

const (
	// ContainerStateAbsent means no container with the member name exists.
	ContainerStateAbsent ContainerState = "Absent"
	// ContainerStateProvisioning means the container is being launched and initialized.
	ContainerStateProvisioning ContainerState = "Provisioning"
	// ContainerStateRunning means the container is up.
	ContainerStateRunning ContainerState = "Running"
	// ContainerStateStopped means the container exists but is not running.
	ContainerStateStopped ContainerState = "Stopped"
	// ContainerStateDestroyed means the container has been deleted by the destroy path. It is terminal.
	ContainerStateDestroyed ContainerState = "Destroyed"
)

// FederationState is the registration state of a member cluster in the federation control plane.
type FederationState string

const (
	// FederationStateUnregistered means the control plane has no cluster object for the member.
	FederationStateUnregistered FederationState = "Unregistered"
	// FederationStateRegistering means a join has been issued and has not completed yet.
	FederationStateRegistering FederationState = "Registering"
	// FederationStateJoinedNotReady means the cluster object exists but its Ready condition is not true.
	FederationStateJoinedNotReady FederationState = "JoinedNotReady"
	// FederationStateReady means the cluster object reports Ready=True.
	FederationStateReady FederationState = "Ready"
	// FederationStateUnjoining means an unjoin has been issued and has not completed yet.
	FederationStateUnjoining FederationState = "Unjoining"
)

// Purpose names what an exposed host port is used for: "api" or "app:<name>".
type Purpose string

const (
	// PurposeAPI is the purpose of the member's Kubernetes API endpoint.
	PurposeAPI Purpose = "api"

	appPurposePrefix = "app:"
)

// AppPurpose returns the purpose used for the application with the given name.
func AppPurpose(name string) Purpose {
	return Purpose(appPurposePrefix + name)
}

// IsApp returns true if the purpose refers to an application port.
func (p Purpose) IsApp() bool {
	return strings.HasPrefix(string(p), appPurposePrefix) && len(p) > len(appPurposePrefix)
}

// AppName returns the application name of an application purpose, or an empty string.
func (p Purpose) AppName() string {
	if !p.IsApp() {
		return ""
	}
	return strings.TrimPrefix(string(p), appPurposePrefix)
}

// PortMapping maps a host port to the container port it forwards to.
type PortMapping struct {
	HostPort      int `json:"hostPort"`
	ContainerPort int `json:"containerPort"`
}

// MemberClusterConditionType defines a specific condition of a member cluster.
type MemberClusterConditionType string

const (
	// ConditionTypeProvisioned indicates whether the member container exists and has finished initializing.
	ConditionTypeProvisioned MemberClusterConditionType = "Provisioned"
	// ConditionTypeBootstrapped indicates whether the Kubernetes distribution is installed and ready.
	ConditionTypeBootstrapped MemberClusterConditionType = "Bootstrapped"
	// ConditionTypeAPIExposed indicates whether the "api" proxy device is installed.
	ConditionTypeAPIExposed MemberClusterConditionType = "APIExposed"
	// ConditionTypeCredentialRewritten indicates whether the host-usable access descriptor was written.
	ConditionTypeCredentialRewritten MemberClusterConditionType = "CredentialRewritten"
	// ConditionTypeHealthy indicates whether the member API answered through the proxy.
	ConditionTypeHealthy MemberClusterConditionType = "Healthy"
	// ConditionTypeJoined indicates whether the member is registered with the control plane.
	ConditionTypeJoined MemberClusterConditionType = "Joined"
	// ConditionTypeReady mirrors the federation Ready condition of the member.
	ConditionTypeReady MemberClusterConditionType = "Ready"
)

// MemberCluster is one federated Kubernetes cluster running inside a system container.
type MemberCluster struct {
	// Name is the identifier of the member; it names the container, the federation
	// cluster object and the access descriptor file.
	Name string `json:"name"`

	ContainerState ContainerState `json:"containerState"`

	// APIContainerPort is the fixed port of the API server inside the container.
	APIContainerPort int `json:"apiContainerPort"`
	// APIHostPort is the host port assigned to the member's API; zero until exposed.
	APIHostPort int `json:"apiHostPort,omitempty"`

	// AccessDescriptorPath is where the host-usable kubeconfig of the member lives.
	AccessDescriptorPath string `json:"accessDescriptorPath,omitempty"`

	FederationState FederationState `json:"federationState"`

	// ProxyDevices maps each exposed purpose to its port mapping.
	ProxyDevices map[Purpose]PortMapping `json:"proxyDevices,omitempty"`

	// Conditions record the outcome of the last attempt at each lifecycle stage.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// NewMemberCluster returns a member cluster that does not exist anywhere yet.
func NewMemberCluster(name string) *MemberCluster {
	return &MemberCluster{
		Name:             name,
		ContainerState:   ContainerStateAbsent,
		APIContainerPort: DefaultAPIContainerPort,
		FederationState:  FederationStateUnregistered,
		ProxyDevices:     map[Purpose]PortMapping{},
	}
}

// SetProxyDevice records an exposed port mapping for the given purpose.
func (m *MemberCluster) SetProxyDevice(purpose Purpose, mapping PortMapping) {
	if m.ProxyDevices == nil {
		m.ProxyDevices = map[Purpose]PortMapping{}
	}
	m.ProxyDevices[purpose] = mapping
	if purpose == PurposeAPI {
		m.APIHostPort = mapping.HostPort
	}
}

// RemoveProxyDevice forgets the port mapping of the given purpose.
func (m *MemberCluster) RemoveProxyDevice(purpose Purpose) {
	delete(m.ProxyDevices, purpose)
	if purpose == PurposeAPI {
		m.APIHostPort = 0
	}
}

// HasValidAPIDevice returns true if the "api" proxy device exists and targets the API container port.
func (m *MemberCluster) HasValidAPIDevice() bool {
	mapping, ok := m.ProxyDevices[PurposeAPI]
	return ok && mapping.HostPort > 0 && mapping.ContainerPort == m.APIContainerPort
}

func (m *MemberCluster) SetConditions(conditions ...metav1.Condition) {
	for _, c := range conditions {
		meta.SetStatusCondition(&m.Conditions, c)
	}
}

func (m *MemberCluster) GetCondition(conditionType string) *metav1.Condition {
	return meta.FindStatusCondition(m.Conditions, conditionType)
}

func (m *MemberCluster) RemoveCondition(conditionType string) {
	meta.RemoveStatusCondition(&m.Conditions, conditionType)
}
