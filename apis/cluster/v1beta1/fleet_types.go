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
	"fmt"
)

const (
	// DefaultControlPlaneNamespace is the namespace the federation control plane runs in on the host cluster.
	DefaultControlPlaneNamespace = "karmada-system"
)

// ControlPlane is the central federation endpoint the members register with.
type ControlPlane struct {
	// Name is a display name for the control plane.
	Name string `json:"name"`
	// KubeconfigPath is the access descriptor of the control plane API.
	KubeconfigPath string `json:"kubeconfigPath"`
	// HostKubeconfigPath is the access descriptor of the cluster hosting the control plane.
	HostKubeconfigPath string `json:"hostKubeconfigPath,omitempty"`
	// Namespace is where the control plane pods run on the host cluster.
	Namespace string `json:"namespace,omitempty"`
}

// Fleet is an ordered set of member clusters plus the control plane they register with.
// Host port bookkeeping lives in the port allocation table owned by the exposure registry.
type Fleet struct {
	ControlPlane ControlPlane

	members []*MemberCluster
}

// NewFleet returns a fleet with fresh member clusters for the given names.
func NewFleet(controlPlane ControlPlane, names ...string) *Fleet {
	f := &Fleet{ControlPlane: controlPlane}
	for _, name := range names {
		_ = f.Add(NewMemberCluster(name))
	}
	return f
}

// Add appends a member to the fleet. Names must be unique.
func (f *Fleet) Add(m *MemberCluster) error {
	if _, ok := f.Get(m.Name); ok {
		return fmt.Errorf("member cluster %q is already part of the fleet", m.Name)
	}
	f.members = append(f.members, m)
	return nil
}

// Get returns the member with the given name.
func (f *Fleet) Get(name string) (*MemberCluster, bool) {
	for _, m := range f.members {
		if m.Name == name {
			return m, true
		}
	}
	return nil, false
}

// GetOrAdd returns the member with the given name, adding a fresh one if it is unknown.
func (f *Fleet) GetOrAdd(name string) *MemberCluster {
	if m, ok := f.Get(name); ok {
		return m
	}
	m := NewMemberCluster(name)
	f.members = append(f.members, m)
	return m
}

// Remove drops the member with the given name, keeping the order of the others.
func (f *Fleet) Remove(name string) bool {
	for i, m := range f.members {
		if m.Name == name {
			f.members = append(f.members[:i], f.members[i+1:]...)
			return true
		}
	}
	return false
}

// Members returns the members in fleet order.
func (f *Fleet) Members() []*MemberCluster {
	out := make([]*MemberCluster, len(f.members))
	copy(out, f.members)
	return out
}

// Names returns the member names in fleet order.
func (f *Fleet) Names() []string {
	names := make([]string, 0, len(f.members))
	for _, m := range f.members {
		names = append(names, m.Name)
	}
	return names
}

// CountInFederationState counts the members in the given federation state.
func (f *Fleet) CountInFederationState(state FederationState) int {
	count := 0
	for _, m := range f.members {
		if m.FederationState == state {
			count++
		}
	}
	return count
}
