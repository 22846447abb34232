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

	"k8s.io/apimachinery/pkg/util/sets"
)

// InvalidTransitionError is returned when a lifecycle state change is not allowed
// from the current state of a member cluster.
type InvalidTransitionError struct {
	Member string
	Kind   string
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("member cluster %q cannot move %s state from %s to %s", e.Member, e.Kind, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

var containerTransitions = map[ContainerState]sets.Set[ContainerState]{
	ContainerStateAbsent: sets.New(
		ContainerStateProvisioning, ContainerStateRunning, ContainerStateStopped, ContainerStateDestroyed),
	ContainerStateProvisioning: sets.New(
		ContainerStateRunning, ContainerStateStopped, ContainerStateAbsent, ContainerStateDestroyed),
	ContainerStateRunning: sets.New(ContainerStateStopped, ContainerStateDestroyed),
	ContainerStateStopped: sets.New(ContainerStateRunning, ContainerStateDestroyed),
	ContainerStateDestroyed: sets.New[ContainerState](),
}

var federationTransitions = map[FederationState]sets.Set[FederationState]{
	FederationStateUnregistered: sets.New(FederationStateRegistering, FederationStateUnjoining),
	FederationStateRegistering: sets.New(
		FederationStateJoinedNotReady, FederationStateReady, FederationStateUnregistered, FederationStateUnjoining),
	// JoinedNotReady -> Unregistered is the repair transition.
	FederationStateJoinedNotReady: sets.New(
		FederationStateReady, FederationStateUnregistered, FederationStateUnjoining),
	FederationStateReady:     sets.New(FederationStateJoinedNotReady, FederationStateUnjoining),
	FederationStateUnjoining: sets.New(FederationStateUnregistered),
}

// TransitionContainer moves the container state of the member, rejecting moves the
// lifecycle does not allow. Staying in the same state is always allowed.
func (m *MemberCluster) TransitionContainer(to ContainerState) error {
	from := m.ContainerState
	if from == "" {
		from = ContainerStateAbsent
	}
	if from == to {
		return nil
	}
	if !containerTransitions[from].Has(to) {
		return &InvalidTransitionError{Member: m.Name, Kind: "container", From: string(from), To: string(to)}
	}
	m.ContainerState = to
	return nil
}

// TransitionFederation moves the federation state of the member, rejecting moves the
// lifecycle does not allow. Entering Ready additionally requires a running container
// and an "api" proxy device that targets the API container port.
func (m *MemberCluster) TransitionFederation(to FederationState) error {
	from := m.FederationState
	if from == "" {
		from = FederationStateUnregistered
	}
	if to == FederationStateReady {
		if reason := m.readyBlocker(); reason != "" {
			return &InvalidTransitionError{Member: m.Name, Kind: "federation", From: string(from), To: string(to), Reason: reason}
		}
	}
	if from == to {
		return nil
	}
	if !federationTransitions[from].Has(to) {
		return &InvalidTransitionError{Member: m.Name, Kind: "federation", From: string(from), To: string(to)}
	}
	m.FederationState = to
	return nil
}

// ObserveFederation records the federation state reported by the control plane without
// applying the transition table. A reported Ready is recorded as JoinedNotReady when the
// member does not satisfy the Ready preconditions locally.
func (m *MemberCluster) ObserveFederation(observed FederationState) {
	if observed == FederationStateReady && m.readyBlocker() != "" {
		observed = FederationStateJoinedNotReady
	}
	m.FederationState = observed
}

// ObserveContainer records the container state reported by the backend. A destroyed
// member stays destroyed.
func (m *MemberCluster) ObserveContainer(observed ContainerState) {
	if m.ContainerState == ContainerStateDestroyed {
		return
	}
	m.ContainerState = observed
}

func (m *MemberCluster) readyBlocker() string {
	if m.ContainerState != ContainerStateRunning {
		return fmt.Sprintf("container is %s, not %s", m.ContainerState, ContainerStateRunning)
	}
	if !m.HasValidAPIDevice() {
		return fmt.Sprintf("no %q proxy device targets container port %d", PurposeAPI, m.APIContainerPort)
	}
	return ""
}
