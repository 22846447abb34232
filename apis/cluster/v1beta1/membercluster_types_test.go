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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func readyCandidate(name string) *MemberCluster {
	m := NewMemberCluster(name)
	m.ContainerState = ContainerStateRunning
	m.SetProxyDevice(PurposeAPI, PortMapping{HostPort: 16441, ContainerPort: DefaultAPIContainerPort})
	return m
}

func TestTransitionContainer(t *testing.T) {
	tests := []struct {
		name    string
		from    ContainerState
		to      ContainerState
		wantErr bool
	}{
		{name: "absent to provisioning", from: ContainerStateAbsent, to: ContainerStateProvisioning},
		{name: "provisioning to running", from: ContainerStateProvisioning, to: ContainerStateRunning},
		{name: "running to stopped", from: ContainerStateRunning, to: ContainerStateStopped},
		{name: "stopped to running", from: ContainerStateStopped, to: ContainerStateRunning},
		{name: "running to destroyed", from: ContainerStateRunning, to: ContainerStateDestroyed},
		{name: "same state is allowed", from: ContainerStateRunning, to: ContainerStateRunning},
		{name: "destroyed is terminal", from: ContainerStateDestroyed, to: ContainerStateRunning, wantErr: true},
		{name: "running cannot go back to provisioning", from: ContainerStateRunning, to: ContainerStateProvisioning, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMemberCluster("member1")
			m.ContainerState = tc.from
			err := m.TransitionContainer(tc.to)
			if gotErr := err != nil; gotErr != tc.wantErr {
				t.Fatalf("TransitionContainer(%s -> %s) error = %v, wantErr %v", tc.from, tc.to, err, tc.wantErr)
			}
			want := tc.to
			if tc.wantErr {
				want = tc.from
				var transitionErr *InvalidTransitionError
				if !errors.As(err, &transitionErr) {
					t.Fatalf("TransitionContainer() error = %v, want *InvalidTransitionError", err)
				}
			}
			if m.ContainerState != want {
				t.Errorf("ContainerState = %s, want %s", m.ContainerState, want)
			}
		})
	}
}

func TestTransitionFederation(t *testing.T) {
	tests := []struct {
		name    string
		member  *MemberCluster
		from    FederationState
		to      FederationState
		wantErr bool
	}{
		{
			name:   "unregistered to registering",
			member: NewMemberCluster("member1"),
			from:   FederationStateUnregistered,
			to:     FederationStateRegistering,
		},
		{
			name:   "registering to joined not ready",
			member: NewMemberCluster("member1"),
			from:   FederationStateRegistering,
			to:     FederationStateJoinedNotReady,
		},
		{
			name:   "repair: joined not ready to unregistered",
			member: NewMemberCluster("member1"),
			from:   FederationStateJoinedNotReady,
			to:     FederationStateUnregistered,
		},
		{
			name:   "joined not ready to ready with running container and api device",
			member: readyCandidate("member1"),
			from:   FederationStateJoinedNotReady,
			to:     FederationStateReady,
		},
		{
			name:    "ready requires a running container",
			member:  NewMemberCluster("member1"),
			from:    FederationStateJoinedNotReady,
			to:      FederationStateReady,
			wantErr: true,
		},
		{
			name: "ready requires the api device to target the api container port",
			member: func() *MemberCluster {
				m := readyCandidate("member1")
				m.SetProxyDevice(PurposeAPI, PortMapping{HostPort: 16441, ContainerPort: 8080})
				return m
			}(),
			from:    FederationStateJoinedNotReady,
			to:      FederationStateReady,
			wantErr: true,
		},
		{
			name:    "unregistered cannot jump to ready",
			member:  readyCandidate("member1"),
			from:    FederationStateUnregistered,
			to:      FederationStateReady,
			wantErr: true,
		},
		{
			name:   "ready to unjoining",
			member: readyCandidate("member1"),
			from:   FederationStateReady,
			to:     FederationStateUnjoining,
		},
		{
			name:    "unjoining only ends in unregistered",
			member:  NewMemberCluster("member1"),
			from:    FederationStateUnjoining,
			to:      FederationStateRegistering,
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.member.FederationState = tc.from
			err := tc.member.TransitionFederation(tc.to)
			if gotErr := err != nil; gotErr != tc.wantErr {
				t.Fatalf("TransitionFederation(%s -> %s) error = %v, wantErr %v", tc.from, tc.to, err, tc.wantErr)
			}
			want := tc.to
			if tc.wantErr {
				want = tc.from
			}
			if tc.member.FederationState != want {
				t.Errorf("FederationState = %s, want %s", tc.member.FederationState, want)
			}
		})
	}
}

func TestObserveFederation(t *testing.T) {
	stopped := readyCandidate("member1")
	stopped.ContainerState = ContainerStateStopped
	stopped.ObserveFederation(FederationStateReady)
	if stopped.FederationState != FederationStateJoinedNotReady {
		t.Errorf("ObserveFederation(Ready) on a stopped member = %s, want %s", stopped.FederationState, FederationStateJoinedNotReady)
	}

	running := readyCandidate("member2")
	running.ObserveFederation(FederationStateReady)
	if running.FederationState != FederationStateReady {
		t.Errorf("ObserveFederation(Ready) on a running member = %s, want %s", running.FederationState, FederationStateReady)
	}
}

func TestPurpose(t *testing.T) {
	tests := []struct {
		purpose     Purpose
		wantIsApp   bool
		wantAppName string
	}{
		{purpose: PurposeAPI},
		{purpose: AppPurpose("simple-flask"), wantIsApp: true, wantAppName: "simple-flask"},
		{purpose: Purpose("app:")},
	}
	for _, tc := range tests {
		t.Run(string(tc.purpose), func(t *testing.T) {
			if got := tc.purpose.IsApp(); got != tc.wantIsApp {
				t.Errorf("IsApp() = %v, want %v", got, tc.wantIsApp)
			}
			if got := tc.purpose.AppName(); got != tc.wantAppName {
				t.Errorf("AppName() = %q, want %q", got, tc.wantAppName)
			}
		})
	}
}

func TestFleet(t *testing.T) {
	f := NewFleet(ControlPlane{Name: "karmada"}, "member1", "member2", "member3")
	if err := f.Add(NewMemberCluster("member2")); err == nil {
		t.Fatalf("Add() of a duplicate member succeeded, want error")
	}
	f.GetOrAdd("member4")
	if !f.Remove("member2") {
		t.Fatalf("Remove(member2) = false, want true")
	}
	if diff := cmp.Diff([]string{"member1", "member3", "member4"}, f.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want, +got):\n%s", diff)
	}
	m, _ := f.Get("member1")
	m.FederationState = FederationStateReady
	if got := f.CountInFederationState(FederationStateReady); got != 1 {
		t.Errorf("CountInFederationState(Ready) = %d, want 1", got)
	}
}
