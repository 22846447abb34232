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

// Package provisioner creates, starts, stops and removes the lxd containers hosting member clusters.
package provisioner

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/klog/v2"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/clients/lxd"
	"go.goms.io/fleetbed/pkg/utils/poll"
)

// DefaultCloudInitTimeout bounds the wait for cloud-init to finish in a new container.
const DefaultCloudInitTimeout = 10 * time.Minute

// ContainerHandle describes a provisioned container.
type ContainerHandle struct {
	Name string
	// Reused is true when the container already existed and no launch was issued.
	Reused bool
}

// Provisioner manages member containers.
type Provisioner struct {
	lxd     *lxd.Client
	image   string
	profile string

	cloudInitTimeout time.Duration

	profileMu      sync.Mutex
	profileEnsured bool
}

// New returns a provisioner launching image with profile. Empty values select the defaults.
func New(lxdClient *lxd.Client, image, profile string) *Provisioner {
	if image == "" {
		image = DefaultImage
	}
	if profile == "" {
		profile = DefaultProfileName
	}
	return &Provisioner{lxd: lxdClient, image: image, profile: profile, cloudInitTimeout: DefaultCloudInitTimeout}
}

// WithCloudInitTimeout replaces the bound on the cloud-init wait.
func (p *Provisioner) WithCloudInitTimeout(timeout time.Duration) *Provisioner {
	p.cloudInitTimeout = timeout
	return p
}

// Members returns the names of the containers carrying the member profile, sorted.
func (p *Provisioner) Members(ctx context.Context) ([]string, error) {
	instances, err := p.lxd.List(ctx)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, inst := range instances {
		if slices.Contains(inst.Profiles, p.profile) {
			names = append(names, inst.Name)
		}
	}
	slices.Sort(names)
	return names, nil
}

// ValidateName checks name can be used as a container and cluster name.
func ValidateName(name string) error {
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return fmt.Errorf("invalid member name %q: %s", name, strings.Join(errs, "; "))
	}
	return nil
}

// EnsureProfile creates the member profile when it is missing. It runs at most once per process
// once it has succeeded.
func (p *Provisioner) EnsureProfile(ctx context.Context) error {
	p.profileMu.Lock()
	defer p.profileMu.Unlock()
	if p.profileEnsured {
		return nil
	}
	profiles, err := p.lxd.ListProfiles(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(profiles, p.profile) {
		klog.V(2).InfoS("LXD profile already exists", "profile", p.profile)
		p.profileEnsured = true
		return nil
	}
	klog.InfoS("Creating LXD profile", "profile", p.profile)
	if err := p.lxd.CreateProfile(ctx, p.profile); err != nil {
		return err
	}
	if err := p.lxd.EditProfile(ctx, p.profile, MicroK8sProfile()); err != nil {
		return err
	}
	p.profileEnsured = true
	return nil
}

// Provision returns a running container named name. An existing container is reused and started
// if needed; otherwise one is launched. Either way it waits for cloud-init to finish.
func (p *Provisioner) Provision(ctx context.Context, name string) (*ContainerHandle, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := p.lxd.Ping(ctx); err != nil {
		return nil, err
	}
	if err := p.EnsureProfile(ctx); err != nil {
		return nil, err
	}

	handle := &ContainerHandle{Name: name}
	inst, err := p.lxd.Info(ctx, name)
	switch {
	case err == nil:
		handle.Reused = true
		klog.InfoS("Reusing existing container", "container", name, "status", inst.Status)
		if inst.Status != lxd.StatusRunning {
			if err := p.lxd.Start(ctx, name); err != nil {
				return nil, err
			}
		}
	case errors.Is(err, lxd.ErrNotFound):
		klog.InfoS("Launching container", "container", name, "image", p.image, "profile", p.profile)
		if err := p.lxd.Launch(ctx, p.image, name, "default", p.profile); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	klog.V(2).InfoS("Waiting for cloud-init", "container", name)
	if err := poll.Within(ctx, p.cloudInitTimeout, fmt.Sprintf("cloud-init in %q", name), func(ctx context.Context) error {
		_, err := p.lxd.Exec(ctx, name, "cloud-init", "status", "--wait")
		return err
	}); err != nil {
		return nil, err
	}
	return handle, nil
}

// State returns the observed container state; a missing container is Absent.
func (p *Provisioner) State(ctx context.Context, name string) (clusterv1beta1.ContainerState, error) {
	inst, err := p.lxd.Info(ctx, name)
	if err != nil {
		if errors.Is(err, lxd.ErrNotFound) {
			return clusterv1beta1.ContainerStateAbsent, nil
		}
		return "", err
	}
	return ContainerStateFromStatus(inst.Status), nil
}

// ContainerStateFromStatus maps an lxd status to a container state.
func ContainerStateFromStatus(status string) clusterv1beta1.ContainerState {
	if status == lxd.StatusRunning {
		return clusterv1beta1.ContainerStateRunning
	}
	return clusterv1beta1.ContainerStateStopped
}

// Start starts the container.
func (p *Provisioner) Start(ctx context.Context, name string) error {
	return p.lxd.Start(ctx, name)
}

// Stop stops the container.
func (p *Provisioner) Stop(ctx context.Context, name string, force bool) error {
	return p.lxd.Stop(ctx, name, force)
}

// Destroy force-stops and deletes the container. alreadyAbsent reports a container that did not exist.
func (p *Provisioner) Destroy(ctx context.Context, name string) (bool, error) {
	inst, err := p.lxd.Info(ctx, name)
	if err != nil {
		if errors.Is(err, lxd.ErrNotFound) {
			klog.InfoS("Container already absent", "container", name)
			return true, nil
		}
		return false, err
	}
	if inst.Status == lxd.StatusRunning {
		if err := p.lxd.Stop(ctx, name, true); err != nil {
			return false, err
		}
	}
	if err := p.lxd.Delete(ctx, name); err != nil {
		return false, err
	}
	klog.InfoS("Deleted container", "container", name)
	return false, nil
}

// RemoveProfile deletes the member profile if it exists.
func (p *Provisioner) RemoveProfile(ctx context.Context) error {
	profiles, err := p.lxd.ListProfiles(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(profiles, p.profile) {
		return nil
	}
	if err := p.lxd.DeleteProfile(ctx, p.profile); err != nil {
		return err
	}
	p.profileMu.Lock()
	p.profileEnsured = false
	p.profileMu.Unlock()
	return nil
}
