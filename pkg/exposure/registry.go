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

// Package exposure publishes container ports on the host through lxd proxy devices.
package exposure

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/clients/lxd"
	"go.goms.io/fleetbed/pkg/portallocator"
	"go.goms.io/fleetbed/pkg/utils/controller"
)

const (
	// APIDeviceName is the proxy device carrying the member API endpoint.
	APIDeviceName = "proxy-k8s"

	deviceNamePrefix = "proxy-"

	defaultListenHost  = "0.0.0.0"
	defaultConnectHost = "127.0.0.1"
)

// DeviceName returns the proxy device name used for purpose.
func DeviceName(purpose clusterv1beta1.Purpose) string {
	if purpose == clusterv1beta1.PurposeAPI {
		return APIDeviceName
	}
	return deviceNamePrefix + purpose.AppName()
}

// PurposeForDevice is the inverse of DeviceName. Devices not managed by the fleet report false.
func PurposeForDevice(device string) (clusterv1beta1.Purpose, bool) {
	if device == APIDeviceName {
		return clusterv1beta1.PurposeAPI, true
	}
	name, ok := strings.CutPrefix(device, deviceNamePrefix)
	if !ok || name == "" {
		return "", false
	}
	return clusterv1beta1.AppPurpose(name), true
}

// ConnectAddress returns the connect value of a proxy device targeting containerPort.
func ConnectAddress(containerPort int) string {
	return fmt.Sprintf("tcp:%s:%d", defaultConnectHost, containerPort)
}

// ParsePort extracts the port of a proxy address such as tcp:0.0.0.0:16441.
func ParsePort(addr string) (int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return 0, fmt.Errorf("proxy address %q has no port", addr)
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("proxy address %q has an invalid port", addr)
	}
	return port, nil
}

// Registry attaches and detaches proxy devices and keeps the port table in step with them.
type Registry struct {
	lxd        *lxd.Client
	table      *portallocator.Table
	listenHost string
}

// NewRegistry returns a registry backed by the lxd client and port table.
func NewRegistry(lxdClient *lxd.Client, table *portallocator.Table) *Registry {
	return &Registry{lxd: lxdClient, table: table, listenHost: defaultListenHost}
}

// Table returns the port table the registry allocates from.
func (r *Registry) Table() *portallocator.Table {
	return r.table
}

// Expose forwards a host port to containerPort inside the member's container and returns the host port.
// The pair keeps the host port it already holds; a stale device of the same name is replaced.
func (r *Registry) Expose(ctx context.Context, member *clusterv1beta1.MemberCluster, purpose clusterv1beta1.Purpose, containerPort int) (int, error) {
	if purpose != clusterv1beta1.PurposeAPI && !purpose.IsApp() {
		return 0, fmt.Errorf("unknown exposure purpose %q", purpose)
	}
	key := portallocator.Key{Member: member.Name, Purpose: purpose}
	_, held := r.table.Lookup(key)
	hostPort, err := r.table.Allocate(key)
	if err != nil {
		return 0, err
	}
	device := DeviceName(purpose)
	listen := fmt.Sprintf("tcp:%s:%d", r.listenHost, hostPort)
	connect := ConnectAddress(containerPort)

	inst, err := r.lxd.Info(ctx, member.Name)
	if err != nil {
		r.releaseIfNew(key, held)
		if errors.Is(err, lxd.ErrNotFound) {
			return 0, controller.NewInconsistentStateError(fmt.Errorf("cannot expose %s: %w", key, err))
		}
		return 0, err
	}
	if existing, ok := inst.Devices[device]; ok {
		if existing["listen"] == listen && existing["connect"] == connect {
			klog.V(2).InfoS("Proxy device already in place", "member", member.Name, "device", device, "hostPort", hostPort)
			member.SetProxyDevice(purpose, clusterv1beta1.PortMapping{HostPort: hostPort, ContainerPort: containerPort})
			return hostPort, nil
		}
		klog.InfoS("Replacing stale proxy device", "member", member.Name, "device", device,
			"listen", existing["listen"], "connect", existing["connect"])
		if err := r.lxd.RemoveDevice(ctx, member.Name, device); err != nil {
			r.releaseIfNew(key, held)
			return 0, err
		}
	}
	if err := r.lxd.AddProxyDevice(ctx, member.Name, device, listen, connect); err != nil {
		r.releaseIfNew(key, held)
		return 0, err
	}
	member.SetProxyDevice(purpose, clusterv1beta1.PortMapping{HostPort: hostPort, ContainerPort: containerPort})
	klog.InfoS("Exposed container port", "member", member.Name, "purpose", purpose, "hostPort", hostPort, "containerPort", containerPort)
	return hostPort, nil
}

func (r *Registry) releaseIfNew(key portallocator.Key, held bool) {
	if !held {
		r.table.Release(key)
	}
}

// Unexpose removes the purpose's proxy device and releases its host port.
// A device that is already gone is not an error.
func (r *Registry) Unexpose(ctx context.Context, member *clusterv1beta1.MemberCluster, purpose clusterv1beta1.Purpose) error {
	device := DeviceName(purpose)
	inst, err := r.lxd.Info(ctx, member.Name)
	switch {
	case errors.Is(err, lxd.ErrNotFound):
		klog.V(2).InfoS("Container is gone, only releasing the host port", "member", member.Name, "purpose", purpose)
	case err != nil:
		return err
	default:
		if _, ok := inst.Devices[device]; ok {
			if err := r.lxd.RemoveDevice(ctx, member.Name, device); err != nil {
				return err
			}
		}
	}
	r.table.Release(portallocator.Key{Member: member.Name, Purpose: purpose})
	member.RemoveProxyDevice(purpose)
	return nil
}

// UnexposeAll removes every fleet proxy device of the member and releases all of its host ports.
// It keeps going after a failure and returns the aggregated errors.
func (r *Registry) UnexposeAll(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	purposes := map[clusterv1beta1.Purpose]bool{}
	for purpose := range member.ProxyDevices {
		purposes[purpose] = true
	}
	for _, a := range r.table.Snapshot() {
		if a.Member == member.Name {
			purposes[a.Purpose] = true
		}
	}
	inst, err := r.lxd.Info(ctx, member.Name)
	if err != nil && !errors.Is(err, lxd.ErrNotFound) {
		return err
	}
	if inst != nil {
		for device := range inst.ProxyDevices() {
			if purpose, ok := PurposeForDevice(device); ok {
				purposes[purpose] = true
			}
		}
	}

	var errs []error
	for purpose := range purposes {
		if err := r.Unexpose(ctx, member, purpose); err != nil {
			klog.ErrorS(err, "Failed to remove proxy device", "member", member.Name, "purpose", purpose)
			errs = append(errs, err)
		}
	}
	r.table.ReleaseMember(member.Name)
	return utilerrors.NewAggregate(errs)
}

// Sync rebuilds the port table from the proxy devices that exist on the host and records them on the
// fleet's members. Devices of containers outside the fleet still occupy their host ports.
func (r *Registry) Sync(ctx context.Context, fleet *clusterv1beta1.Fleet) error {
	instances, err := r.lxd.List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for i := range instances {
		inst := &instances[i]
		member, inFleet := fleet.Get(inst.Name)
		for device, cfg := range inst.ProxyDevices() {
			purpose, ok := PurposeForDevice(device)
			if !ok {
				continue
			}
			hostPort, err := ParsePort(cfg["listen"])
			if err != nil {
				errs = append(errs, fmt.Errorf("instance %q device %q: %w", inst.Name, device, err))
				continue
			}
			containerPort, err := ParsePort(cfg["connect"])
			if err != nil {
				errs = append(errs, fmt.Errorf("instance %q device %q: %w", inst.Name, device, err))
				continue
			}
			if err := r.table.Populate(portallocator.Key{Member: inst.Name, Purpose: purpose}, hostPort); err != nil {
				errs = append(errs, err)
				continue
			}
			if inFleet {
				member.SetProxyDevice(purpose, clusterv1beta1.PortMapping{HostPort: hostPort, ContainerPort: containerPort})
			}
		}
	}
	return utilerrors.NewAggregate(errs)
}
