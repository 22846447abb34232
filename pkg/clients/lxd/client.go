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

// Package lxd is a typed client over the lxc command line tool.
package lxd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"sigs.k8s.io/yaml"

	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
	"go.goms.io/fleetbed/pkg/utils/controller"
)

const (
	lxcBinary = "lxc"

	// StatusRunning is the status lxc reports for a running instance.
	StatusRunning = "Running"
	// StatusStopped is the status lxc reports for a stopped instance.
	StatusStopped = "Stopped"

	// DeviceTypeProxy is the lxd device type that forwards a host socket into the container.
	DeviceTypeProxy = "proxy"
)

// ErrNotFound is returned when the named instance, profile or device does not exist.
var ErrNotFound = errors.New("not found")

// Instance is the subset of `lxc list --format json` the fleet relies on.
type Instance struct {
	Name     string                       `json:"name"`
	Status   string                       `json:"status"`
	Profiles []string                     `json:"profiles"`
	Devices  map[string]map[string]string `json:"devices"`
}

// ProxyDevices returns the instance-local proxy devices keyed by device name.
func (i *Instance) ProxyDevices() map[string]map[string]string {
	out := map[string]map[string]string{}
	for name, dev := range i.Devices {
		if dev["type"] == DeviceTypeProxy {
			out[name] = dev
		}
	}
	return out
}

// Profile is an lxd profile as edited through `lxc profile edit`.
type Profile struct {
	Name        string                       `json:"name,omitempty"`
	Description string                       `json:"description,omitempty"`
	Config      map[string]string            `json:"config,omitempty"`
	Devices     map[string]map[string]string `json:"devices,omitempty"`
}

// Client drives lxd through lxc.
type Client struct {
	runner cmdrunner.Runner
}

// NewClient returns a client issuing lxc commands through runner.
func NewClient(runner cmdrunner.Runner) *Client {
	return &Client{runner: runner}
}

func (c *Client) lxc(ctx context.Context, args ...string) (cmdrunner.Result, error) {
	return c.runner.Run(ctx, cmdrunner.NewCommand(lxcBinary, args...))
}

// Ping verifies the lxd daemon answers. An unreachable daemon is a missing prerequisite.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.List(ctx); err != nil {
		if errors.Is(err, controller.ErrPrereqMissing) {
			return err
		}
		return controller.NewPrereqMissingError(fmt.Errorf("lxd is not reachable: %w", err))
	}
	return nil
}

// List returns every instance known to lxd.
func (c *Client) List(ctx context.Context) ([]Instance, error) {
	res, err := c.lxc(ctx, "list", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to list lxd instances: %w", err)
	}
	var instances []Instance
	if err := json.Unmarshal([]byte(res.Stdout), &instances); err != nil {
		return nil, controller.NewInconsistentStateError(fmt.Errorf("failed to decode lxc list output: %w", err))
	}
	return instances, nil
}

// Info returns the named instance, or ErrNotFound.
func (c *Client) Info(ctx context.Context, name string) (*Instance, error) {
	instances, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range instances {
		if instances[i].Name == name {
			return &instances[i], nil
		}
	}
	return nil, fmt.Errorf("instance %q: %w", name, ErrNotFound)
}

// Launch creates and starts a container from image with the given profiles.
func (c *Client) Launch(ctx context.Context, image, name string, profiles ...string) error {
	args := []string{"launch", image, name}
	for _, p := range profiles {
		args = append(args, "--profile", p)
	}
	if _, err := c.lxc(ctx, args...); err != nil {
		return fmt.Errorf("failed to launch instance %q: %w", name, err)
	}
	return nil
}

// Exec runs a command inside the container and returns its output.
func (c *Client) Exec(ctx context.Context, name string, command ...string) (cmdrunner.Result, error) {
	args := append([]string{"exec", name, "--"}, command...)
	res, err := c.lxc(ctx, args...)
	if err != nil {
		return res, fmt.Errorf("failed to exec %q in instance %q: %w", strings.Join(command, " "), name, err)
	}
	return res, nil
}

// Start starts a stopped container.
func (c *Client) Start(ctx context.Context, name string) error {
	if _, err := c.lxc(ctx, "start", name); err != nil {
		return fmt.Errorf("failed to start instance %q: %w", name, err)
	}
	return nil
}

// Stop stops a running container.
func (c *Client) Stop(ctx context.Context, name string, force bool) error {
	args := []string{"stop", name}
	if force {
		args = append(args, "--force")
	}
	if _, err := c.lxc(ctx, args...); err != nil {
		return fmt.Errorf("failed to stop instance %q: %w", name, err)
	}
	return nil
}

// Delete force-deletes a container.
func (c *Client) Delete(ctx context.Context, name string) error {
	if _, err := c.lxc(ctx, "delete", name, "--force"); err != nil {
		return fmt.Errorf("failed to delete instance %q: %w", name, err)
	}
	return nil
}

// ListProfiles returns the names of the existing profiles.
func (c *Client) ListProfiles(ctx context.Context) ([]string, error) {
	res, err := c.lxc(ctx, "profile", "list", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to list lxd profiles: %w", err)
	}
	var profiles []Profile
	if err := json.Unmarshal([]byte(res.Stdout), &profiles); err != nil {
		return nil, controller.NewInconsistentStateError(fmt.Errorf("failed to decode lxc profile list output: %w", err))
	}
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		names = append(names, p.Name)
	}
	return names, nil
}

// CreateProfile creates an empty profile.
func (c *Client) CreateProfile(ctx context.Context, name string) error {
	if _, err := c.lxc(ctx, "profile", "create", name); err != nil {
		return fmt.Errorf("failed to create lxd profile %q: %w", name, err)
	}
	return nil
}

// EditProfile replaces the profile content with p.
func (c *Client) EditProfile(ctx context.Context, name string, p *Profile) error {
	doc, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode lxd profile %q: %w", name, err)
	}
	cmd := cmdrunner.Command{Name: lxcBinary, Args: []string{"profile", "edit", name}, Stdin: doc}
	if _, err := c.runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("failed to edit lxd profile %q: %w", name, err)
	}
	return nil
}

// DeleteProfile removes a profile.
func (c *Client) DeleteProfile(ctx context.Context, name string) error {
	if _, err := c.lxc(ctx, "profile", "delete", name); err != nil {
		return fmt.Errorf("failed to delete lxd profile %q: %w", name, err)
	}
	return nil
}

// AddProxyDevice forwards the host listen address to the connect address inside the container.
func (c *Client) AddProxyDevice(ctx context.Context, name, device, listen, connect string) error {
	if _, err := c.lxc(ctx, "config", "device", "add", name, device, DeviceTypeProxy,
		"listen="+listen, "connect="+connect); err != nil {
		return fmt.Errorf("failed to add proxy device %q to instance %q: %w", device, name, err)
	}
	return nil
}

// RemoveDevice detaches a device from the container.
func (c *Client) RemoveDevice(ctx context.Context, name, device string) error {
	if _, err := c.lxc(ctx, "config", "device", "remove", name, device); err != nil {
		return fmt.Errorf("failed to remove device %q from instance %q: %w", device, name, err)
	}
	return nil
}

// GetDeviceConfig returns one key of a device's configuration.
func (c *Client) GetDeviceConfig(ctx context.Context, name, device, key string) (string, error) {
	res, err := c.lxc(ctx, "config", "device", "get", name, device, key)
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("device %q of instance %q: %w", device, name, ErrNotFound)
		}
		return "", fmt.Errorf("failed to read device %q of instance %q: %w", device, name, err)
	}
	return strings.TrimSpace(res.Stdout), nil
}

func isNotFound(err error) bool {
	var cmdErr *cmdrunner.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	stderr := strings.ToLower(cmdErr.Stderr)
	return strings.Contains(stderr, "not found") || strings.Contains(stderr, "doesn't exist")
}
