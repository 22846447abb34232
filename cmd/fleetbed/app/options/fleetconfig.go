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

package options

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"go.goms.io/fleetbed/pkg/portallocator"
)

// DefaultMembers are managed when no fleet file names any.
var DefaultMembers = []string{"member1", "member2", "member3"}

// FleetConfig is the content of the fleet file.
type FleetConfig struct {
	// Members are the member cluster names, in order.
	Members []string `json:"members,omitempty"`
	// APIPortRange bounds the host ports of member API endpoints.
	APIPortRange portallocator.Range `json:"apiPortRange,omitempty"`
	// AppPortRange bounds the host ports of application endpoints.
	AppPortRange portallocator.Range `json:"appPortRange,omitempty"`
	// ReservedPorts are never handed out.
	ReservedPorts []int `json:"reservedPorts,omitempty"`
	Image         string `json:"image,omitempty"`
	Profile       string `json:"profile,omitempty"`
	Addons        []string `json:"addons,omitempty"`
	// Apps are exposed on every member by setup and probed by verify.
	Apps []AppConfig `json:"apps,omitempty"`
}

// AppConfig is one application exposed on every member.
type AppConfig struct {
	Name          string `json:"name"`
	ContainerPort int    `json:"containerPort"`
	// Service is the namespace/name of a NodePort service verify reads the expected target from.
	Service string `json:"service,omitempty"`
	// Path is requested by the HTTP probe.
	Path string `json:"path,omitempty"`
}

// DefaultFleetConfig returns the fleet used when no file is given.
func DefaultFleetConfig() *FleetConfig {
	cfg := &FleetConfig{}
	cfg.Default()
	return cfg
}

// Default fills the unset fields.
func (c *FleetConfig) Default() {
	if len(c.Members) == 0 {
		c.Members = append([]string(nil), DefaultMembers...)
	}
	if c.APIPortRange == (portallocator.Range{}) {
		c.APIPortRange = portallocator.Range{Min: portallocator.DefaultAPIRangeMin, Max: portallocator.DefaultAPIRangeMax}
	}
	if c.AppPortRange == (portallocator.Range{}) {
		c.AppPortRange = portallocator.Range{Min: portallocator.DefaultAppRangeMin, Max: portallocator.DefaultAppRangeMax}
	}
	if c.ReservedPorts == nil {
		c.ReservedPorts = []int{portallocator.HostAPIPort}
	}
	for i := range c.Apps {
		if c.Apps[i].Path == "" {
			c.Apps[i].Path = "/"
		}
	}
}

// LoadFleetConfig reads the fleet file at path. An empty path returns the default fleet.
func LoadFleetConfig(path string) (*FleetConfig, error) {
	if path == "" {
		return DefaultFleetConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fleet file: %w", err)
	}
	cfg := &FleetConfig{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse fleet file %q: %w", path, err)
	}
	cfg.Default()
	if errs := cfg.Validate(); len(errs) != 0 {
		return nil, fmt.Errorf("invalid fleet file %q: %w", path, errs.ToAggregate())
	}
	return cfg, nil
}

// NewPortTable returns the port allocation table for the fleet.
func (c *FleetConfig) NewPortTable() (*portallocator.Table, error) {
	return portallocator.NewTable(c.APIPortRange, c.AppPortRange, c.ReservedPorts...)
}
