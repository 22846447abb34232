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
	"net"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"go.goms.io/fleetbed/pkg/membership"
)

// Validate validates the shared options.
func (o *Options) Validate() field.ErrorList {
	errs := field.ErrorList{}
	newPath := field.NewPath("Options")

	if o.KubeconfigDir == "" {
		errs = append(errs, field.Required(newPath.Child("KubeconfigDir"), "must be set"))
	}
	if o.KarmadaKubeconfig == "" {
		errs = append(errs, field.Required(newPath.Child("KarmadaKubeconfig"), "must be set"))
	}
	if o.HostKubeconfig == "" {
		errs = append(errs, field.Required(newPath.Child("HostKubeconfig"), "must be set"))
	}
	if o.JoinMode != membership.ModePush && o.JoinMode != membership.ModePull {
		errs = append(errs, field.NotSupported(newPath.Child("JoinMode"), o.JoinMode, []string{membership.ModePush, membership.ModePull}))
	}
	if o.HealthCheckAttempts <= 0 {
		errs = append(errs, field.Invalid(newPath.Child("HealthCheckAttempts"), o.HealthCheckAttempts, "must be greater than 0"))
	}
	if o.HealthCheckInterval.Duration <= 0 {
		errs = append(errs, field.Invalid(newPath.Child("HealthCheckInterval"), o.HealthCheckInterval, "must be greater than 0"))
	}
	if o.ReadyWaitAttempts <= 0 {
		errs = append(errs, field.Invalid(newPath.Child("ReadyWaitAttempts"), o.ReadyWaitAttempts, "must be greater than 0"))
	}
	if o.ReadyWaitInterval.Duration <= 0 {
		errs = append(errs, field.Invalid(newPath.Child("ReadyWaitInterval"), o.ReadyWaitInterval, "must be greater than 0"))
	}
	if o.ContainerReadyTimeout.Duration <= 0 {
		errs = append(errs, field.Invalid(newPath.Child("ContainerReadyTimeout"), o.ContainerReadyTimeout, "must be greater than 0"))
	}
	if o.InitTimeout.Duration < 0 {
		errs = append(errs, field.Invalid(newPath.Child("InitTimeout"), o.InitTimeout, "must not be negative"))
	}
	switch o.Output {
	case OutputTable, OutputJSON, OutputYAML:
	default:
		errs = append(errs, field.NotSupported(newPath.Child("Output"), o.Output, []string{OutputTable, OutputJSON, OutputYAML}))
	}
	return errs
}

// Validate validates the chaos options.
func (o *ChaosOptions) Validate() field.ErrorList {
	errs := field.ErrorList{}
	newPath := field.NewPath("ChaosOptions")

	if o.Interval.Duration <= 0 {
		errs = append(errs, field.Invalid(newPath.Child("Interval"), o.Interval, "must be greater than 0"))
	}
	if o.DownProbability < 0 || o.DownProbability > 1 {
		errs = append(errs, field.Invalid(newPath.Child("DownProbability"), o.DownProbability, "must be between 0 and 1 inclusive"))
	}
	if o.MetricsBindAddress != "0" && o.MetricsBindAddress != "" {
		if _, _, err := net.SplitHostPort(o.MetricsBindAddress); err != nil {
			errs = append(errs, field.Invalid(newPath.Child("MetricsBindAddress"), o.MetricsBindAddress, err.Error()))
		}
	}
	return errs
}

// Validate validates the verify options.
func (o *VerifyOptions) Validate() field.ErrorList {
	errs := field.ErrorList{}
	newPath := field.NewPath("VerifyOptions")
	if o.ProbeHost == "" {
		errs = append(errs, field.Required(newPath.Child("ProbeHost"), "must be set"))
	}
	if o.ProbeTimeout.Duration <= 0 {
		errs = append(errs, field.Invalid(newPath.Child("ProbeTimeout"), o.ProbeTimeout, "must be greater than 0"))
	}
	return errs
}

// Validate validates the fleet file.
func (c *FleetConfig) Validate() field.ErrorList {
	errs := field.ErrorList{}
	newPath := field.NewPath("FleetConfig")

	seen := sets.New[string]()
	for i, name := range c.Members {
		p := newPath.Child("members").Index(i)
		for _, msg := range validation.IsDNS1123Label(name) {
			errs = append(errs, field.Invalid(p, name, msg))
		}
		if seen.Has(name) {
			errs = append(errs, field.Duplicate(p, name))
		}
		seen.Insert(name)
	}
	if err := c.APIPortRange.Validate(); err != nil {
		errs = append(errs, field.Invalid(newPath.Child("apiPortRange"), c.APIPortRange, err.Error()))
	}
	if err := c.AppPortRange.Validate(); err != nil {
		errs = append(errs, field.Invalid(newPath.Child("appPortRange"), c.AppPortRange, err.Error()))
	}
	apps := sets.New[string]()
	for i, app := range c.Apps {
		p := newPath.Child("apps").Index(i)
		for _, msg := range validation.IsDNS1123Label(app.Name) {
			errs = append(errs, field.Invalid(p.Child("name"), app.Name, msg))
		}
		if app.Name == "k8s" {
			errs = append(errs, field.Invalid(p.Child("name"), app.Name, "is reserved for the API device"))
		}
		if apps.Has(app.Name) {
			errs = append(errs, field.Duplicate(p.Child("name"), app.Name))
		}
		apps.Insert(app.Name)
		for _, msg := range validation.IsValidPortNum(app.ContainerPort) {
			errs = append(errs, field.Invalid(p.Child("containerPort"), app.ContainerPort, msg))
		}
		if app.Service != "" {
			if parts := strings.Split(app.Service, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				errs = append(errs, field.Invalid(p.Child("service"), app.Service, "must be namespace/name"))
			}
		}
	}
	return errs
}
