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

package app

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/cmd/fleetbed/app/options"
	"go.goms.io/fleetbed/pkg/bootstrapper"
	"go.goms.io/fleetbed/pkg/clients/karmada"
	"go.goms.io/fleetbed/pkg/clients/lxd"
	"go.goms.io/fleetbed/pkg/credentials"
	"go.goms.io/fleetbed/pkg/exposure"
	"go.goms.io/fleetbed/pkg/membership"
	"go.goms.io/fleetbed/pkg/provisioner"
	"go.goms.io/fleetbed/pkg/reconciler"
	"go.goms.io/fleetbed/pkg/utils/poll"
	"go.goms.io/fleetbed/pkg/verifier"
)

const controlPlaneName = "karmada"

// environment is the fully wired fleet a command operates on.
type environment struct {
	opts   *options.Options
	config *options.FleetConfig
	deps   *dependencies

	lxd         *lxd.Client
	karmada     *karmada.Client
	provisioner *provisioner.Provisioner
	credentials *credentials.Rewriter
	reconciler  *reconciler.Reconciler
}

// newEnvironment wires the fleet described by the options and the fleet file, extended with every
// member container found on the host.
func newEnvironment(ctx context.Context, opts *options.Options, deps *dependencies) (*environment, error) {
	cfg, err := options.LoadFleetConfig(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	table, err := cfg.NewPortTable()
	if err != nil {
		return nil, fmt.Errorf("invalid port ranges: %w", err)
	}

	fleet := clusterv1beta1.NewFleet(clusterv1beta1.ControlPlane{
		Name:               controlPlaneName,
		KubeconfigPath:     opts.KarmadaKubeconfig,
		HostKubeconfigPath: opts.HostKubeconfig,
		Namespace:          opts.ControlPlaneNamespace,
	}, cfg.Members...)

	env := &environment{opts: opts, config: cfg, deps: deps}
	env.lxd = lxd.NewClient(deps.runner)
	env.karmada = karmada.NewClient(deps.runner, opts.KarmadaKubeconfig)
	env.provisioner = provisioner.New(env.lxd, firstNonEmpty(opts.Image, cfg.Image), firstNonEmpty(opts.Profile, cfg.Profile)).
		WithCloudInitTimeout(opts.ContainerReadyTimeout.Duration)
	env.credentials = credentials.NewRewriter(env.lxd, opts.KubeconfigDir, opts.EndpointHost)

	addons := opts.Addons
	if addons == nil {
		addons = cfg.Addons
	}
	members := membership.New(env.karmada, deps.clients).
		WithReadyWait(poll.Options{
			Attempts:    opts.ReadyWaitAttempts,
			Interval:    opts.ReadyWaitInterval.Duration,
			Description: membership.DefaultReadyWait.Description,
		})

	apps := make([]reconciler.AppPort, 0, len(cfg.Apps))
	for _, app := range cfg.Apps {
		apps = append(apps, reconciler.AppPort{Name: app.Name, ContainerPort: app.ContainerPort})
	}
	env.reconciler = reconciler.New(fleet, reconciler.Components{
		Runner:       deps.runner,
		Provisioner:  env.provisioner,
		Bootstrapper: bootstrapper.New(env.lxd, addons, opts.Channel).WithReadyTimeout(opts.ContainerReadyTimeout.Duration),
		Exposure:     exposure.NewRegistry(env.lxd, table),
		Credentials:  env.credentials,
		Membership:   members,
		Karmada:      env.karmada,
		Clients:      deps.clients,
	}, reconciler.Options{
		KeepOnFailure: opts.KeepOnFailure,
		JoinMode:      opts.JoinMode,
		HealthCheck: poll.Options{
			Attempts:    opts.HealthCheckAttempts,
			Interval:    opts.HealthCheckInterval.Duration,
			Description: reconciler.DefaultHealthCheck.Description,
		},
		Apps: apps,
		Init: karmada.InitOptions{
			HostKubeconfig:            opts.HostKubeconfig,
			WaitComponentReadyTimeout: int(opts.InitTimeout.Duration / time.Second),
		},
		SkipInit: opts.SkipInit,
	})
	if _, err := env.reconciler.DiscoverMembers(ctx); err != nil {
		klog.ErrorS(err, "Failed to discover member containers, using the configured members only")
	}
	return env, nil
}

func (e *environment) verifier(members []string, probeHost string, probeTimeout time.Duration) *verifier.Verifier {
	probes := make([]verifier.AppProbe, 0, len(e.config.Apps))
	for _, app := range e.config.Apps {
		probes = append(probes, verifier.AppProbe{Name: app.Name, ContainerPort: app.ContainerPort, Service: app.Service, Path: app.Path})
	}
	return verifier.New(e.deps.runner, e.lxd, e.karmada, e.deps.clients, verifier.Options{
		Members:        members,
		ControlPlane:   e.reconciler.Fleet().ControlPlane,
		AppProbes:      probes,
		ProbeHost:      probeHost,
		ProbeTimeout:   probeTimeout,
		DescriptorPath: e.credentials.Path,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
