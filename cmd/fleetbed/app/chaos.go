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

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"go.goms.io/fleetbed/cmd/fleetbed/app/options"
	"go.goms.io/fleetbed/pkg/chaos"
	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
)

func newChaosCommand(opts *options.Options, deps *dependencies) *cobra.Command {
	chaosOpts := options.NewChaosOptions()
	cmd := &cobra.Command{
		Use:   "chaos [member...]",
		Short: "Randomly stop and start member containers until interrupted",
		Long: `chaos wakes up every --interval and, for each member, stops its container with
probability --down-probability or starts it otherwise. Only changes are applied. On exit the
last commanded state of every member is logged; with --heal-on-exit every member the injector
stopped is started again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if errs := chaosOpts.Validate(); len(errs) != 0 {
				return errs.ToAggregate()
			}
			env, err := newEnvironment(cmd.Context(), opts, deps)
			if err != nil {
				return err
			}
			if err := cmdrunner.RequirePrograms(deps.runner, "lxc"); err != nil {
				return err
			}
			targets := args
			if len(targets) == 0 {
				targets = env.reconciler.Fleet().Names()
			}
			injector, err := chaos.New(env.provisioner, chaos.Options{
				Targets:         targets,
				Interval:        chaosOpts.Interval.Duration,
				DownProbability: chaosOpts.DownProbability,
				HealOnExit:      chaosOpts.HealOnExit,
			})
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if chaosOpts.MetricsBindAddress != "" {
				if err := serveMetrics(ctx, chaosOpts.MetricsBindAddress); err != nil {
					return err
				}
			}
			return injector.Run(ctx)
		},
	}
	chaosOpts.AddFlags(cmd.Flags())
	return cmd
}

// serveMetrics serves the controller-runtime metrics registry on addr until ctx is done.
// The address "0" disables serving.
func serveMetrics(ctx context.Context, addr string) error {
	srv, err := metricsserver.NewServer(metricsserver.Options{BindAddress: addr}, nil, nil)
	if err != nil || srv == nil {
		return err
	}
	go func() {
		if err := srv.Start(ctx); err != nil {
			klog.ErrorS(err, "Metrics server stopped", "address", addr)
		}
	}()
	return nil
}
