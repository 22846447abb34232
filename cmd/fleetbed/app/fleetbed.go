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

// Package app builds the fleetbed command tree.
package app

import (
	"context"
	"flag"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"go.goms.io/fleetbed/cmd/fleetbed/app/options"
	"go.goms.io/fleetbed/pkg/clients/kube"
	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
)

// dependencies are the host-facing collaborators every command is built on.
type dependencies struct {
	runner  cmdrunner.Runner
	clients kube.ClientFactory
}

// NewFleetbedCommand creates the root *cobra.Command with default parameters.
func NewFleetbedCommand(ctx context.Context) *cobra.Command {
	return newFleetbedCommand(ctx, &dependencies{runner: cmdrunner.New(), clients: kube.NewClientFactory()})
}

func newFleetbedCommand(ctx context.Context, deps *dependencies) *cobra.Command {
	opts := options.NewOptions()

	cmd := &cobra.Command{
		Use:   "fleetbed",
		Short: "Manage a local fleet of MicroK8s member clusters federated by Karmada",
		Long: `fleetbed runs member clusters in LXD system containers on one host, exposes their
API servers through proxy devices and registers them with a Karmada control plane.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if errs := opts.Validate(); len(errs) != 0 {
				return errs.ToAggregate()
			}
			return nil
		},
	}
	cmd.SetContext(ctx)

	opts.AddFlags(cmd.PersistentFlags())

	// Set klog flags
	flagSetShim := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	klog.InitFlags(flagSetShim)
	cmd.PersistentFlags().AddGoFlagSet(flagSetShim)

	cmd.AddCommand(
		newSetupCommand(opts, deps),
		newAddCommand(opts, deps),
		newDestroyCommand(opts, deps),
		newVerifyCommand(opts, deps),
		newChaosCommand(opts, deps),
		newStatusCommand(opts, deps),
		newExposeCommand(opts, deps),
	)
	return cmd
}
