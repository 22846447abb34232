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
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"go.goms.io/fleetbed/cmd/fleetbed/app/options"
	"go.goms.io/fleetbed/pkg/reconciler"
)

func newSetupCommand(opts *options.Options, deps *dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "setup [member...]",
		Short: "Install the control plane if needed and bring every member up",
		Long: `setup creates, bootstraps, exposes and joins every member of the fleet file, or the
members named on the command line. Members that already exist are reused and members that are
already Ready are left alone, so setup can be rerun after a failure.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd.Context(), opts, deps)
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = env.config.Members
			}
			klog.InfoS("Setting up the fleet", "members", names)
			if err := env.reconciler.Setup(cmd.Context(), names); err != nil {
				return err
			}
			rows, err := env.reconciler.Status(cmd.Context())
			if printErr := printTable(cmd.OutOrStdout(), opts.Output, reconciler.StatusTable(rows)); printErr != nil {
				return printErr
			}
			return err
		},
	}
}
