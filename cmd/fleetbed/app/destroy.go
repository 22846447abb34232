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
	"errors"

	"github.com/spf13/cobra"

	"go.goms.io/fleetbed/cmd/fleetbed/app/options"
	"go.goms.io/fleetbed/pkg/reconciler"
)

func newDestroyCommand(opts *options.Options, deps *dependencies) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "destroy (NAME | --all)",
		Short: "Remove a member cluster, or the whole fleet",
		Long: `destroy unjoins a member, removes its proxy devices, deletes its container and its
access descriptor. Every step runs even if an earlier one failed. Parts that are already gone are
reported as such, so destroying an absent member succeeds.

With --all every member is destroyed, then the control plane and the member profile are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) > 0:
				return errors.New("a member name cannot be combined with --all")
			case !all && len(args) != 1:
				return errors.New("exactly one member name is required unless --all is set")
			}
			env, err := newEnvironment(cmd.Context(), opts, deps)
			if err != nil {
				return err
			}
			var reports []*reconciler.DestroyReport
			if all {
				reports, err = env.reconciler.Teardown(cmd.Context())
			} else {
				var report *reconciler.DestroyReport
				report, err = env.reconciler.Destroy(cmd.Context(), args[0])
				reports = append(reports, report)
			}
			if printErr := printTable(cmd.OutOrStdout(), opts.Output, destroyTable(reports...)); printErr != nil {
				return printErr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Destroy every member, then remove the control plane and the member profile.")
	return cmd
}
