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

func newAddCommand(opts *options.Options, deps *dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "add NAME",
		Short: "Add a new member cluster to the fleet",
		Long: `add provisions a new member, bootstraps it, exposes its API, writes its access
descriptor, joins it and waits until the control plane reports it Ready. The name must not be
used by a container or by a registered cluster. A failed add is rolled back unless
--keep-on-failure is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := newEnvironment(cmd.Context(), opts, deps)
			if err != nil {
				return err
			}
			member, err := env.reconciler.Add(cmd.Context(), args[0])
			if member == nil {
				return err
			}
			row := reconciler.NewMemberStatus(member)
			if err != nil {
				// The row carries the condition of the stage that failed.
				klog.ErrorS(err, "Failed to add member", "member", member.Name, "condition", row.Condition)
				if printErr := printTable(cmd.OutOrStdout(), opts.Output, reconciler.StatusTable([]reconciler.MemberStatus{row})); printErr != nil {
					klog.ErrorS(printErr, "Failed to print the member")
				}
				return err
			}
			klog.InfoS("Member is Ready", "member", member.Name, "apiHostPort", member.APIHostPort, "kubeconfig", member.AccessDescriptorPath)
			return printTable(cmd.OutOrStdout(), opts.Output, reconciler.StatusTable([]reconciler.MemberStatus{row}))
		},
	}
}
