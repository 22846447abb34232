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
	"fmt"

	"github.com/spf13/cobra"

	"go.goms.io/fleetbed/cmd/fleetbed/app/options"
	"go.goms.io/fleetbed/pkg/verifier"
)

func newVerifyCommand(opts *options.Options, deps *dependencies) *cobra.Command {
	verifyOpts := options.NewVerifyOptions()
	cmd := &cobra.Command{
		Use:   "verify [member...]",
		Short: "Check the host, the control plane, federation membership and exposure",
		Long: `verify runs four levels of checks and reports every one of them: the host services,
the control plane pods, the Ready state of every member and, for Ready members, the API and
application proxy devices together with an HTTP probe of each application. With --members-only
the host and control plane levels are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if errs := verifyOpts.Validate(); len(errs) != 0 {
				return errs.ToAggregate()
			}
			env, err := newEnvironment(cmd.Context(), opts, deps)
			if err != nil {
				return err
			}
			if err := env.reconciler.CheckPrerequisites(true); err != nil {
				return err
			}
			members := args
			if len(members) == 0 {
				members = env.reconciler.Fleet().Names()
			}
			v := env.verifier(members, verifyOpts.ProbeHost, verifyOpts.ProbeTimeout.Duration)
			var report *verifier.Report
			if verifyOpts.MembersOnly {
				report = v.VerifyMembers(cmd.Context(), members)
			} else {
				report = v.Verify(cmd.Context())
			}
			if err := printTable(cmd.OutOrStdout(), opts.Output, report.Table()); err != nil {
				return err
			}
			if !report.Passed {
				return fmt.Errorf("verification failed: %d of %d checks failed", len(report.Failed()), len(report.Results))
			}
			return nil
		},
	}
	verifyOpts.AddFlags(cmd.Flags())
	return cmd
}
