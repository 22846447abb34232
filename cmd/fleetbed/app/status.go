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

	"go.goms.io/fleetbed/cmd/fleetbed/app/options"
	"go.goms.io/fleetbed/pkg/reconciler"
)

func newStatusCommand(opts *options.Options, deps *dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the container, exposure and federation state of every member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := newEnvironment(cmd.Context(), opts, deps)
			if err != nil {
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
