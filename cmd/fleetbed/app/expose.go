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
	"strconv"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/util/validation"

	"go.goms.io/fleetbed/cmd/fleetbed/app/options"
)

func newExposeCommand(opts *options.Options, deps *dependencies) *cobra.Command {
	var remove bool
	cmd := &cobra.Command{
		Use:   "expose MEMBER APP [CONTAINER_PORT]",
		Short: "Expose an application port of a member on the host",
		Long: `expose adds a proxy-APP device to the member container forwarding the lowest free host
port of the application range to CONTAINER_PORT, and prints the host port. With --remove the
device is deleted and its host port released.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			member, app := args[0], args[1]
			if remove != (len(args) == 2) {
				return fmt.Errorf("CONTAINER_PORT is required to expose and not accepted with --remove")
			}
			env, err := newEnvironment(cmd.Context(), opts, deps)
			if err != nil {
				return err
			}
			if remove {
				return env.reconciler.UnexposeApp(cmd.Context(), member, app)
			}
			containerPort, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid container port %q: %w", args[2], err)
			}
			if msgs := validation.IsValidPortNum(containerPort); len(msgs) > 0 {
				return fmt.Errorf("invalid container port %d: %v", containerPort, msgs)
			}
			hostPort, err := env.reconciler.ExposeApp(cmd.Context(), member, app, containerPort)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hostPort)
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the application device instead of adding it.")
	return cmd
}
