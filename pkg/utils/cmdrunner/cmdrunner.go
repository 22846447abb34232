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

// Package cmdrunner runs the external programs (lxc, karmadactl, systemctl, ...) that drive the fleet.
// Every interaction with the host goes through the Runner interface so that components can be
// exercised against a simulated host in tests.
package cmdrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"
	utilexec "k8s.io/utils/exec"

	"go.goms.io/fleetbed/pkg/utils/controller"
)

// Command describes one invocation of an external program.
type Command struct {
	// Name is the program to run, resolved through PATH.
	Name string
	// Args are the arguments passed to the program.
	Args []string
	// Env holds extra KEY=VALUE pairs appended to the inherited environment.
	Env []string
	// Stdin is fed to the program when not nil.
	Stdin []byte
}

// NewCommand is a shorthand for a Command without environment or stdin.
func NewCommand(name string, args ...string) Command {
	return Command{Name: name, Args: args}
}

// String returns the command line, for logs and errors.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds what a finished program produced.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs external programs.
type Runner interface {
	// Run runs the command to completion. A non-zero exit yields a *CommandError together with
	// the captured Result; a program that cannot be found yields an ErrPrereqMissing error.
	Run(ctx context.Context, cmd Command) (Result, error)
	// LookPath reports whether the program is available on the host.
	LookPath(name string) (string, error)
}

// CommandError is returned when a program exits with a non-zero status.
type CommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with status %d: %s", e.Command, e.ExitCode, stderr)
}

// Is makes errors.Is(err, controller.ErrCommandFailure) hold for every CommandError.
func (e *CommandError) Is(target error) bool {
	return target == controller.ErrCommandFailure
}

type execRunner struct {
	exec utilexec.Interface
}

var _ Runner = &execRunner{}

// New returns a Runner backed by the host's process execution.
func New() Runner {
	return NewWithExec(utilexec.New())
}

// NewWithExec returns a Runner backed by the given exec interface.
func NewWithExec(exec utilexec.Interface) Runner {
	return &execRunner{exec: exec}
}

func (r *execRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := r.exec.CommandContext(ctx, c.Name, c.Args...)
	var stdout, stderr bytes.Buffer
	cmd.SetStdout(&stdout)
	cmd.SetStderr(&stderr)
	if len(c.Env) > 0 {
		cmd.SetEnv(append(os.Environ(), c.Env...))
	}
	if c.Stdin != nil {
		cmd.SetStdin(bytes.NewReader(c.Stdin))
	}

	klog.V(4).InfoS("Running command", "command", c.String())
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	if errors.Is(err, utilexec.ErrExecutableNotFound) {
		return res, controller.NewPrereqMissingError(fmt.Errorf("program %q is not installed: %w", c.Name, err))
	}
	// A program killed because ctx ended also exits non-zero.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("command %q interrupted: %w", c.String(), ctxErr)
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitStatus()
		klog.V(2).InfoS("Command failed", "command", c.String(), "exitCode", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
		return res, &CommandError{Command: c.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, controller.NewCommandFailureError(fmt.Errorf("failed to run %q: %w", c.String(), err))
}

func (r *execRunner) LookPath(name string) (string, error) {
	path, err := r.exec.LookPath(name)
	if err != nil {
		return "", controller.NewPrereqMissingError(fmt.Errorf("program %q is not installed: %w", name, err))
	}
	return path, nil
}

// RequirePrograms fails with an ErrPrereqMissing error naming every program absent from the host.
func RequirePrograms(r Runner, names ...string) error {
	var errs []error
	for _, name := range names {
		if _, err := r.LookPath(name); err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}
