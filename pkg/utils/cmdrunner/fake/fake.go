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

// Package fake provides a recording Runner for unit tests.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
	"go.goms.io/fleetbed/pkg/utils/controller"
)

// Handler answers one command. Returning a non-nil error is passed through unchanged.
type Handler func(cmd cmdrunner.Command) (cmdrunner.Result, error)

// Runner records every command and answers them with Handler.
type Runner struct {
	mu      sync.Mutex
	calls   []cmdrunner.Command
	handler Handler
	missing sets.Set[string]
}

var _ cmdrunner.Runner = &Runner{}

// NewRunner returns a Runner that answers with h. A nil handler answers every command with success.
func NewRunner(h Handler) *Runner {
	return &Runner{handler: h, missing: sets.New[string]()}
}

// SetMissing marks programs as absent from the host.
func (r *Runner) SetMissing(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missing.Insert(names...)
}

func (r *Runner) Run(_ context.Context, cmd cmdrunner.Command) (cmdrunner.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cmd)
	missing := r.missing.Has(cmd.Name)
	h := r.handler
	r.mu.Unlock()

	if missing {
		return cmdrunner.Result{}, controller.NewPrereqMissingError(fmt.Errorf("program %q is not installed", cmd.Name))
	}
	if h == nil {
		return cmdrunner.Result{}, nil
	}
	return h(cmd)
}

func (r *Runner) LookPath(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missing.Has(name) {
		return "", controller.NewPrereqMissingError(fmt.Errorf("program %q is not installed", name))
	}
	return "/usr/bin/" + name, nil
}

// Calls returns the command lines run so far.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.String())
	}
	return out
}

// Commands returns the commands run so far.
func (r *Runner) Commands() []cmdrunner.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]cmdrunner.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsWithPrefix returns the command lines that start with prefix.
func (r *Runner) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range r.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets the recorded commands.
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Fail builds the error a runner returns for a non-zero exit.
func Fail(cmd cmdrunner.Command, exitCode int, stderr string) (cmdrunner.Result, error) {
	return cmdrunner.Result{Stderr: stderr, ExitCode: exitCode},
		&cmdrunner.CommandError{Command: cmd.String(), ExitCode: exitCode, Stderr: stderr}
}

// Ok builds a successful result with stdout.
func Ok(stdout string) (cmdrunner.Result, error) {
	return cmdrunner.Result{Stdout: stdout}, nil
}
