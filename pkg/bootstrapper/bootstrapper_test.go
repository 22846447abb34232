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

package bootstrapper

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"k8s.io/apimachinery/pkg/util/sets"

	"go.goms.io/fleetbed/pkg/clients/lxd"
	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
	"go.goms.io/fleetbed/pkg/utils/cmdrunner/fake"
	"go.goms.io/fleetbed/pkg/utils/controller"
	"go.goms.io/fleetbed/test/utils/fakehost"
)

func TestBootstrap(t *testing.T) {
	host := fakehost.New()
	host.AddContainer("member4", "Running")
	b := New(lxd.NewClient(host.Runner()), nil, "")

	if err := b.Bootstrap(context.Background(), "member4"); err != nil {
		t.Fatalf("Bootstrap() = %v", err)
	}
	want := []string{
		"lxc exec member4 -- bash -c command -v microk8s",
		"lxc exec member4 -- snap install microk8s --classic",
		"lxc exec member4 -- microk8s status --wait-ready",
		"lxc exec member4 -- microk8s enable dns",
		"lxc exec member4 -- microk8s enable hostpath-storage",
	}
	if diff := cmp.Diff(want, host.Runner().Calls()); diff != "" {
		t.Errorf("commands mismatch (-want, +got):\n%s", diff)
	}
	c, _ := host.Container("member4")
	if !c.Addons.Equal(sets.New("dns", "hostpath-storage")) {
		t.Errorf("addons = %v, want dns and hostpath-storage", sets.List(c.Addons))
	}

	// Re-running skips the install.
	host.Runner().Reset()
	if err := b.Bootstrap(context.Background(), "member4"); err != nil {
		t.Fatalf("Bootstrap() again = %v", err)
	}
	if got := host.Runner().CallsWithPrefix("lxc exec member4 -- snap install"); len(got) != 0 {
		t.Errorf("Bootstrap() again reinstalled: %v", got)
	}
}

func TestBootstrapChannelAndAddons(t *testing.T) {
	host := fakehost.New()
	host.AddContainer("member5", "Running")
	b := New(lxd.NewClient(host.Runner()), []string{"dns"}, "1.32/stable")
	if err := b.Bootstrap(context.Background(), "member5"); err != nil {
		t.Fatalf("Bootstrap() = %v", err)
	}
	if got := host.Runner().CallsWithPrefix("lxc exec member5 -- snap install"); len(got) != 1 ||
		got[0] != "lxc exec member5 -- snap install microk8s --classic --channel 1.32/stable" {
		t.Errorf("install commands = %v", got)
	}
	if got := host.Runner().CallsWithPrefix("lxc exec member5 -- microk8s enable"); len(got) != 1 {
		t.Errorf("enable commands = %v, want only dns", got)
	}
}

func TestBootstrapCheckFailure(t *testing.T) {
	runner := fake.NewRunner(func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
		return fake.Fail(cmd, 255, "Error: websocket: bad handshake")
	})
	b := New(lxd.NewClient(runner), nil, "")
	if err := b.Bootstrap(context.Background(), "member4"); err == nil {
		t.Fatalf("Bootstrap() = nil, want error")
	}
	if got := len(runner.Calls()); got != 1 {
		t.Errorf("Bootstrap() issued %d commands after a failed check, want 1", got)
	}
}

// hangingRunner never finishes the readiness wait on its own.
type hangingRunner struct {
	*fake.Runner
}

func (r hangingRunner) Run(ctx context.Context, cmd cmdrunner.Command) (cmdrunner.Result, error) {
	if strings.Contains(cmd.String(), "--wait-ready") {
		<-ctx.Done()
		return cmdrunner.Result{}, ctx.Err()
	}
	return r.Runner.Run(ctx, cmd)
}

func TestBootstrapReadyWaitIsBounded(t *testing.T) {
	runner := hangingRunner{Runner: fake.NewRunner(nil)}
	b := New(lxd.NewClient(runner), nil, "").WithReadyTimeout(20 * time.Millisecond)

	done := make(chan error, 1)
	go func() { done <- b.Bootstrap(context.Background(), "member4") }()
	select {
	case err := <-done:
		if !errors.Is(err, controller.ErrTimeout) {
			t.Fatalf("Bootstrap() = %v, want %v", err, controller.ErrTimeout)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("Bootstrap() still waiting for MicroK8s after 3s")
	}
	if got := runner.CallsWithPrefix("lxc exec member4 -- microk8s enable"); len(got) != 0 {
		t.Errorf("addons enabled on a member that never became ready: %v", got)
	}
}
