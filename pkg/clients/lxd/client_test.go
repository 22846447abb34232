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

package lxd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
	"go.goms.io/fleetbed/pkg/utils/cmdrunner/fake"
	"go.goms.io/fleetbed/pkg/utils/controller"
)

const listOutput = `[
  {
    "name": "member1",
    "status": "Running",
    "profiles": ["default", "microk8s"],
    "devices": {
      "proxy-k8s": {"type": "proxy", "listen": "tcp:0.0.0.0:16441", "connect": "tcp:127.0.0.1:16443"},
      "eth1": {"type": "nic"}
    }
  },
  {"name": "member2", "status": "Stopped", "profiles": ["default"], "devices": {}}
]`

func TestInfo(t *testing.T) {
	runner := fake.NewRunner(func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
		return fake.Ok(listOutput)
	})
	c := NewClient(runner)

	got, err := c.Info(context.Background(), "member1")
	if err != nil {
		t.Fatalf("Info(member1) = %v, want no error", err)
	}
	want := map[string]map[string]string{
		"proxy-k8s": {"type": "proxy", "listen": "tcp:0.0.0.0:16441", "connect": "tcp:127.0.0.1:16443"},
	}
	if diff := cmp.Diff(want, got.ProxyDevices()); diff != "" {
		t.Errorf("ProxyDevices() mismatch (-want, +got):\n%s", diff)
	}
	assert.Equal(t, StatusRunning, got.Status)

	if _, err := c.Info(context.Background(), "member"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Info(member) = %v, want %v", err, ErrNotFound)
	}
}

func TestListDecodeFailure(t *testing.T) {
	c := NewClient(fake.NewRunner(func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
		return fake.Ok("not json")
	}))
	if _, err := c.List(context.Background()); !errors.Is(err, controller.ErrInconsistentState) {
		t.Errorf("List() = %v, want %v", err, controller.ErrInconsistentState)
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		handler fake.Handler
		wantErr bool
	}{
		{
			name:    "reachable",
			handler: func(cmd cmdrunner.Command) (cmdrunner.Result, error) { return fake.Ok("[]") },
		},
		{
			name: "daemon down",
			handler: func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
				return fake.Fail(cmd, 1, "Error: LXD unix socket not accessible")
			},
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := NewClient(fake.NewRunner(tc.handler)).Ping(context.Background())
			if tc.wantErr != (err != nil) {
				t.Fatalf("Ping() = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.wantErr && !errors.Is(err, controller.ErrPrereqMissing) {
				t.Errorf("Ping() = %v, want %v", err, controller.ErrPrereqMissing)
			}
		})
	}
}

func TestCommandLines(t *testing.T) {
	runner := fake.NewRunner(nil)
	c := NewClient(runner)
	ctx := context.Background()

	assert.NoError(t, c.Launch(ctx, "ubuntu:22.04", "member4", "default", "microk8s"))
	_, err := c.Exec(ctx, "member4", "cloud-init", "status", "--wait")
	assert.NoError(t, err)
	assert.NoError(t, c.AddProxyDevice(ctx, "member4", "proxy-k8s", "tcp:0.0.0.0:16444", "tcp:127.0.0.1:16443"))
	assert.NoError(t, c.RemoveDevice(ctx, "member4", "proxy-k8s"))
	assert.NoError(t, c.Stop(ctx, "member4", true))
	assert.NoError(t, c.Start(ctx, "member4"))
	assert.NoError(t, c.Delete(ctx, "member4"))

	want := []string{
		"lxc launch ubuntu:22.04 member4 --profile default --profile microk8s",
		"lxc exec member4 -- cloud-init status --wait",
		"lxc config device add member4 proxy-k8s proxy listen=tcp:0.0.0.0:16444 connect=tcp:127.0.0.1:16443",
		"lxc config device remove member4 proxy-k8s",
		"lxc stop member4 --force",
		"lxc start member4",
		"lxc delete member4 --force",
	}
	if diff := cmp.Diff(want, runner.Calls()); diff != "" {
		t.Errorf("commands mismatch (-want, +got):\n%s", diff)
	}
}

func TestEditProfile(t *testing.T) {
	runner := fake.NewRunner(nil)
	p := &Profile{
		Config: map[string]string{"security.nesting": "true"},
		Devices: map[string]map[string]string{
			"kmsg": {"type": "unix-char", "source": "/dev/kmsg"},
		},
	}
	if err := NewClient(runner).EditProfile(context.Background(), "microk8s", p); err != nil {
		t.Fatalf("EditProfile() = %v, want no error", err)
	}
	cmds := runner.Commands()
	if len(cmds) != 1 {
		t.Fatalf("got %d commands, want 1", len(cmds))
	}
	doc := string(cmds[0].Stdin)
	for _, want := range []string{"security.nesting: \"true\"", "source: /dev/kmsg", "type: unix-char"} {
		if !strings.Contains(doc, want) {
			t.Errorf("profile document %q does not contain %q", doc, want)
		}
	}
}

func TestGetDeviceConfig(t *testing.T) {
	runner := fake.NewRunner(func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
		if cmd.Args[4] == "proxy-k8s" {
			return fake.Ok("tcp:127.0.0.1:16443\n")
		}
		return fake.Fail(cmd, 1, "Error: Device doesn't exist")
	})
	c := NewClient(runner)
	got, err := c.GetDeviceConfig(context.Background(), "member1", "proxy-k8s", "connect")
	assert.NoError(t, err)
	assert.Equal(t, "tcp:127.0.0.1:16443", got)

	_, err = c.GetDeviceConfig(context.Background(), "member1", "proxy-web", "connect")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDeviceConfig(proxy-web) = %v, want %v", err, ErrNotFound)
	}
}
