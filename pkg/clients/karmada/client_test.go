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

package karmada

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
	"go.goms.io/fleetbed/pkg/utils/cmdrunner/fake"
	"go.goms.io/fleetbed/pkg/utils/controller"
)

const karmadaConfig = "/root/.kube/karmada.config"

func TestGetCluster(t *testing.T) {
	tests := []struct {
		name       string
		handler    fake.Handler
		wantErr    error
		wantReady  bool
		wantStatus metav1.ConditionStatus
	}{
		{
			name: "ready",
			handler: func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
				return fake.Ok(`{"metadata":{"name":"member1"},"status":{"conditions":[{"type":"Ready","status":"True","reason":"ClusterReady","message":"cluster is healthy and ready to accept workloads","lastTransitionTime":"2025-01-01T00:00:00Z"}]}}`)
			},
			wantReady:  true,
			wantStatus: metav1.ConditionTrue,
		},
		{
			name: "joined but not ready",
			handler: func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
				return fake.Ok(`{"metadata":{"name":"member1"},"status":{"conditions":[{"type":"Ready","status":"False","reason":"ClusterNotReachable","message":"","lastTransitionTime":"2025-01-01T00:00:00Z"}]}}`)
			},
			wantStatus: metav1.ConditionFalse,
		},
		{
			name: "no conditions yet",
			handler: func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
				return fake.Ok(`{"metadata":{"name":"member1"}}`)
			},
			wantStatus: metav1.ConditionUnknown,
		},
		{
			name: "not registered",
			handler: func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
				return fake.Fail(cmd, 1, `Error from server (NotFound): clusters.cluster.karmada.io "member1" not found`)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "control plane unreachable",
			handler: func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
				return fake.Fail(cmd, 1, "The connection to the server 127.0.0.1:32443 was refused")
			},
			wantErr: controller.ErrCommandFailure,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			runner := fake.NewRunner(tc.handler)
			got, err := NewClient(runner, karmadaConfig).GetCluster(context.Background(), "member1")
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("GetCluster() = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetCluster() = %v, want no error", err)
			}
			if got.IsReady() != tc.wantReady {
				t.Errorf("IsReady() = %v, want %v", got.IsReady(), tc.wantReady)
			}
			if got.ReadyStatus() != tc.wantStatus {
				t.Errorf("ReadyStatus() = %v, want %v", got.ReadyStatus(), tc.wantStatus)
			}
			cmds := runner.Commands()
			if diff := cmp.Diff([]string{"KUBECONFIG=" + karmadaConfig}, cmds[0].Env); diff != "" {
				t.Errorf("env mismatch (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestJoinAndUnjoin(t *testing.T) {
	runner := fake.NewRunner(func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
		if cmd.Args[0] == "unjoin" && cmd.Args[1] == "member9" {
			return fake.Fail(cmd, 1, `clusters.cluster.karmada.io "member9" not found`)
		}
		return fake.Ok("")
	})
	c := NewClient(runner, karmadaConfig)
	ctx := context.Background()
	if err := c.Join(ctx, "member4", "/root/.kube/member4.config"); err != nil {
		t.Fatalf("Join() = %v, want no error", err)
	}
	if err := c.Unjoin(ctx, "member4"); err != nil {
		t.Fatalf("Unjoin(member4) = %v, want no error", err)
	}
	if err := c.Unjoin(ctx, "member9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Unjoin(member9) = %v, want %v", err, ErrNotFound)
	}
	want := []string{
		"karmadactl join member4 --cluster-kubeconfig /root/.kube/member4.config",
		"karmadactl unjoin member4",
		"karmadactl unjoin member9",
	}
	if diff := cmp.Diff(want, runner.Calls()); diff != "" {
		t.Errorf("commands mismatch (-want, +got):\n%s", diff)
	}
}

func TestParseRegisterCommand(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		want    *RegisterCommand
		wantErr bool
	}{
		{
			name: "printed register command",
			out:  "karmadactl register 10.10.0.5:32443 --token t8xfio.640u9gp9obc72v5d --discovery-token-ca-cert-hash sha256:9d7a\n",
			want: &RegisterCommand{Endpoint: "10.10.0.5:32443", Token: "t8xfio.640u9gp9obc72v5d", CACertHash: "sha256:9d7a"},
		},
		{
			name: "kubectl plugin form with preamble",
			out:  "token created\nkubectl karmada register 10.10.0.5:32443 --token=abc.def --discovery-token-ca-cert-hash=sha256:1\n",
			want: &RegisterCommand{Endpoint: "10.10.0.5:32443", Token: "abc.def", CACertHash: "sha256:1"},
		},
		{
			name:    "missing token",
			out:     "karmadactl register 10.10.0.5:32443 --discovery-token-ca-cert-hash sha256:1",
			wantErr: true,
		},
		{
			name:    "no register line",
			out:     "error: unauthorized",
			wantErr: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseRegisterCommand(tc.out)
			if tc.wantErr != (err != nil) {
				t.Fatalf("ParseRegisterCommand() = %v, wantErr %v", err, tc.wantErr)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseRegisterCommand() mismatch (-want, +got):\n%s", diff)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	runner := fake.NewRunner(func(cmd cmdrunner.Command) (cmdrunner.Result, error) {
		if cmd.Args[0] == "token" {
			return fake.Ok("karmadactl register 10.10.0.5:32443 --token abc.def --discovery-token-ca-cert-hash sha256:1\n")
		}
		return fake.Ok("")
	})
	c := NewClient(runner, karmadaConfig)
	rc, err := c.CreateRegisterCommand(context.Background())
	if err != nil {
		t.Fatalf("CreateRegisterCommand() = %v, want no error", err)
	}
	if err := c.Register(context.Background(), rc, "member5", "/root/.kube/member5.config"); err != nil {
		t.Fatalf("Register() = %v, want no error", err)
	}
	want := []string{
		"karmadactl token create --ttl 0 --print-register-command",
		"karmadactl register 10.10.0.5:32443 --token abc.def --discovery-token-ca-cert-hash sha256:1 --cluster-name member5 --kubeconfig /root/.kube/member5.config",
	}
	if diff := cmp.Diff(want, runner.Calls()); diff != "" {
		t.Errorf("commands mismatch (-want, +got):\n%s", diff)
	}
}
