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

package chaos

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	testingclock "k8s.io/utils/clock/testing"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/clients/lxd"
	"go.goms.io/fleetbed/pkg/metrics"
	"go.goms.io/fleetbed/pkg/provisioner"
	"go.goms.io/fleetbed/test/utils/fakehost"
)

// draws returns a rand source replaying values in order, wrapping around.
func draws(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{name: "defaults", opts: Options{Targets: []string{"member1"}, Interval: DefaultInterval, DownProbability: DefaultDownProbability}},
		{name: "probability bounds are inclusive", opts: Options{Targets: []string{"member1"}, Interval: time.Second, DownProbability: 1}},
		{name: "negative probability", opts: Options{Targets: []string{"member1"}, Interval: time.Second, DownProbability: -0.1}, wantErr: true},
		{name: "probability above one", opts: Options{Targets: []string{"member1"}, Interval: time.Second, DownProbability: 1.5}, wantErr: true},
		{name: "no targets", opts: Options{Interval: time.Second}, wantErr: true},
		{name: "zero interval", opts: Options{Targets: []string{"member1"}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.opts.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCycle(t *testing.T) {
	host := fakehost.New()
	host.AddContainer("member1", "Running")
	host.AddContainer("member2", "Stopped")
	host.AddContainer("member3", "Running")
	prov := provisioner.New(lxd.NewClient(host.Runner()), "", "")
	opts := Options{Targets: []string{"member1", "member2", "member3", "member9"}, Interval: time.Minute, DownProbability: 0.1}
	inj, err := New(prov, opts)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	fakeClock := testingclock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	inj.WithRand(draws(0.05, 0.5, 0.5)).WithClock(fakeClock)
	metrics.ChaosActionsTotal.Reset()

	got := inj.Cycle(context.Background())
	want := []Decision{
		{Member: "member1", Observed: clusterv1beta1.ContainerStateRunning, Desired: clusterv1beta1.ContainerStateStopped, Action: ActionStop},
		{Member: "member2", Observed: clusterv1beta1.ContainerStateStopped, Desired: clusterv1beta1.ContainerStateRunning, Action: ActionStart},
		{Member: "member3", Observed: clusterv1beta1.ContainerStateRunning, Desired: clusterv1beta1.ContainerStateRunning, Action: ActionKeep},
		{Member: "member9", Observed: clusterv1beta1.ContainerStateAbsent, Action: ActionSkip},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateErrors()); diff != "" {
		t.Errorf("Cycle() mismatch (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"lxc stop member1", "lxc start member2"}, append(
		host.Runner().CallsWithPrefix("lxc stop"), host.Runner().CallsWithPrefix("lxc start")...)); diff != "" {
		t.Errorf("state commands mismatch (-want, +got):\n%s", diff)
	}
	assert.Equal(t, float64(fakeClock.Now().Unix()), testutil.ToFloat64(metrics.ChaosLastCycleTimestampSeconds))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ChaosActionsTotal.WithLabelValues("member1", "stop")))
	assert.Equal(t, map[string]clusterv1beta1.ContainerState{
		"member1": clusterv1beta1.ContainerStateStopped,
		"member2": clusterv1beta1.ContainerStateRunning,
	}, inj.LastCommanded())
}

func TestCycleIsIdempotent(t *testing.T) {
	host := fakehost.New()
	host.AddContainer("member1", "Running")
	host.AddContainer("member2", "Running")
	prov := provisioner.New(lxd.NewClient(host.Runner()), "", "")
	inj, err := New(prov, Options{Targets: []string{"member1", "member2"}, Interval: time.Minute, DownProbability: 0.5})
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	// member1 always drawn down, member2 always drawn up.
	inj.WithRand(draws(0.1, 0.9))

	inj.Cycle(context.Background())
	host.Runner().Reset()
	for range 3 {
		for _, d := range inj.Cycle(context.Background()) {
			assert.Equal(t, ActionKeep, d.Action, "member %s", d.Member)
		}
	}
	assert.Empty(t, host.Runner().CallsWithPrefix("lxc stop"))
	assert.Empty(t, host.Runner().CallsWithPrefix("lxc start"))
}

func TestRunHealsOnExit(t *testing.T) {
	tests := []struct {
		name       string
		healOnExit bool
		wantStatus string
	}{
		{name: "no heal by default", healOnExit: false, wantStatus: "Stopped"},
		{name: "heal on exit", healOnExit: true, wantStatus: "Running"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := fakehost.New()
			host.AddContainer("member1", "Running")
			host.AddContainer("member2", "Running")
			prov := provisioner.New(lxd.NewClient(host.Runner()), "", "")
			inj, err := New(prov, Options{
				Targets:         []string{"member1", "member2"},
				Interval:        10 * time.Millisecond,
				DownProbability: 1,
				HealOnExit:      tt.healOnExit,
			})
			if err != nil {
				t.Fatalf("New() = %v", err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			if err := inj.Run(ctx); err != nil {
				t.Fatalf("Run() = %v", err)
			}
			for _, m := range []string{"member1", "member2"} {
				c, _ := host.Container(m)
				assert.Equal(t, tt.wantStatus, c.Status, "member %s", m)
			}
		})
	}
}
