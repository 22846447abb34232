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

// Package chaos stops and starts member containers at random to exercise the failure handling of
// the federation control plane.
package chaos

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/metrics"
)

const (
	// DefaultInterval is the time between two cycles.
	DefaultInterval = 600 * time.Second
	// DefaultDownProbability is the chance of a member being taken down in a cycle.
	DefaultDownProbability = 0.1

	healTimeout = 5 * time.Minute
)

// Action is what a cycle did to a member.
type Action string

const (
	ActionStop  Action = "stop"
	ActionStart Action = "start"
	ActionKeep  Action = "keep"
	// ActionSkip means the member container could not be observed.
	ActionSkip Action = "skip"
)

// ContainerController observes and changes the state of member containers.
type ContainerController interface {
	State(ctx context.Context, name string) (clusterv1beta1.ContainerState, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string, force bool) error
}

// Options configure the injector.
type Options struct {
	Targets         []string
	Interval        time.Duration
	DownProbability float64
	// HealOnExit starts every member the injector stopped once Run is cancelled.
	HealOnExit bool
}

// Validate checks the options.
func (o Options) Validate() error {
	var errs []error
	if len(o.Targets) == 0 {
		errs = append(errs, errors.New("at least one target is required"))
	}
	if o.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive, got %s", o.Interval))
	}
	if o.DownProbability < 0 || o.DownProbability > 1 {
		errs = append(errs, fmt.Errorf("down probability must be between 0 and 1, got %v", o.DownProbability))
	}
	return utilerrors.NewAggregate(errs)
}

// Decision records what a cycle observed and did for one member.
type Decision struct {
	Member   string
	Observed clusterv1beta1.ContainerState
	Desired  clusterv1beta1.ContainerState
	Action   Action
	Err      error
}

// Injector drives the chaos cycles.
type Injector struct {
	containers ContainerController
	opts       Options
	rand       func() float64
	clock      clock.Clock

	mu        sync.Mutex
	commanded map[string]clusterv1beta1.ContainerState
	stopped   sets.Set[string]
}

// New returns an injector after validating opts.
func New(containers ContainerController, opts Options) (*Injector, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Injector{
		containers: containers,
		opts:       opts,
		rand:       rand.Float64,
		clock:      clock.RealClock{},
		commanded:  map[string]clusterv1beta1.ContainerState{},
		stopped:    sets.New[string](),
	}, nil
}

// WithRand replaces the source of the per-member draws, which must return values in [0,1).
func (i *Injector) WithRand(f func() float64) *Injector {
	i.rand = f
	return i
}

// WithClock replaces the clock cycles are stamped and timed with.
func (i *Injector) WithClock(c clock.Clock) *Injector {
	i.clock = c
	return i
}

// Cycle observes every target and moves it to a randomly drawn state. A command is only
// issued when the drawn state differs from the observed one.
func (i *Injector) Cycle(ctx context.Context) []Decision {
	now := i.clock.Now()
	klog.InfoS("Chaos cycle started", "targets", i.opts.Targets, "downProbability", i.opts.DownProbability)
	decisions := make([]Decision, 0, len(i.opts.Targets))
	for _, member := range i.opts.Targets {
		decisions = append(decisions, i.decide(ctx, member))
	}
	metrics.SetChaosLastCycle(now)
	klog.InfoS("Chaos cycle finished", "latency", i.clock.Since(now).Milliseconds(), "nextCycleIn", i.opts.Interval)
	return decisions
}

func (i *Injector) decide(ctx context.Context, member string) Decision {
	d := Decision{Member: member, Action: ActionSkip}
	observed, err := i.containers.State(ctx, member)
	if err != nil {
		klog.ErrorS(err, "Skipping member, failed to observe its container", "member", member)
		d.Err = err
		return d
	}
	d.Observed = observed
	if observed == clusterv1beta1.ContainerStateAbsent {
		klog.InfoS("Skipping member, container not found", "member", member)
		return d
	}

	d.Desired = clusterv1beta1.ContainerStateRunning
	if i.rand() < i.opts.DownProbability {
		d.Desired = clusterv1beta1.ContainerStateStopped
	}
	switch {
	case d.Desired == observed:
		d.Action = ActionKeep
		klog.V(2).InfoS("Keeping member in its current state", "member", member, "state", observed)
		return d
	case d.Desired == clusterv1beta1.ContainerStateStopped:
		d.Action = ActionStop
		klog.InfoS("Taking member offline", "member", member)
		d.Err = i.containers.Stop(ctx, member, false)
	default:
		d.Action = ActionStart
		klog.InfoS("Bringing member online", "member", member)
		d.Err = i.containers.Start(ctx, member)
	}
	if d.Err != nil {
		klog.ErrorS(d.Err, "Failed to change member state", "member", member, "action", d.Action)
		return d
	}
	metrics.ReportChaosAction(member, string(d.Action))
	i.mu.Lock()
	i.commanded[member] = d.Desired
	if d.Action == ActionStop {
		i.stopped.Insert(member)
	} else {
		i.stopped.Delete(member)
	}
	i.mu.Unlock()
	return d
}

// Run cycles every interval until ctx is cancelled. On cancellation it logs the last commanded state
// of every member and, with HealOnExit, starts the members it left stopped.
func (i *Injector) Run(ctx context.Context) error {
	klog.InfoS("Chaos injector starting", "targets", i.opts.Targets, "interval", i.opts.Interval,
		"downProbability", i.opts.DownProbability, "healOnExit", i.opts.HealOnExit)
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		i.Cycle(ctx)
	}, i.opts.Interval)

	for member, state := range i.LastCommanded() {
		klog.InfoS("Chaos injector stopped", "member", member, "lastCommandedState", state)
	}
	if !i.opts.HealOnExit {
		return nil
	}
	return i.heal(context.WithoutCancel(ctx))
}

func (i *Injector) heal(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healTimeout)
	defer cancel()
	i.mu.Lock()
	members := sets.List(i.stopped)
	i.mu.Unlock()

	var errs []error
	for _, member := range members {
		klog.InfoS("Healing member", "member", member)
		if err := i.containers.Start(ctx, member); err != nil {
			klog.ErrorS(err, "Failed to heal member", "member", member)
			errs = append(errs, err)
			continue
		}
		metrics.ReportChaosAction(member, string(ActionStart))
		i.mu.Lock()
		i.commanded[member] = clusterv1beta1.ContainerStateRunning
		i.stopped.Delete(member)
		i.mu.Unlock()
	}
	return utilerrors.NewAggregate(errs)
}

// LastCommanded returns the state last commanded for each member the injector acted on.
func (i *Injector) LastCommanded() map[string]clusterv1beta1.ContainerState {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make(map[string]clusterv1beta1.ContainerState, len(i.commanded))
	for k, v := range i.commanded {
		out[k] = v
	}
	return out
}
