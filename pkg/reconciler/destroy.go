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

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
)

// Outcome is the result of one destroy step.
type Outcome string

const (
	OutcomeDone          Outcome = "Done"
	OutcomeAlreadyAbsent Outcome = "AlreadyAbsent"
	OutcomeFailed        Outcome = "Failed"
)

// StepResult is the outcome of one destroy step.
type StepResult struct {
	Stage   Stage
	Outcome Outcome
	Err     error
}

// DestroyReport lists what destroying a member did.
type DestroyReport struct {
	Member string
	Steps  []StepResult
}

// AlreadyAbsent reports whether there was nothing left to destroy.
func (r *DestroyReport) AlreadyAbsent() bool {
	for _, s := range r.Steps {
		if s.Outcome != OutcomeAlreadyAbsent {
			return false
		}
	}
	return true
}

// Step returns the result of the given stage.
func (r *DestroyReport) Step(stage Stage) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Stage == stage {
			return s, true
		}
	}
	return StepResult{}, false
}

func (r *DestroyReport) record(stage Stage, done bool, err error) {
	res := StepResult{Stage: stage, Outcome: OutcomeDone}
	switch {
	case err != nil:
		res.Outcome, res.Err = OutcomeFailed, err
	case !done:
		res.Outcome = OutcomeAlreadyAbsent
	}
	r.Steps = append(r.Steps, res)
}

func (r *DestroyReport) failed() int {
	n := 0
	for _, s := range r.Steps {
		if s.Outcome == OutcomeFailed {
			n++
		}
	}
	return n
}

func (r *DestroyReport) err() error {
	var errs []error
	for _, s := range r.Steps {
		if s.Err != nil {
			errs = append(errs, s.Err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

// Destroy removes a member: it unjoins it, removes its proxy devices, deletes its container and its
// access descriptor. Every step runs even if an earlier one failed; failures are aggregated into
// the returned error. Parts that were already gone are reported as such.
func (r *Reconciler) Destroy(ctx context.Context, name string) (*DestroyReport, error) {
	var report *DestroyReport
	err := r.mutate(func() error {
		report = r.destroy(ctx, name)
		return report.err()
	})
	return report, err
}

func (r *Reconciler) destroy(ctx context.Context, name string) *DestroyReport {
	report := &DestroyReport{Member: name}
	klog.InfoS("Destroying member", "member", name)

	member := r.fleet.GetOrAdd(name)
	containerState, err := r.Provisioner.State(ctx, name)
	if err != nil {
		klog.ErrorS(err, "Failed to observe the member container", "member", name)
	} else {
		member.ObserveContainer(containerState)
	}
	if err := r.Exposure.Sync(ctx, r.fleet); err != nil {
		klog.ErrorS(err, "Failed to sync proxy devices", "member", name)
	}

	r.step(ctx, report, StageUnjoin, func(ctx context.Context) (bool, error) {
		if err := r.Membership.Observe(ctx, member); err != nil {
			return false, err
		}
		if member.FederationState == clusterv1beta1.FederationStateUnregistered {
			return false, nil
		}
		return r.Membership.UnjoinMember(ctx, member)
	})
	r.step(ctx, report, StageUnexpose, func(ctx context.Context) (bool, error) {
		if len(member.ProxyDevices) == 0 {
			r.Exposure.Table().ReleaseMember(name)
			return false, nil
		}
		return true, r.Exposure.UnexposeAll(ctx, member)
	})
	deleted := r.step(ctx, report, StageDeleteContainer, func(ctx context.Context) (bool, error) {
		absent, err := r.Provisioner.Destroy(ctx, name)
		if err != nil {
			return false, err
		}
		if err := member.TransitionContainer(clusterv1beta1.ContainerStateDestroyed); err != nil {
			klog.ErrorS(err, "Failed to record the deleted container", "member", name)
		}
		return !absent, nil
	})
	r.step(ctx, report, StageRemoveCredential, func(context.Context) (bool, error) {
		return r.Credentials.Remove(name)
	})

	if deleted {
		r.fleet.Remove(name)
	}
	if report.AlreadyAbsent() {
		klog.InfoS("Member already absent", "member", name)
	} else {
		klog.InfoS("Destroyed member", "member", name, "failedSteps", report.failed())
	}
	return report
}

// step runs one destroy step and records its outcome. fn reports whether it removed anything.
// It returns false when the step failed.
func (r *Reconciler) step(ctx context.Context, report *DestroyReport, stage Stage, fn func(ctx context.Context) (bool, error)) bool {
	done := false
	err := runStage(ctx, operationDestroy, report.Member, stage, func(ctx context.Context) error {
		var err error
		done, err = fn(ctx)
		return err
	})
	report.record(stage, done, err)
	return err == nil
}

// Teardown destroys every member of the fleet, then removes the control plane and the member profile.
func (r *Reconciler) Teardown(ctx context.Context) ([]*DestroyReport, error) {
	var reports []*DestroyReport
	err := r.mutate(func() error {
		var errs []error
		for _, name := range r.fleet.Names() {
			report := r.destroy(ctx, name)
			reports = append(reports, report)
			if err := report.err(); err != nil {
				errs = append(errs, err)
			}
		}
		cp := r.fleet.ControlPlane
		if err := runStage(ctx, operationTeardown, "", StageControlPlane, func(ctx context.Context) error {
			if _, err := os.Stat(cp.KubeconfigPath); errors.Is(err, fs.ErrNotExist) {
				klog.InfoS("Control plane kubeconfig not found, skipping deinit", "kubeconfig", cp.KubeconfigPath)
				return nil
			}
			if err := r.Karmada.Deinit(ctx, cp.HostKubeconfigPath); err != nil {
				return err
			}
			if err := os.Remove(cp.KubeconfigPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to remove %q: %w", cp.KubeconfigPath, err)
			}
			return nil
		}); err != nil {
			errs = append(errs, err)
		}
		if err := runStage(ctx, operationTeardown, "", StageProfile, r.Provisioner.RemoveProfile); err != nil {
			errs = append(errs, err)
		}
		return utilerrors.NewAggregate(errs)
	})
	return reports, err
}
