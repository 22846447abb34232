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

// Package reconciler drives members of the fleet through their whole lifecycle: it adds members
// stage by stage, destroys them and reports their status.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/klog/v2"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/bootstrapper"
	"go.goms.io/fleetbed/pkg/clients/karmada"
	"go.goms.io/fleetbed/pkg/clients/kube"
	"go.goms.io/fleetbed/pkg/credentials"
	"go.goms.io/fleetbed/pkg/exposure"
	"go.goms.io/fleetbed/pkg/membership"
	"go.goms.io/fleetbed/pkg/provisioner"
	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
	"go.goms.io/fleetbed/pkg/utils/condition"
	"go.goms.io/fleetbed/pkg/utils/controller"
	"go.goms.io/fleetbed/pkg/utils/poll"
)

// DefaultHealthCheck bounds the wait for a new member's API to answer through its host port.
var DefaultHealthCheck = poll.Options{Attempts: 12, Interval: 10 * time.Second, Description: "member API to answer"}

// AppPort is an application port exposed on every member by Setup.
type AppPort struct {
	Name          string `json:"name"`
	ContainerPort int    `json:"containerPort"`
}

// Options tune the reconciler.
type Options struct {
	// KeepOnFailure leaves a partially added member in place instead of rolling it back.
	KeepOnFailure bool
	// JoinMode is membership.ModePush or membership.ModePull.
	JoinMode string
	// HealthCheck bounds the member API health check.
	HealthCheck poll.Options
	// Apps are exposed on every member by Setup.
	Apps []AppPort
	// Init configures the control plane installation run by Setup when it is missing.
	Init karmada.InitOptions
	// SkipInit never installs the control plane.
	SkipInit bool
}

// RequiredPrograms must be installed on the host before the fleet can be changed.
var RequiredPrograms = []string{"lxc", "karmadactl"}

// Components are the collaborators the reconciler drives.
type Components struct {
	// Runner is checked for the required programs before an operation changes anything.
	Runner       cmdrunner.Runner
	Provisioner  *provisioner.Provisioner
	Bootstrapper *bootstrapper.Bootstrapper
	Exposure     *exposure.Registry
	Credentials  *credentials.Rewriter
	Membership   *membership.Controller
	Karmada      *karmada.Client
	Clients      kube.ClientFactory
}

// Reconciler adds, destroys and reports the members of a fleet. Operations that change the
// fleet are serialized.
type Reconciler struct {
	Components
	fleet *clusterv1beta1.Fleet
	opts  Options

	mu sync.Mutex
}

// New returns a reconciler for fleet.
func New(fleet *clusterv1beta1.Fleet, components Components, opts Options) *Reconciler {
	if opts.HealthCheck.Attempts == 0 {
		opts.HealthCheck = DefaultHealthCheck
	}
	if opts.JoinMode == "" {
		opts.JoinMode = membership.ModePush
	}
	return &Reconciler{Components: components, fleet: fleet, opts: opts}
}

// Fleet returns the fleet the reconciler manages.
func (r *Reconciler) Fleet() *clusterv1beta1.Fleet {
	return r.fleet
}

// DiscoverMembers adds every container carrying the member profile to the fleet, so that members
// added by earlier runs are managed even when no fleet file lists them. It returns the names that
// were not in the fleet yet.
func (r *Reconciler) DiscoverMembers(ctx context.Context) ([]string, error) {
	names, err := r.Provisioner.Members(ctx)
	if err != nil {
		return nil, err
	}
	var added []string
	_ = r.mutate(func() error {
		for _, name := range names {
			if _, ok := r.fleet.Get(name); ok {
				continue
			}
			r.fleet.GetOrAdd(name)
			added = append(added, name)
		}
		return nil
	})
	if len(added) > 0 {
		klog.InfoS("Discovered members", "members", added)
	}
	return added, nil
}

// mutate runs fn inside the fleet mutation scope.
func (r *Reconciler) mutate(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn()
}

// Add creates a new member and brings it all the way to Ready. The name must be unused both in
// the container backend and in the federation. If a stage after provisioning began fails, the
// member is rolled back unless KeepOnFailure is set. The error is a *StageError.
func (r *Reconciler) Add(ctx context.Context, name string) (*clusterv1beta1.MemberCluster, error) {
	var member *clusterv1beta1.MemberCluster
	err := r.mutate(func() error {
		if err := runStage(ctx, operationAdd, name, StagePrecheck, func(ctx context.Context) error {
			return r.precheckAdd(ctx, name)
		}); err != nil {
			return err
		}
		if existing, ok := r.fleet.Get(name); ok {
			klog.V(2).InfoS("Replacing stale member record", "member", name, "containerState", existing.ContainerState)
			r.fleet.Remove(name)
		}
		member = clusterv1beta1.NewMemberCluster(name)
		_ = r.fleet.Add(member)

		err := r.bringUp(ctx, operationAdd, member)
		if err == nil {
			return nil
		}
		if r.opts.KeepOnFailure {
			klog.InfoS("Keeping partially added member", "member", name, "err", err)
			return err
		}
		if rbErr := r.rollback(context.WithoutCancel(ctx), member); rbErr != nil {
			klog.ErrorS(rbErr, "Rollback left resources behind", "member", name)
		}
		return err
	})
	return member, err
}

func (r *Reconciler) precheckAdd(ctx context.Context, name string) error {
	if err := provisioner.ValidateName(name); err != nil {
		return err
	}
	if err := r.CheckPrerequisites(true); err != nil {
		return err
	}
	state, err := r.Provisioner.State(ctx, name)
	if err != nil {
		return err
	}
	if state != clusterv1beta1.ContainerStateAbsent {
		return controller.NewInconsistentStateError(fmt.Errorf("a container named %q already exists (%s)", name, state))
	}
	fedState, err := r.Membership.Status(ctx, name)
	if err != nil {
		return err
	}
	if fedState != clusterv1beta1.FederationStateUnregistered {
		return controller.NewInconsistentStateError(fmt.Errorf("a cluster named %q is already registered (%s)", name, fedState))
	}
	// Recover the port table from the host before allocating.
	return r.Exposure.Sync(ctx, r.fleet)
}

// bringUp runs every stage from provisioning to Ready. Each stage tolerates work already done.
func (r *Reconciler) bringUp(ctx context.Context, operation string, member *clusterv1beta1.MemberCluster) error {
	name := member.Name
	stages := []struct {
		stage Stage
		fn    func(ctx context.Context) error
	}{
		{StageProvision, func(ctx context.Context) error { return r.provision(ctx, member) }},
		{StageBootstrap, func(ctx context.Context) error { return r.bootstrap(ctx, member) }},
		{StageExpose, func(ctx context.Context) error { return r.exposeAPI(ctx, member) }},
		{StageCredential, func(ctx context.Context) error { return r.rewriteCredential(ctx, member) }},
		{StageHealthCheck, func(ctx context.Context) error { return r.healthCheck(ctx, member) }},
		{StageJoin, func(ctx context.Context) error { return r.join(ctx, member) }},
		{StageWaitReady, func(ctx context.Context) error { return r.Membership.WaitReady(ctx, member) }},
	}
	for _, s := range stages {
		if err := runStage(ctx, operation, name, s.stage, s.fn); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) provision(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	if member.ContainerState == clusterv1beta1.ContainerStateAbsent {
		if err := member.TransitionContainer(clusterv1beta1.ContainerStateProvisioning); err != nil {
			return controller.NewInconsistentStateError(err)
		}
	}
	member.SetConditions(condition.UnknownCondition(clusterv1beta1.ConditionTypeProvisioned, condition.ProvisioningReason))
	handle, err := r.Provisioner.Provision(ctx, member.Name)
	if err != nil {
		member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeProvisioned, condition.ProvisionFailedReason, err))
		return err
	}
	if err := member.TransitionContainer(clusterv1beta1.ContainerStateRunning); err != nil {
		return controller.NewInconsistentStateError(err)
	}
	reason := condition.ContainerRunningReason
	if handle.Reused {
		reason = condition.ContainerReusedReason
	}
	member.SetConditions(condition.TrueCondition(clusterv1beta1.ConditionTypeProvisioned, reason, ""))
	return nil
}

func (r *Reconciler) bootstrap(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	if err := r.Bootstrapper.Bootstrap(ctx, member.Name); err != nil {
		member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeBootstrapped, condition.BootstrapFailedReason, err))
		return err
	}
	member.SetConditions(condition.TrueCondition(clusterv1beta1.ConditionTypeBootstrapped, condition.BootstrapSucceededReason, ""))
	return nil
}

func (r *Reconciler) exposeAPI(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	hostPort, err := r.Exposure.Expose(ctx, member, clusterv1beta1.PurposeAPI, member.APIContainerPort)
	if err != nil {
		member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeAPIExposed, condition.APIExposeFailedReason, err))
		return err
	}
	member.SetConditions(condition.TrueCondition(clusterv1beta1.ConditionTypeAPIExposed, condition.APIExposedReason,
		fmt.Sprintf("host port %d forwards to container port %d", hostPort, member.APIContainerPort)))
	return nil
}

func (r *Reconciler) rewriteCredential(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	path, err := r.Credentials.Rewrite(ctx, member.Name, member.APIContainerPort, member.APIHostPort)
	if err != nil {
		member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeCredentialRewritten, condition.CredentialRewriteFailedReason, err))
		return err
	}
	member.AccessDescriptorPath = path
	member.SetConditions(condition.TrueCondition(clusterv1beta1.ConditionTypeCredentialRewritten, condition.CredentialRewrittenReason, path))
	return nil
}

// healthCheck lists the member's nodes through its rewritten descriptor until one is Ready.
func (r *Reconciler) healthCheck(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	cs, err := r.Clients.Clientset(member.AccessDescriptorPath)
	if err != nil {
		return err
	}
	err = poll.Until(ctx, r.opts.HealthCheck, func(ctx context.Context) (bool, string, error) {
		nodes, err := cs.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
		if err != nil {
			return false, err.Error(), nil
		}
		ready := 0
		for i := range nodes.Items {
			for _, c := range nodes.Items[i].Status.Conditions {
				if c.Type == corev1.NodeReady && c.Status == corev1.ConditionTrue {
					ready++
				}
			}
		}
		return ready > 0, fmt.Sprintf("%d of %d nodes ready", ready, len(nodes.Items)), nil
	})
	if err != nil {
		member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeHealthy, condition.UnhealthyReason, err))
		return err
	}
	member.SetConditions(condition.TrueCondition(clusterv1beta1.ConditionTypeHealthy, condition.HealthyReason, ""))
	return nil
}

func (r *Reconciler) join(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	if r.opts.JoinMode == membership.ModePull {
		return r.Membership.JoinPull(ctx, member)
	}
	return r.Membership.Join(ctx, member)
}

// rollback removes everything a failed add may have created. Every step runs even if an earlier
// one fails.
func (r *Reconciler) rollback(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	klog.InfoS("Rolling back member", "member", member.Name)
	var errs []error
	if _, err := r.Membership.Unjoin(ctx, member.Name); err != nil {
		errs = append(errs, err)
	}
	if err := r.Exposure.UnexposeAll(ctx, member); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.Provisioner.Destroy(ctx, member.Name); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.Credentials.Remove(member.Name); err != nil {
		errs = append(errs, err)
	}
	r.fleet.Remove(member.Name)
	return utilerrors.NewAggregate(errs)
}

// Setup installs the control plane when it is missing, then brings every named member up. Members
// that already exist are reused and members already Ready are not joined again. Setup stops at the
// first member that fails.
func (r *Reconciler) Setup(ctx context.Context, names []string) error {
	return r.mutate(func() error {
		// The control plane kubeconfig is checked by the control plane stage, which may install it.
		if err := r.CheckPrerequisites(false); err != nil {
			return &StageError{Stage: StagePrecheck, Err: err}
		}
		if err := runStage(ctx, operationSetup, "", StageControlPlane, r.ensureControlPlane); err != nil {
			return err
		}
		for _, name := range names {
			if err := provisioner.ValidateName(name); err != nil {
				return &StageError{Member: name, Stage: StagePrecheck, Err: err}
			}
		}
		if err := r.Exposure.Sync(ctx, r.fleet); err != nil {
			return &StageError{Stage: StagePrecheck, Err: err}
		}
		for _, name := range names {
			member := r.fleet.GetOrAdd(name)
			if err := r.bringUp(ctx, operationSetup, member); err != nil {
				return err
			}
			for _, app := range r.opts.Apps {
				if err := runStage(ctx, operationSetup, name, StageExpose, func(ctx context.Context) error {
					_, err := r.Exposure.Expose(ctx, member, clusterv1beta1.AppPurpose(app.Name), app.ContainerPort)
					return err
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// CheckPrerequisites fails with an ErrPrereqMissing error when a required program is absent from
// the host or, if controlPlane is set, when the control plane kubeconfig does not exist.
func (r *Reconciler) CheckPrerequisites(controlPlane bool) error {
	var errs []error
	if err := cmdrunner.RequirePrograms(r.Runner, RequiredPrograms...); err != nil {
		errs = append(errs, err)
	}
	if controlPlane {
		path := r.fleet.ControlPlane.KubeconfigPath
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, controller.NewPrereqMissingError(fmt.Errorf("control plane kubeconfig %q does not exist", path)))
		} else if err != nil {
			errs = append(errs, err)
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (r *Reconciler) ensureControlPlane(ctx context.Context) error {
	cp := r.fleet.ControlPlane
	if _, err := os.Stat(cp.KubeconfigPath); err == nil {
		klog.V(2).InfoS("Control plane already installed", "kubeconfig", cp.KubeconfigPath)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if r.opts.SkipInit {
		return controller.NewPrereqMissingError(fmt.Errorf("control plane kubeconfig %q does not exist", cp.KubeconfigPath))
	}
	opts := r.opts.Init
	if opts.HostKubeconfig == "" {
		opts.HostKubeconfig = cp.HostKubeconfigPath
	}
	klog.InfoS("Installing the control plane", "hostKubeconfig", opts.HostKubeconfig)
	return r.Karmada.Init(ctx, opts)
}

// ExposeApp exposes an application port of a member and returns the host port assigned to it.
func (r *Reconciler) ExposeApp(ctx context.Context, name, app string, containerPort int) (int, error) {
	var hostPort int
	err := r.mutate(func() error {
		if err := r.Exposure.Sync(ctx, r.fleet); err != nil {
			return err
		}
		member := r.fleet.GetOrAdd(name)
		var err error
		hostPort, err = r.Exposure.Expose(ctx, member, clusterv1beta1.AppPurpose(app), containerPort)
		return err
	})
	return hostPort, err
}

// UnexposeApp removes an application port of a member.
func (r *Reconciler) UnexposeApp(ctx context.Context, name, app string) error {
	return r.mutate(func() error {
		if err := r.Exposure.Sync(ctx, r.fleet); err != nil {
			return err
		}
		return r.Exposure.Unexpose(ctx, r.fleet.GetOrAdd(name), clusterv1beta1.AppPurpose(app))
	})
}
