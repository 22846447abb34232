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

// Package membership registers member clusters with the karmada control plane and tracks
// their federation state.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/sets"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/util/retry"
	"k8s.io/klog/v2"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/clients/karmada"
	"go.goms.io/fleetbed/pkg/clients/kube"
	"go.goms.io/fleetbed/pkg/metrics"
	"go.goms.io/fleetbed/pkg/utils/condition"
	"go.goms.io/fleetbed/pkg/utils/controller"
	"go.goms.io/fleetbed/pkg/utils/poll"
)

const (
	// ModePush registers a member with `karmadactl join`.
	ModePush = "push"
	// ModePull registers a member with `karmadactl register`, deploying the karmada agent into it.
	ModePull = "pull"

	// AgentDeploymentName is the deployment `karmadactl register` creates in the member.
	AgentDeploymentName = "karmada-agent"
)

var (
	// DefaultReadyWait is how long a freshly joined member is given to become Ready.
	DefaultReadyWait = poll.Options{Attempts: 18, Interval: 10 * time.Second, Description: "member to become Ready"}
	// DefaultStatusRetry bounds the retries of a status read that fails for a transient reason.
	DefaultStatusRetry = poll.Options{Attempts: 3, Interval: 2 * time.Second, Description: "federation status"}
)

// Controller drives the federation state machine of the members.
type Controller struct {
	karmada        *karmada.Client
	clients        kube.ClientFactory
	agentNamespace string
	scheme         *runtime.Scheme

	readyWait   poll.Options
	statusRetry poll.Options

	mu       sync.Mutex
	inFlight sets.Set[string]
}

// New returns a controller registering members with the control plane behind karmadaClient.
func New(karmadaClient *karmada.Client, clients kube.ClientFactory) *Controller {
	return &Controller{
		karmada:        karmadaClient,
		clients:        clients,
		agentNamespace: clusterv1beta1.DefaultControlPlaneNamespace,
		scheme:         clientgoscheme.Scheme,
		readyWait:      DefaultReadyWait,
		statusRetry:    DefaultStatusRetry,
		inFlight:       sets.New[string](),
	}
}

// WithReadyWait overrides the bounds of WaitReady.
func (c *Controller) WithReadyWait(opts poll.Options) *Controller {
	c.readyWait = opts
	return c
}

// WithStatusRetry overrides the bounds of the status read retries.
func (c *Controller) WithStatusRetry(opts poll.Options) *Controller {
	c.statusRetry = opts
	return c
}

// Status returns the federation state the control plane reports for the member. A member the
// control plane does not know is Unregistered. Transient read failures are retried.
func (c *Controller) Status(ctx context.Context, name string) (clusterv1beta1.FederationState, error) {
	var state clusterv1beta1.FederationState
	err := poll.Until(ctx, c.statusRetry, func(ctx context.Context) (bool, string, error) {
		s, err := c.status(ctx, name)
		if err != nil {
			if errors.Is(err, controller.ErrPrereqMissing) {
				return false, "", err
			}
			klog.V(2).InfoS("Failed to read federation status", "member", name, "err", err)
			return false, err.Error(), nil
		}
		state = s
		return true, string(s), nil
	})
	if err != nil {
		return "", err
	}
	return state, nil
}

func (c *Controller) status(ctx context.Context, name string) (clusterv1beta1.FederationState, error) {
	cluster, err := c.karmada.GetCluster(ctx, name)
	switch {
	case errors.Is(err, karmada.ErrNotFound):
		return clusterv1beta1.FederationStateUnregistered, nil
	case err != nil:
		return "", err
	case cluster.IsReady():
		return clusterv1beta1.FederationStateReady, nil
	default:
		return clusterv1beta1.FederationStateJoinedNotReady, nil
	}
}

// Observe refreshes the federation state of the member from the control plane.
func (c *Controller) Observe(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	state, err := c.Status(ctx, member.Name)
	if err != nil {
		return err
	}
	member.ObserveFederation(state)
	var desired metav1.Condition
	switch member.FederationState {
	case clusterv1beta1.FederationStateReady:
		desired = condition.TrueCondition(clusterv1beta1.ConditionTypeReady, condition.ReadyReason, "control plane reports the member Ready")
	case clusterv1beta1.FederationStateJoinedNotReady:
		desired = condition.FalseCondition(clusterv1beta1.ConditionTypeReady, condition.NotReadyReason, errors.New("control plane reports the member not Ready"))
	default:
		member.RemoveCondition(string(clusterv1beta1.ConditionTypeReady))
		return nil
	}
	// A repeated observation keeps the message recorded by a stage.
	if !condition.EqualCondition(member.GetCondition(string(clusterv1beta1.ConditionTypeReady)), &desired) {
		member.SetConditions(desired)
	}
	return nil
}

// Join registers the member in push mode. A member the control plane already reports Ready is
// left alone. A member that is registered but not Ready is unjoined exactly once before the join.
func (c *Controller) Join(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	return c.join(ctx, member, ModePush, func(ctx context.Context) error {
		return c.karmada.Join(ctx, member.Name, member.AccessDescriptorPath)
	})
}

// JoinPull registers the member in pull mode: a bootstrap token is created on the control plane,
// `karmadactl register` deploys the agent into the member and the agent deployment is checked
// available.
func (c *Controller) JoinPull(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	return c.join(ctx, member, ModePull, func(ctx context.Context) error {
		rc, err := c.karmada.CreateRegisterCommand(ctx)
		if err != nil {
			return err
		}
		klog.V(2).InfoS("Created register command", "member", member.Name, "endpoint", rc.Endpoint)
		if err := c.karmada.Register(ctx, rc, member.Name, member.AccessDescriptorPath); err != nil {
			return err
		}
		return c.waitAgentAvailable(ctx, member)
	})
}

func (c *Controller) join(ctx context.Context, member *clusterv1beta1.MemberCluster, mode string, register func(context.Context) error) error {
	if member.AccessDescriptorPath == "" {
		return controller.NewInconsistentStateError(fmt.Errorf("member cluster %q has no access descriptor to join with", member.Name))
	}
	release, err := c.acquire(member.Name)
	if err != nil {
		return err
	}
	defer release()

	state, err := c.Status(ctx, member.Name)
	if err != nil {
		return err
	}
	reason := condition.JoinSucceededReason
	switch state {
	case clusterv1beta1.FederationStateReady:
		klog.InfoS("Member is already Ready, skipping join", "member", member.Name)
		member.ObserveFederation(state)
		member.SetConditions(condition.TrueCondition(clusterv1beta1.ConditionTypeJoined, condition.JoinSucceededReason, "already registered and Ready"))
		return nil
	case clusterv1beta1.FederationStateJoinedNotReady:
		klog.InfoS("Member is registered but not Ready, unjoining before joining again", "member", member.Name)
		member.ObserveFederation(state)
		if err := member.TransitionFederation(clusterv1beta1.FederationStateUnregistered); err != nil {
			return controller.NewInconsistentStateError(err)
		}
		if _, err := c.unjoin(ctx, member.Name); err != nil {
			member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeJoined, condition.JoinFailedReason, err))
			return err
		}
		reason = condition.JoinRepairedReason
	default:
		member.ObserveFederation(state)
	}

	if err := member.TransitionFederation(clusterv1beta1.FederationStateRegistering); err != nil {
		return controller.NewInconsistentStateError(err)
	}
	klog.InfoS("Joining member", "member", member.Name, "mode", mode, "kubeconfig", member.AccessDescriptorPath)
	err = register(ctx)
	metrics.ReportJoinResultMetric(mode, err)
	if err != nil {
		klog.ErrorS(err, "Failed to join member", "member", member.Name, "mode", mode)
		if tErr := member.TransitionFederation(clusterv1beta1.FederationStateUnregistered); tErr != nil {
			klog.ErrorS(tErr, "Failed to record the failed join", "member", member.Name)
		}
		member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeJoined, condition.JoinFailedReason, err))
		return err
	}
	if err := member.TransitionFederation(clusterv1beta1.FederationStateJoinedNotReady); err != nil {
		return controller.NewInconsistentStateError(err)
	}
	member.SetConditions(condition.TrueCondition(clusterv1beta1.ConditionTypeJoined, reason, fmt.Sprintf("registered in %s mode", mode)))
	klog.InfoS("Joined member", "member", member.Name, "mode", mode)
	return nil
}

// acquire marks a join of name as outstanding. The returned func releases it.
func (c *Controller) acquire(name string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight.Has(name) {
		return nil, controller.NewInconsistentStateError(fmt.Errorf("a join of member cluster %q is already in progress", name))
	}
	c.inFlight.Insert(name)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.inFlight.Delete(name)
	}, nil
}

func (c *Controller) waitAgentAvailable(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	cl, err := c.clients.Client(member.AccessDescriptorPath, c.scheme)
	if err != nil {
		return err
	}
	key := types.NamespacedName{Namespace: c.agentNamespace, Name: AgentDeploymentName}
	opts := c.readyWait
	opts.Description = "karmada agent to become available"
	return poll.Until(ctx, opts, func(ctx context.Context) (bool, string, error) {
		var deploy appsv1.Deployment
		err := retry.OnError(retry.DefaultBackoff, isRetriable, func() error {
			return cl.Get(ctx, key, &deploy)
		})
		switch {
		case apierrors.IsNotFound(err):
			return false, "agent deployment not found", nil
		case err != nil:
			return false, err.Error(), nil
		}
		for _, cond := range deploy.Status.Conditions {
			if cond.Type == appsv1.DeploymentAvailable && cond.Status == corev1.ConditionTrue {
				return true, "available", nil
			}
		}
		return false, fmt.Sprintf("%d ready replicas", deploy.Status.ReadyReplicas), nil
	})
}

func isRetriable(err error) bool {
	return apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) || apierrors.IsTooManyRequests(err) ||
		apierrors.IsServiceUnavailable(err)
}

// Unjoin removes the registration of the member. A member the control plane does not know
// counts as success; wasRegistered reports whether there was anything to remove.
func (c *Controller) Unjoin(ctx context.Context, name string) (bool, error) {
	return c.unjoin(ctx, name)
}

func (c *Controller) unjoin(ctx context.Context, name string) (bool, error) {
	err := c.karmada.Unjoin(ctx, name)
	if errors.Is(err, karmada.ErrNotFound) {
		klog.InfoS("Member is not registered, nothing to unjoin", "member", name)
		return false, nil
	}
	metrics.ReportLeaveResultMetric(err)
	if err != nil {
		klog.ErrorS(err, "Failed to unjoin member", "member", name)
		return true, err
	}
	klog.InfoS("Unjoined member", "member", name)
	return true, nil
}

// UnjoinMember unjoins the member and moves it through Unjoining to Unregistered.
func (c *Controller) UnjoinMember(ctx context.Context, member *clusterv1beta1.MemberCluster) (bool, error) {
	if err := member.TransitionFederation(clusterv1beta1.FederationStateUnjoining); err != nil {
		return false, controller.NewInconsistentStateError(err)
	}
	registered, err := c.unjoin(ctx, member.Name)
	if err != nil {
		return registered, err
	}
	if err := member.TransitionFederation(clusterv1beta1.FederationStateUnregistered); err != nil {
		return registered, controller.NewInconsistentStateError(err)
	}
	member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeJoined, condition.UnjoinedReason, nil))
	member.RemoveCondition(string(clusterv1beta1.ConditionTypeReady))
	return registered, nil
}

// WaitReady polls the control plane until it reports the member Ready, then moves the member to Ready.
// Running out of attempts yields an ErrTimeout error carrying the last observed state.
func (c *Controller) WaitReady(ctx context.Context, member *clusterv1beta1.MemberCluster) error {
	err := poll.Until(ctx, c.readyWait, func(ctx context.Context) (bool, string, error) {
		state, err := c.status(ctx, member.Name)
		if err != nil {
			if errors.Is(err, controller.ErrPrereqMissing) {
				return false, "", err
			}
			return false, err.Error(), nil
		}
		return state == clusterv1beta1.FederationStateReady, string(state), nil
	})
	if err != nil {
		member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeReady, condition.NotReadyReason, err))
		return err
	}
	if err := member.TransitionFederation(clusterv1beta1.FederationStateReady); err != nil {
		member.SetConditions(condition.FalseCondition(clusterv1beta1.ConditionTypeReady, condition.NotReadyReason, err))
		return controller.NewInconsistentStateError(err)
	}
	member.SetConditions(condition.TrueCondition(clusterv1beta1.ConditionTypeReady, condition.ReadyReason, "control plane reports the member Ready"))
	klog.InfoS("Member is Ready", "member", member.Name)
	return nil
}
