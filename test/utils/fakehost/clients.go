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

package fakehost

import (
	"fmt"
	"path/filepath"
	"strings"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	"sigs.k8s.io/controller-runtime/pkg/client"
	crfake "sigs.k8s.io/controller-runtime/pkg/client/fake"

	"go.goms.io/fleetbed/pkg/clients/kube"
)

const (
	controlPlaneNamespace = "karmada-system"
	agentName             = "karmada-agent"
)

// ClientFactory hands out fake API clients whose answers follow the simulated host.
type ClientFactory struct {
	host *Host
	// HostKubeconfig is the path the verifier uses for the host cluster.
	HostKubeconfig string
	// ControlPlaneHealthy controls the phase of the control plane pods.
	ControlPlaneHealthy bool
}

var _ kube.ClientFactory = &ClientFactory{}

// ClientFactory returns a factory bound to the host.
func (h *Host) ClientFactory(hostKubeconfig string) *ClientFactory {
	return &ClientFactory{host: h, HostKubeconfig: hostKubeconfig, ControlPlaneHealthy: true}
}

func memberFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".config")
}

func (f *ClientFactory) Clientset(path string) (kubernetes.Interface, error) {
	if path == f.HostKubeconfig {
		return k8sfake.NewSimpleClientset(f.controlPlanePods()...), nil
	}
	member := memberFromPath(path)
	cs := k8sfake.NewSimpleClientset(&corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: member},
		Status: corev1.NodeStatus{
			Conditions: []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}},
		},
	})
	cs.PrependReactor("*", "*", func(action k8stesting.Action) (bool, runtime.Object, error) {
		if !f.host.APIReachable(member) {
			return true, nil, fmt.Errorf("dial tcp 127.0.0.1: connect: connection refused (member %s)", member)
		}
		return false, nil, nil
	})
	return cs, nil
}

func (f *ClientFactory) Client(path string, scheme *runtime.Scheme) (client.Client, error) {
	member := memberFromPath(path)
	builder := crfake.NewClientBuilder().WithScheme(scheme)
	f.host.mu.Lock()
	r, registered := f.host.registrations[member]
	pull := registered && r.SyncMode == "Pull"
	f.host.mu.Unlock()
	if pull {
		builder = builder.WithObjects(&appsv1.Deployment{
			ObjectMeta: metav1.ObjectMeta{Name: agentName, Namespace: controlPlaneNamespace},
			Status: appsv1.DeploymentStatus{
				ReadyReplicas: 1,
				Conditions: []appsv1.DeploymentCondition{
					{Type: appsv1.DeploymentAvailable, Status: corev1.ConditionTrue},
				},
			},
		})
	}
	return builder.Build(), nil
}

func (f *ClientFactory) controlPlanePods() []runtime.Object {
	names := []string{"etcd-0", "karmada-apiserver-0", "karmada-controller-manager-0", "karmada-scheduler-0", "karmada-webhook-0"}
	phase, ready := corev1.PodRunning, true
	if !f.ControlPlaneHealthy {
		phase, ready = corev1.PodPending, false
	}
	objs := make([]runtime.Object, 0, len(names))
	for _, n := range names {
		objs = append(objs, &corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{Name: n, Namespace: controlPlaneNamespace},
			Status: corev1.PodStatus{
				Phase:             phase,
				ContainerStatuses: []corev1.ContainerStatus{{Name: "main", Ready: ready}},
			},
		})
	}
	return objs
}
