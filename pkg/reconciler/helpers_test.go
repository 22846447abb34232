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
	"os"
	"path/filepath"
	"time"

	"k8s.io/client-go/kubernetes"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/bootstrapper"
	"go.goms.io/fleetbed/pkg/clients/karmada"
	"go.goms.io/fleetbed/pkg/clients/kube"
	"go.goms.io/fleetbed/pkg/clients/lxd"
	"go.goms.io/fleetbed/pkg/credentials"
	"go.goms.io/fleetbed/pkg/exposure"
	"go.goms.io/fleetbed/pkg/membership"
	"go.goms.io/fleetbed/pkg/portallocator"
	"go.goms.io/fleetbed/pkg/provisioner"
	"go.goms.io/fleetbed/pkg/utils/poll"
	"go.goms.io/fleetbed/test/utils/fakehost"
)

const hostKubeconfig = "/var/snap/microk8s/current/credentials/client.config"

var (
	fastWait = poll.Options{Attempts: 3, Interval: time.Millisecond, Description: "test wait"}

	// readyMembers and their api host ports, 16443 being reserved for the host.
	readyMembers = map[string]int{"member1": 16441, "member2": 16442, "member3": 16444}
)

type harness struct {
	host    *fakehost.Host
	dir     string
	fleet   *clusterv1beta1.Fleet
	table   *portallocator.Table
	factory kube.ClientFactory
	rec     *Reconciler
}

// newHarness returns a reconciler over a simulated host running the ready members with the
// control plane installed.
func newHarness(dir string, opts Options) *harness {
	h := &harness{host: fakehost.New(), dir: dir, table: portallocator.NewDefaultTable()}
	names := make([]string, 0, len(readyMembers))
	for _, name := range []string{"member1", "member2", "member3"} {
		h.host.AddReadyMember(name, readyMembers[name])
		names = append(names, name)
	}
	h.fleet = clusterv1beta1.NewFleet(clusterv1beta1.ControlPlane{
		Name:               "karmada",
		KubeconfigPath:     filepath.Join(dir, "karmada.config"),
		HostKubeconfigPath: hostKubeconfig,
		Namespace:          clusterv1beta1.DefaultControlPlaneNamespace,
	}, names...)
	h.factory = h.host.ClientFactory(hostKubeconfig)
	if err := os.WriteFile(h.fleet.ControlPlane.KubeconfigPath, []byte("apiVersion: v1\n"), 0o600); err != nil {
		panic(err)
	}
	h.build(opts)
	return h
}

// uninstallControlPlane removes the control plane kubeconfig, as on a host that was never set up.
func (h *harness) uninstallControlPlane() {
	if err := os.Remove(h.fleet.ControlPlane.KubeconfigPath); err != nil {
		panic(err)
	}
}

func (h *harness) build(opts Options) {
	runner := h.host.Runner()
	lxdClient := lxd.NewClient(runner)
	karmadaClient := karmada.NewClient(runner, h.fleet.ControlPlane.KubeconfigPath)
	if opts.HealthCheck.Attempts == 0 {
		opts.HealthCheck = fastWait
	}
	h.rec = New(h.fleet, Components{
		Runner:       runner,
		Provisioner:  provisioner.New(lxdClient, "", ""),
		Bootstrapper: bootstrapper.New(lxdClient, nil, ""),
		Exposure:     exposure.NewRegistry(lxdClient, h.table),
		Credentials: credentials.NewRewriter(lxdClient, h.dir, "").WithOwner(func() (int, int, bool, error) {
			return 0, 0, false, nil
		}),
		Membership: membership.New(karmadaClient, h.factory).WithReadyWait(fastWait).WithStatusRetry(fastWait),
		Karmada:    karmadaClient,
		Clients:    h.factory,
	}, opts)
}

// portHeld reports whether any member holds the host port.
func (h *harness) portHeld(port int) bool {
	for _, a := range h.table.Snapshot() {
		if a.HostPort == port {
			return true
		}
	}
	return false
}

func (h *harness) descriptor(member string) string {
	return filepath.Join(h.dir, member+".config")
}

// cancellingFactory cancels the operation the first time a member clientset is requested.
type cancellingFactory struct {
	kube.ClientFactory
	cancel func()
}

func (f *cancellingFactory) Clientset(path string) (kubernetes.Interface, error) {
	f.cancel()
	return f.ClientFactory.Clientset(path)
}
