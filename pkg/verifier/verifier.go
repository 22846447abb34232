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

// Package verifier checks the health of the fleet layer by layer. Every check is reported on its
// own; a failing check never stops the ones after it.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/klog/v2"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/clients/karmada"
	"go.goms.io/fleetbed/pkg/clients/kube"
	"go.goms.io/fleetbed/pkg/clients/lxd"
	"go.goms.io/fleetbed/pkg/exposure"
	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
	"go.goms.io/fleetbed/pkg/utils/poll"
)

const (
	lxdDaemonUnit       = "snap.lxd.daemon.service"
	defaultProbeHost    = "127.0.0.1"
	defaultProbeTimeout = 5 * time.Second
	defaultReadyTimeout = 2 * time.Minute
	notReadyReason      = "member is not Ready"
)

// AppProbe describes an application exposed through an app proxy device.
type AppProbe struct {
	// Name is the application name; the device is proxy-<name>.
	Name string `json:"name"`
	// ContainerPort is the expected target port when Service is empty.
	ContainerPort int `json:"containerPort,omitempty"`
	// Service is a namespace/name NodePort service whose first node port is the expected target.
	Service string `json:"service,omitempty"`
	// Path is appended to the probe URL.
	Path string `json:"path,omitempty"`
}

// Options lists what the verifier expects to find.
type Options struct {
	Members          []string
	ControlPlane     clusterv1beta1.ControlPlane
	APIContainerPort int
	AppProbes        []AppProbe
	// ProbeHost is the address application probes are sent to.
	ProbeHost    string
	ProbeTimeout time.Duration
	// ReadyTimeout bounds the wait for the host MicroK8s to report ready.
	ReadyTimeout time.Duration
	// DescriptorPath returns the access descriptor of a member, used to look up probe services.
	DescriptorPath func(member string) string
}

// Verifier runs the checks.
type Verifier struct {
	runner  cmdrunner.Runner
	lxd     *lxd.Client
	karmada *karmada.Client
	clients kube.ClientFactory
	http    *http.Client
	opts    Options
}

// New returns a verifier. Zero options take their defaults.
func New(runner cmdrunner.Runner, lxdClient *lxd.Client, karmadaClient *karmada.Client, clients kube.ClientFactory, opts Options) *Verifier {
	if opts.APIContainerPort == 0 {
		opts.APIContainerPort = clusterv1beta1.DefaultAPIContainerPort
	}
	if opts.ProbeHost == "" {
		opts.ProbeHost = defaultProbeHost
	}
	if opts.ProbeTimeout == 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.ReadyTimeout == 0 {
		opts.ReadyTimeout = defaultReadyTimeout
	}
	if opts.ControlPlane.Namespace == "" {
		opts.ControlPlane.Namespace = clusterv1beta1.DefaultControlPlaneNamespace
	}
	return &Verifier{
		runner:  runner,
		lxd:     lxdClient,
		karmada: karmadaClient,
		clients: clients,
		http:    &http.Client{Timeout: opts.ProbeTimeout},
		opts:    opts,
	}
}

// Verify runs all four levels and exports the outcome of every check.
func (v *Verifier) Verify(ctx context.Context) *Report {
	r := newReport()
	r.record(v.verifyHost(ctx)...)
	r.record(v.verifyControlPlane(ctx)...)
	ready, results := v.verifyFederation(ctx, v.opts.Members)
	r.record(results...)
	r.record(v.verifyExposure(ctx, v.opts.Members, ready)...)
	r.export()
	klog.InfoS("Verification finished", "passed", r.Passed, "checks", len(r.Results), "failed", len(r.Failed()))
	return r
}

// VerifyMembers runs only the federation and exposure levels, for the given members.
func (v *Verifier) VerifyMembers(ctx context.Context, members []string) *Report {
	r := newReport()
	ready, results := v.verifyFederation(ctx, members)
	r.record(results...)
	r.record(v.verifyExposure(ctx, members, ready)...)
	r.export()
	klog.InfoS("Member verification finished", "members", members, "passed", r.Passed, "checks", len(r.Results))
	return r
}

func fromErr(level Level, member, description string, err error) CheckResult {
	res := CheckResult{Level: level, Member: member, Description: description, Passed: err == nil}
	if err != nil {
		res.Reason = err.Error()
	}
	return res
}

// expect compares an observed value with a literal expected value.
func expect(level Level, member, description, observed, expected string, err error) CheckResult {
	if err != nil {
		return fromErr(level, member, description, err)
	}
	res := CheckResult{Level: level, Member: member, Description: description, Passed: observed == expected}
	if !res.Passed {
		res.Reason = fmt.Sprintf("expected %q, got %q", expected, observed)
	}
	return res
}

func skipped(level Level, member, description, reason string) CheckResult {
	return CheckResult{Level: level, Member: member, Description: description, Skipped: true, Reason: reason}
}

func (v *Verifier) verifyHost(ctx context.Context) []CheckResult {
	_, listErr := v.lxd.List(ctx)
	_, unitErr := v.runner.Run(ctx, cmdrunner.NewCommand("systemctl", "is-active", "--quiet", lxdDaemonUnit))
	distErr := poll.Within(ctx, v.opts.ReadyTimeout, "host MicroK8s to be ready", func(ctx context.Context) error {
		_, err := v.runner.Run(ctx, cmdrunner.NewCommand("microk8s", "status", "--wait-ready"))
		return err
	})
	return []CheckResult{
		fromErr(LevelHost, "", "lxd responds", listErr),
		fromErr(LevelHost, "", "lxd daemon is active", unitErr),
		fromErr(LevelHost, "", "host MicroK8s is running and ready", distErr),
	}
}

func (v *Verifier) verifyControlPlane(ctx context.Context) []CheckResult {
	_, apiErr := v.karmada.ListClusters(ctx)
	results := []CheckResult{fromErr(LevelControlPlane, "", "karmada API server responds", apiErr)}

	podsDescription := fmt.Sprintf("control plane pods in %s are running and ready", v.opts.ControlPlane.Namespace)
	cs, err := v.clients.Clientset(v.opts.ControlPlane.HostKubeconfigPath)
	if err != nil {
		return append(results, fromErr(LevelControlPlane, "", podsDescription, err))
	}
	pods, err := cs.CoreV1().Pods(v.opts.ControlPlane.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return append(results, fromErr(LevelControlPlane, "", podsDescription, err))
	}
	if len(pods.Items) == 0 {
		return append(results, fromErr(LevelControlPlane, "", podsDescription, errors.New("no pods found")))
	}
	for i := range pods.Items {
		pod := &pods.Items[i]
		results = append(results, fromErr(LevelControlPlane, "", "pod "+pod.Name+" is running and ready", podHealth(pod)))
	}
	return results
}

func podHealth(pod *corev1.Pod) error {
	if pod.Status.Phase != corev1.PodRunning {
		return fmt.Errorf("phase is %s", pod.Status.Phase)
	}
	var notReady []string
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			notReady = append(notReady, cs.Name)
		}
	}
	if len(notReady) > 0 {
		return fmt.Errorf("containers not ready: %s", strings.Join(notReady, ", "))
	}
	return nil
}

func (v *Verifier) verifyFederation(ctx context.Context, members []string) (map[string]bool, []CheckResult) {
	ready := make(map[string]bool, len(members))
	results := make([]CheckResult, 0, len(members))
	for _, m := range members {
		observed := ""
		cluster, err := v.karmada.GetCluster(ctx, m)
		if err == nil {
			observed = string(cluster.ReadyStatus())
		}
		res := expect(LevelFederation, m, "registered and Ready", observed, string(metav1.ConditionTrue), err)
		ready[m] = res.Passed
		results = append(results, res)
	}
	return ready, results
}

func (v *Verifier) verifyExposure(ctx context.Context, members []string, ready map[string]bool) []CheckResult {
	perMember := make([][]CheckResult, len(members))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range members {
		if !ready[m] {
			perMember[i] = v.skipExposure(m)
			continue
		}
		g.Go(func() error {
			perMember[i] = v.verifyMemberExposure(gctx, m)
			return nil
		})
	}
	_ = g.Wait()
	var results []CheckResult
	for _, r := range perMember {
		results = append(results, r...)
	}
	return results
}

func apiDeviceDescription() string {
	return exposure.APIDeviceName + " targets the API server"
}

func appDeviceDescription(p AppProbe) string {
	return exposure.DeviceName(clusterv1beta1.AppPurpose(p.Name)) + " targets the application"
}

func appProbeDescription(p AppProbe) string {
	return "application " + p.Name + " answers over HTTP"
}

func (v *Verifier) skipExposure(member string) []CheckResult {
	results := []CheckResult{skipped(LevelExposure, member, apiDeviceDescription(), notReadyReason)}
	for _, p := range v.opts.AppProbes {
		results = append(results,
			skipped(LevelExposure, member, appDeviceDescription(p), notReadyReason),
			skipped(LevelExposure, member, appProbeDescription(p), notReadyReason))
	}
	return results
}

func (v *Verifier) verifyMemberExposure(ctx context.Context, member string) []CheckResult {
	connect, err := v.lxd.GetDeviceConfig(ctx, member, exposure.APIDeviceName, "connect")
	results := []CheckResult{
		expect(LevelExposure, member, apiDeviceDescription(), connect, exposure.ConnectAddress(v.opts.APIContainerPort), err),
	}
	for _, p := range v.opts.AppProbes {
		results = append(results, v.verifyApp(ctx, member, p)...)
	}
	return results
}

func (v *Verifier) verifyApp(ctx context.Context, member string, p AppProbe) []CheckResult {
	device := exposure.DeviceName(clusterv1beta1.AppPurpose(p.Name))
	targetPort, err := v.appTargetPort(ctx, member, p)
	var connect string
	if err == nil {
		connect, err = v.lxd.GetDeviceConfig(ctx, member, device, "connect")
	}
	deviceResult := expect(LevelExposure, member, appDeviceDescription(p), connect, exposure.ConnectAddress(targetPort), err)

	listen, err := v.lxd.GetDeviceConfig(ctx, member, device, "listen")
	if err == nil {
		var hostPort int
		if hostPort, err = exposure.ParsePort(listen); err == nil {
			err = v.probe(ctx, fmt.Sprintf("http://%s:%d%s", v.opts.ProbeHost, hostPort, p.Path))
		}
	}
	return []CheckResult{deviceResult, fromErr(LevelExposure, member, appProbeDescription(p), err)}
}

func (v *Verifier) appTargetPort(ctx context.Context, member string, p AppProbe) (int, error) {
	if p.Service == "" {
		return p.ContainerPort, nil
	}
	if v.opts.DescriptorPath == nil {
		return 0, fmt.Errorf("no access descriptor to look up service %s", p.Service)
	}
	namespace, name, ok := strings.Cut(p.Service, "/")
	if !ok {
		namespace, name = metav1.NamespaceDefault, p.Service
	}
	cs, err := v.clients.Clientset(v.opts.DescriptorPath(member))
	if err != nil {
		return 0, err
	}
	svc, err := cs.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return 0, fmt.Errorf("failed to get service %s: %w", p.Service, err)
	}
	for _, port := range svc.Spec.Ports {
		if port.NodePort != 0 {
			return int(port.NodePort), nil
		}
	}
	return 0, fmt.Errorf("service %s has no node port", p.Service)
}

func (v *Verifier) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("GET %s returned %s", url, resp.Status)
	}
	return nil
}
