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

package options

import (
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/util/homedir"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/bootstrapper"
	"go.goms.io/fleetbed/pkg/chaos"
	"go.goms.io/fleetbed/pkg/membership"
	"go.goms.io/fleetbed/pkg/reconciler"
)

const (
	defaultHostKubeconfig     = "/var/snap/microk8s/current/credentials/client.config"
	defaultKarmadaKubeconfig  = "karmada.config"
	defaultMetricsBindAddress = "0"

	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

// Options contains everything the fleetbed commands share.
type Options struct {
	// ConfigFile is the optional YAML fleet file.
	ConfigFile string
	// KubeconfigDir is where member access descriptors are written.
	KubeconfigDir string
	// KarmadaKubeconfig is the kubeconfig of the federation control plane.
	KarmadaKubeconfig string
	// HostKubeconfig is the kubeconfig of the host distribution the control plane runs in.
	HostKubeconfig string
	// ControlPlaneNamespace is the namespace of the control plane pods on the host cluster.
	ControlPlaneNamespace string
	// EndpointHost is the host written into member access descriptors.
	EndpointHost string
	// Image is the image member containers are launched from.
	Image string
	// Profile is the lxd profile applied to member containers.
	Profile string
	// Channel is the MicroK8s snap channel. Empty installs the default channel.
	Channel string
	// Addons are enabled on every member. Nil keeps the defaults.
	Addons []string
	// JoinMode is push or pull.
	JoinMode string
	// KeepOnFailure leaves a partially added member in place.
	KeepOnFailure bool
	// SkipInit never installs the control plane.
	SkipInit bool
	// InitTimeout bounds the control plane component readiness wait of karmadactl init.
	InitTimeout metav1.Duration
	// HealthCheckAttempts and HealthCheckInterval bound the member API health check.
	HealthCheckAttempts int
	HealthCheckInterval metav1.Duration
	// ReadyWaitAttempts and ReadyWaitInterval bound the wait for a joined member to be Ready.
	ReadyWaitAttempts int
	ReadyWaitInterval metav1.Duration
	// ContainerReadyTimeout bounds the cloud-init and MicroK8s readiness waits inside a member container.
	ContainerReadyTimeout metav1.Duration
	// Output is the format of printed tables: table, json or yaml.
	Output string
}

// NewOptions builds the default options.
func NewOptions() *Options {
	kubeDir := filepath.Join(homedir.HomeDir(), ".kube")
	return &Options{
		KubeconfigDir:         kubeDir,
		KarmadaKubeconfig:     filepath.Join(kubeDir, defaultKarmadaKubeconfig),
		HostKubeconfig:        defaultHostKubeconfig,
		ControlPlaneNamespace: clusterv1beta1.DefaultControlPlaneNamespace,
		JoinMode:              membership.ModePush,
		InitTimeout:           metav1.Duration{Duration: 15 * time.Minute},
		HealthCheckAttempts:   reconciler.DefaultHealthCheck.Attempts,
		HealthCheckInterval:   metav1.Duration{Duration: reconciler.DefaultHealthCheck.Interval},
		ReadyWaitAttempts:     membership.DefaultReadyWait.Attempts,
		ReadyWaitInterval:     metav1.Duration{Duration: membership.DefaultReadyWait.Interval},
		ContainerReadyTimeout: metav1.Duration{Duration: bootstrapper.DefaultReadyTimeout},
		Output:                OutputTable,
	}
}

// AddFlags adds flags to the specified FlagSet.
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.ConfigFile, "config", o.ConfigFile, "Path to a YAML fleet file listing members, port ranges and application probes.")
	flags.StringVar(&o.KubeconfigDir, "kubeconfig-dir", o.KubeconfigDir, "Directory member access descriptors are written to.")
	flags.StringVar(&o.KarmadaKubeconfig, "karmada-kubeconfig", o.KarmadaKubeconfig, "Kubeconfig of the federation control plane.")
	flags.StringVar(&o.HostKubeconfig, "host-kubeconfig", o.HostKubeconfig, "Kubeconfig of the host cluster the control plane runs in.")
	flags.StringVar(&o.ControlPlaneNamespace, "control-plane-namespace", o.ControlPlaneNamespace, "Namespace of the control plane pods on the host cluster.")
	flags.StringVar(&o.EndpointHost, "endpoint-host", o.EndpointHost, "Host written into member access descriptors. Defaults to 127.0.0.1.")
	flags.StringVar(&o.Image, "image", o.Image, "Image member containers are launched from. Defaults to ubuntu:22.04.")
	flags.StringVar(&o.Profile, "profile", o.Profile, "LXD profile applied to member containers. Defaults to microk8s.")
	flags.StringVar(&o.Channel, "channel", o.Channel, "MicroK8s snap channel to install.")
	flags.StringSliceVar(&o.Addons, "addons", o.Addons, "MicroK8s addons enabled on every member. Defaults to dns,hostpath-storage.")
	flags.StringVar(&o.JoinMode, "join-mode", o.JoinMode, "How members register with the control plane: push or pull.")
	flags.BoolVar(&o.KeepOnFailure, "keep-on-failure", o.KeepOnFailure, "Leave a partially added member in place instead of rolling it back.")
	flags.BoolVar(&o.SkipInit, "skip-init", o.SkipInit, "Never install the control plane; fail when its kubeconfig is missing.")
	flags.DurationVar(&o.InitTimeout.Duration, "init-timeout", o.InitTimeout.Duration, "How long karmadactl init waits for the control plane components.")
	flags.IntVar(&o.HealthCheckAttempts, "health-check-attempts", o.HealthCheckAttempts, "Attempts of the member API health check.")
	flags.DurationVar(&o.HealthCheckInterval.Duration, "health-check-interval", o.HealthCheckInterval.Duration, "Interval between member API health check attempts.")
	flags.IntVar(&o.ReadyWaitAttempts, "ready-wait-attempts", o.ReadyWaitAttempts, "Attempts of the wait for a joined member to be Ready.")
	flags.DurationVar(&o.ReadyWaitInterval.Duration, "ready-wait-interval", o.ReadyWaitInterval.Duration, "Interval between Ready checks.")
	flags.DurationVar(&o.ContainerReadyTimeout.Duration, "container-ready-timeout", o.ContainerReadyTimeout.Duration, "How long to wait for cloud-init and MicroK8s to settle inside a member container.")
	flags.StringVarP(&o.Output, "output", "o", o.Output, "Output format: table, json or yaml.")
}

// ChaosOptions configure the chaos command.
type ChaosOptions struct {
	Interval        metav1.Duration
	DownProbability float64
	HealOnExit      bool
	// MetricsBindAddress serves prometheus metrics while the injector runs. "0" disables it.
	MetricsBindAddress string
}

// NewChaosOptions builds the default chaos options.
func NewChaosOptions() *ChaosOptions {
	return &ChaosOptions{
		Interval:           metav1.Duration{Duration: chaos.DefaultInterval},
		DownProbability:    chaos.DefaultDownProbability,
		MetricsBindAddress: defaultMetricsBindAddress,
	}
}

// AddFlags adds flags to the specified FlagSet.
func (o *ChaosOptions) AddFlags(flags *pflag.FlagSet) {
	flags.DurationVar(&o.Interval.Duration, "interval", o.Interval.Duration, "Time between two chaos cycles.")
	flags.Float64Var(&o.DownProbability, "down-probability", o.DownProbability, "Probability in [0,1] that a member is stopped in a cycle.")
	flags.BoolVar(&o.HealOnExit, "heal-on-exit", o.HealOnExit, "Start every member the injector stopped when it exits.")
	flags.StringVar(&o.MetricsBindAddress, "metrics-bind-address", o.MetricsBindAddress, "The TCP address to serve prometheus metrics on. \"0\" disables serving.")
}

// VerifyOptions configure the verify command.
type VerifyOptions struct {
	ProbeHost    string
	ProbeTimeout metav1.Duration
	// MembersOnly skips the host and control plane levels.
	MembersOnly bool
}

// NewVerifyOptions builds the default verify options.
func NewVerifyOptions() *VerifyOptions {
	return &VerifyOptions{ProbeHost: "127.0.0.1", ProbeTimeout: metav1.Duration{Duration: 5 * time.Second}}
}

// AddFlags adds flags to the specified FlagSet.
func (o *VerifyOptions) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.ProbeHost, "probe-host", o.ProbeHost, "Address application probes are sent to.")
	flags.DurationVar(&o.ProbeTimeout.Duration, "probe-timeout", o.ProbeTimeout.Duration, "Timeout of one application probe.")
	flags.BoolVar(&o.MembersOnly, "members-only", o.MembersOnly, "Only check federation membership and exposure of the members.")
}
