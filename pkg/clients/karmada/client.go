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

// Package karmada is a typed client over the karmadactl command line tool.
package karmada

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
	"go.goms.io/fleetbed/pkg/utils/controller"
)

const (
	karmadactlBinary = "karmadactl"

	// ClusterConditionReady is the condition karmada sets once it can reach a member.
	ClusterConditionReady = "Ready"
)

// ErrNotFound is returned when the member cluster is not registered with the control plane.
var ErrNotFound = errors.New("cluster not registered")

// Cluster is the subset of the karmada Cluster object the fleet relies on.
type Cluster struct {
	metav1.ObjectMeta `json:"metadata"`
	Spec              ClusterSpec   `json:"spec"`
	Status            ClusterStatus `json:"status"`
}

// ClusterSpec holds the connection details karmada keeps for a member.
type ClusterSpec struct {
	APIEndpoint string `json:"apiEndpoint,omitempty"`
	SyncMode    string `json:"syncMode,omitempty"`
}

// ClusterStatus holds the conditions karmada reports for a member.
type ClusterStatus struct {
	KubernetesVersion string             `json:"kubernetesVersion,omitempty"`
	Conditions        []metav1.Condition `json:"conditions,omitempty"`
}

// IsReady reports whether the Ready condition is true.
func (c *Cluster) IsReady() bool {
	return meta.IsStatusConditionTrue(c.Status.Conditions, ClusterConditionReady)
}

// ReadyStatus returns the status of the Ready condition, Unknown when absent.
func (c *Cluster) ReadyStatus() metav1.ConditionStatus {
	if cond := meta.FindStatusCondition(c.Status.Conditions, ClusterConditionReady); cond != nil {
		return cond.Status
	}
	return metav1.ConditionUnknown
}

type clusterList struct {
	Items []Cluster `json:"items"`
}

// RegisterCommand is the parsed output of `karmadactl token create --print-register-command`.
type RegisterCommand struct {
	Endpoint   string
	Token      string
	CACertHash string
}

// Client drives the karmada control plane through karmadactl.
type Client struct {
	runner cmdrunner.Runner
	// kubeconfig is the karmada API server kubeconfig, passed through KUBECONFIG.
	kubeconfig string
}

// NewClient returns a client talking to the control plane described by kubeconfig.
func NewClient(runner cmdrunner.Runner, kubeconfig string) *Client {
	return &Client{runner: runner, kubeconfig: kubeconfig}
}

func (c *Client) karmadactl(ctx context.Context, args ...string) (cmdrunner.Result, error) {
	return c.runner.Run(ctx, cmdrunner.Command{
		Name: karmadactlBinary,
		Args: args,
		Env:  []string{"KUBECONFIG=" + c.kubeconfig},
	})
}

// GetCluster returns the registered member cluster, or ErrNotFound.
func (c *Client) GetCluster(ctx context.Context, name string) (*Cluster, error) {
	res, err := c.karmadactl(ctx, "get", "cluster", name, "-o", "json")
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("cluster %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get cluster %q: %w", name, err)
	}
	var cluster Cluster
	if err := json.Unmarshal([]byte(res.Stdout), &cluster); err != nil {
		return nil, controller.NewInconsistentStateError(fmt.Errorf("failed to decode cluster %q: %w", name, err))
	}
	return &cluster, nil
}

// ListClusters returns every registered member cluster.
func (c *Client) ListClusters(ctx context.Context) ([]Cluster, error) {
	res, err := c.karmadactl(ctx, "get", "clusters", "-o", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	var list clusterList
	if err := json.Unmarshal([]byte(res.Stdout), &list); err != nil {
		return nil, controller.NewInconsistentStateError(fmt.Errorf("failed to decode cluster list: %w", err))
	}
	return list.Items, nil
}

// Join registers the member in push mode using its access descriptor.
func (c *Client) Join(ctx context.Context, name, memberKubeconfig string) error {
	if _, err := c.karmadactl(ctx, "join", name, "--cluster-kubeconfig", memberKubeconfig); err != nil {
		return fmt.Errorf("failed to join cluster %q: %w", name, err)
	}
	return nil
}

// Unjoin removes the member registration. An unknown member is reported with ErrNotFound.
func (c *Client) Unjoin(ctx context.Context, name string) error {
	if _, err := c.karmadactl(ctx, "unjoin", name); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("cluster %q: %w", name, ErrNotFound)
		}
		return fmt.Errorf("failed to unjoin cluster %q: %w", name, err)
	}
	return nil
}

// CreateRegisterCommand creates a bootstrap token and returns the register command that uses it.
func (c *Client) CreateRegisterCommand(ctx context.Context) (*RegisterCommand, error) {
	res, err := c.karmadactl(ctx, "token", "create", "--ttl", "0", "--print-register-command")
	if err != nil {
		return nil, fmt.Errorf("failed to create a bootstrap token: %w", err)
	}
	rc, err := ParseRegisterCommand(res.Stdout)
	if err != nil {
		return nil, controller.NewInconsistentStateError(err)
	}
	return rc, nil
}

// Register runs the pull mode registration against the member cluster. The karmada agent is
// deployed into the member described by memberKubeconfig.
func (c *Client) Register(ctx context.Context, rc *RegisterCommand, name, memberKubeconfig string) error {
	args := []string{
		"register", rc.Endpoint,
		"--token", rc.Token,
		"--discovery-token-ca-cert-hash", rc.CACertHash,
		"--cluster-name", name,
		"--kubeconfig", memberKubeconfig,
	}
	if _, err := c.runner.Run(ctx, cmdrunner.NewCommand(karmadactlBinary, args...)); err != nil {
		return fmt.Errorf("failed to register cluster %q: %w", name, err)
	}
	return nil
}

// InitOptions tunes the control plane installation.
type InitOptions struct {
	// HostKubeconfig is the kubeconfig of the cluster karmada is installed into.
	HostKubeconfig string
	// WaitComponentReadyTimeout is passed through in seconds when positive.
	WaitComponentReadyTimeout int
	// ExtraArgs are appended verbatim, e.g. image overrides.
	ExtraArgs []string
}

// Init installs the karmada control plane into the host cluster.
func (c *Client) Init(ctx context.Context, opts InitOptions) error {
	args := []string{"init", "--kubeconfig", opts.HostKubeconfig}
	if opts.WaitComponentReadyTimeout > 0 {
		args = append(args, fmt.Sprintf("--wait-component-ready-timeout=%d", opts.WaitComponentReadyTimeout))
	}
	args = append(args, opts.ExtraArgs...)
	if _, err := c.runner.Run(ctx, cmdrunner.NewCommand(karmadactlBinary, args...)); err != nil {
		return fmt.Errorf("failed to initialize the karmada control plane: %w", err)
	}
	return nil
}

// Deinit removes the karmada control plane from the host cluster.
func (c *Client) Deinit(ctx context.Context, hostKubeconfig string) error {
	if _, err := c.runner.Run(ctx, cmdrunner.NewCommand(karmadactlBinary, "deinit", "--kubeconfig", hostKubeconfig, "--force")); err != nil {
		return fmt.Errorf("failed to remove the karmada control plane: %w", err)
	}
	return nil
}

// ParseRegisterCommand extracts the endpoint, token and CA hash from a `karmadactl register ...` line.
func ParseRegisterCommand(out string) (*RegisterCommand, error) {
	var line string
	for _, l := range strings.Split(out, "\n") {
		if strings.Contains(l, "register ") {
			line = strings.TrimSpace(l)
			break
		}
	}
	if line == "" {
		return nil, fmt.Errorf("no register command found in %q", strings.TrimSpace(out))
	}
	fields := strings.Fields(line)
	idx := -1
	for i, f := range fields {
		if f == "register" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("malformed register command %q", line)
	}

	fs := pflag.NewFlagSet("register", pflag.ContinueOnError)
	rc := &RegisterCommand{}
	fs.StringVar(&rc.Token, "token", "", "")
	fs.StringVar(&rc.CACertHash, "discovery-token-ca-cert-hash", "", "")
	fs.Bool("discovery-token-unsafe-skip-ca-verification", false, "")
	fs.String("cluster-name", "", "")
	fs.String("kubeconfig", "", "")
	if err := fs.Parse(fields[idx+1:]); err != nil {
		return nil, fmt.Errorf("malformed register command %q: %w", line, err)
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("register command %q must name exactly one endpoint", line)
	}
	rc.Endpoint = fs.Arg(0)
	if rc.Token == "" || rc.CACertHash == "" {
		return nil, fmt.Errorf("register command %q lacks a token or CA cert hash", line)
	}
	return rc, nil
}

func isNotFound(err error) bool {
	var cmdErr *cmdrunner.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	return strings.Contains(strings.ToLower(cmdErr.Stderr), "not found")
}
