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

// Package credentials turns the access descriptor generated inside a member container into one
// usable from the host.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"

	"go.goms.io/fleetbed/pkg/clients/lxd"
	"go.goms.io/fleetbed/pkg/utils/controller"
)

const (
	// DefaultEndpointHost is the host the rewritten server line points at.
	DefaultEndpointHost = "127.0.0.1"

	descriptorSuffix = ".config"
	descriptorMode   = 0o600
	dirMode          = 0o700
)

// RewriteServer replaces the server line targeting containerPort on the loopback address with
// one targeting endpointHost:hostPort. Nothing else in the document changes. A document without
// the expected server line is an inconsistency.
func RewriteServer(doc string, containerPort int, endpointHost string, hostPort int) (string, error) {
	from := fmt.Sprintf("server: https://127.0.0.1:%d", containerPort)
	to := fmt.Sprintf("server: https://%s:%d", endpointHost, hostPort)
	if !strings.Contains(doc, from) {
		return "", controller.NewInconsistentStateError(fmt.Errorf("access descriptor has no %q line", from))
	}
	return strings.ReplaceAll(doc, from, to), nil
}

// Owner resolves who should own written descriptors.
type Owner func() (uid, gid int, ok bool, err error)

// InvokingUser returns the non-privileged user behind sudo, falling back to the current user.
// ok is false when no ownership change is needed.
func InvokingUser() (int, int, bool, error) {
	if os.Geteuid() != 0 {
		return 0, 0, false, nil
	}
	name := os.Getenv("SUDO_USER")
	if name == "" || name == "root" {
		return 0, 0, false, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, 0, false, fmt.Errorf("failed to look up user %q: %w", name, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, false, fmt.Errorf("user %q has a non-numeric uid %q", name, u.Uid)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, false, fmt.Errorf("user %q has a non-numeric gid %q", name, u.Gid)
	}
	return uid, gid, true, nil
}

// Rewriter fetches, rewrites and stores member access descriptors.
type Rewriter struct {
	lxd          *lxd.Client
	configDir    string
	endpointHost string
	owner        Owner
}

// NewRewriter returns a rewriter storing descriptors under configDir.
func NewRewriter(lxdClient *lxd.Client, configDir, endpointHost string) *Rewriter {
	if endpointHost == "" {
		endpointHost = DefaultEndpointHost
	}
	return &Rewriter{lxd: lxdClient, configDir: configDir, endpointHost: endpointHost, owner: InvokingUser}
}

// WithOwner overrides how the file owner is resolved.
func (r *Rewriter) WithOwner(owner Owner) *Rewriter {
	r.owner = owner
	return r
}

// Path returns where the member's descriptor lives.
func (r *Rewriter) Path(member string) string {
	return filepath.Join(r.configDir, member+descriptorSuffix)
}

// Server returns the server URL written into descriptors for hostPort.
func (r *Rewriter) Server(hostPort int) string {
	return fmt.Sprintf("https://%s:%d", r.endpointHost, hostPort)
}

// Rewrite reads the descriptor from inside the container, points it at the host port and stores it.
// It returns the path of the stored descriptor.
func (r *Rewriter) Rewrite(ctx context.Context, member string, containerPort, hostPort int) (string, error) {
	res, err := r.lxd.Exec(ctx, member, "microk8s", "config")
	if err != nil {
		return "", fmt.Errorf("failed to read the access descriptor of %q: %w", member, err)
	}
	rewritten, err := RewriteServer(res.Stdout, containerPort, r.endpointHost, hostPort)
	if err != nil {
		return "", fmt.Errorf("member %q: %w", member, err)
	}
	if err := r.validate(rewritten, hostPort); err != nil {
		return "", fmt.Errorf("member %q: %w", member, err)
	}

	if err := os.MkdirAll(r.configDir, dirMode); err != nil {
		return "", fmt.Errorf("failed to create %q: %w", r.configDir, err)
	}
	path := r.Path(member)
	if err := writeFileAtomic(path, []byte(rewritten)); err != nil {
		return "", err
	}
	if err := r.chown(path); err != nil {
		return "", err
	}
	klog.InfoS("Wrote access descriptor", "member", member, "path", path, "server", r.Server(hostPort))
	return path, nil
}

func (r *Rewriter) validate(doc string, hostPort int) error {
	cfg, err := clientcmd.Load([]byte(doc))
	if err != nil {
		return controller.NewInconsistentStateError(fmt.Errorf("rewritten access descriptor does not parse: %w", err))
	}
	if len(cfg.Clusters) == 0 {
		return controller.NewInconsistentStateError(errors.New("rewritten access descriptor has no clusters"))
	}
	want := r.Server(hostPort)
	for name, c := range cfg.Clusters {
		if c.Server != want {
			return controller.NewInconsistentStateError(
				fmt.Errorf("cluster %q of the rewritten access descriptor targets %q, want %q", name, c.Server, want))
		}
	}
	return nil
}

func (r *Rewriter) chown(path string) error {
	if r.owner == nil {
		return nil
	}
	uid, gid, ok, err := r.owner()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := os.Chown(path, uid, gid); err != nil {
		return fmt.Errorf("failed to hand %q to uid %d: %w", path, uid, err)
	}
	return nil
}

// Remove deletes the member's descriptor and reports whether it existed.
func (r *Rewriter) Remove(member string) (bool, error) {
	path := r.Path(member)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to remove %q: %w", path, err)
	}
	return true, nil
}

// Exists reports whether the member's descriptor is on disk.
func (r *Rewriter) Exists(member string) bool {
	_, err := os.Stat(r.Path(member))
	return err == nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to stage %q: %w", path, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	if err := tmp.Chmod(descriptorMode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to restrict %q: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %q: %w", path, err)
	}
	return nil
}
