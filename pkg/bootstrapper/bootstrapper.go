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

// Package bootstrapper installs the Kubernetes distribution inside a member container.
package bootstrapper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"go.goms.io/fleetbed/pkg/clients/lxd"
	"go.goms.io/fleetbed/pkg/utils/cmdrunner"
	"go.goms.io/fleetbed/pkg/utils/controller"
	"go.goms.io/fleetbed/pkg/utils/poll"
)

// DefaultReadyTimeout bounds the wait for MicroK8s to report ready.
const DefaultReadyTimeout = 10 * time.Minute

// DefaultAddons are enabled on every member.
var DefaultAddons = []string{"dns", "hostpath-storage"}

// Bootstrapper installs and readies MicroK8s.
type Bootstrapper struct {
	lxd     *lxd.Client
	addons  []string
	channel string

	readyTimeout time.Duration
}

// New returns a bootstrapper enabling addons. A nil addons slice enables DefaultAddons.
func New(lxdClient *lxd.Client, addons []string, channel string) *Bootstrapper {
	if addons == nil {
		addons = DefaultAddons
	}
	return &Bootstrapper{lxd: lxdClient, addons: addons, channel: channel, readyTimeout: DefaultReadyTimeout}
}

// WithReadyTimeout replaces the bound on the MicroK8s readiness wait.
func (b *Bootstrapper) WithReadyTimeout(timeout time.Duration) *Bootstrapper {
	b.readyTimeout = timeout
	return b
}

// Bootstrap installs MicroK8s when it is missing, waits for it to be ready and enables the addons.
// Running it again on a bootstrapped container only repeats the readiness wait and addon enabling,
// both of which MicroK8s treats as no-ops.
func (b *Bootstrapper) Bootstrap(ctx context.Context, container string) error {
	installed, err := b.installed(ctx, container)
	if err != nil {
		return err
	}
	if !installed {
		klog.InfoS("Installing MicroK8s", "container", container, "channel", b.channel)
		args := []string{"snap", "install", "microk8s", "--classic"}
		if b.channel != "" {
			args = append(args, "--channel", b.channel)
		}
		if _, err := b.lxd.Exec(ctx, container, args...); err != nil {
			return err
		}
	} else {
		klog.V(2).InfoS("MicroK8s already installed", "container", container)
	}

	err = poll.Within(ctx, b.readyTimeout, fmt.Sprintf("MicroK8s in %q to be ready", container), func(ctx context.Context) error {
		_, err := b.lxd.Exec(ctx, container, "microk8s", "status", "--wait-ready")
		return err
	})
	if err != nil {
		if errors.Is(err, controller.ErrTimeout) || ctx.Err() != nil {
			return err
		}
		return controller.NewTransientUnreadyError(err)
	}
	for _, addon := range b.addons {
		klog.V(2).InfoS("Enabling addon", "container", container, "addon", addon)
		if _, err := b.lxd.Exec(ctx, container, "microk8s", "enable", addon); err != nil {
			return err
		}
	}
	klog.InfoS("MicroK8s is ready", "container", container, "addons", b.addons)
	return nil
}

func (b *Bootstrapper) installed(ctx context.Context, container string) (bool, error) {
	_, err := b.lxd.Exec(ctx, container, "bash", "-c", "command -v microk8s")
	if err == nil {
		return true, nil
	}
	// command -v exits 1 when the program is absent; anything else is a real failure.
	var cmdErr *cmdrunner.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to check for MicroK8s in %q: %w", container, err)
}
