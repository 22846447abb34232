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

package provisioner

import (
	"go.goms.io/fleetbed/pkg/clients/lxd"
)

const (
	// DefaultProfileName is the lxd profile granting containers what MicroK8s needs.
	DefaultProfileName = "microk8s"
	// DefaultImage is the image member containers are launched from.
	DefaultImage = "ubuntu:22.04"
)

// MicroK8sProfile returns the privileged, nesting-enabled profile MicroK8s requires inside lxd.
func MicroK8sProfile() *lxd.Profile {
	return &lxd.Profile{
		Description: "MicroK8s LXD profile",
		Config: map[string]string{
			"linux.kernel_modules": "ip_tables,ip6_tables,nf_nat,overlay,br_netfilter",
			"raw.lxc": "lxc.apparmor.profile = unconfined\n" +
				"lxc.mount.auto = proc:rw sys:rw\n" +
				"lxc.cgroup.devices.allow = a\n" +
				"lxc.cap.drop =\n",
			"security.nesting":    "true",
			"security.privileged": "true",
		},
		Devices: map[string]map[string]string{
			"kmsg": {
				"path":   "/dev/kmsg",
				"source": "/dev/kmsg",
				"type":   "unix-char",
			},
		},
	}
}
