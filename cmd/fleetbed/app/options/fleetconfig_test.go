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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"go.goms.io/fleetbed/pkg/portallocator"
)

func writeFleetFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFleetConfig(t *testing.T) {
	path := writeFleetFile(t, `
members: [edge1, edge2]
apiPortRange: {min: 20000, max: 20010}
addons: [dns]
apps:
- name: web
  containerPort: 30080
  service: default/web
`)
	got, err := LoadFleetConfig(path)
	if err != nil {
		t.Fatalf("LoadFleetConfig() = %v", err)
	}
	want := &FleetConfig{
		Members:       []string{"edge1", "edge2"},
		APIPortRange:  portallocator.Range{Min: 20000, Max: 20010},
		AppPortRange:  portallocator.Range{Min: 32301, Max: 32399},
		ReservedPorts: []int{16443},
		Addons:        []string{"dns"},
		Apps:          []AppConfig{{Name: "web", ContainerPort: 30080, Service: "default/web", Path: "/"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadFleetConfig() mismatch (-want, +got):\n%s", diff)
	}
	if _, err := got.NewPortTable(); err != nil {
		t.Errorf("NewPortTable() = %v", err)
	}
}

func TestLoadFleetConfigDefault(t *testing.T) {
	got, err := LoadFleetConfig("")
	if err != nil {
		t.Fatalf("LoadFleetConfig() = %v", err)
	}
	if diff := cmp.Diff(DefaultMembers, got.Members); diff != "" {
		t.Errorf("members mismatch (-want, +got):\n%s", diff)
	}
}

func TestLoadFleetConfigRejects(t *testing.T) {
	testCases := map[string]struct {
		content string
		wantErr string
	}{
		"unknown field": {
			content: "members: [member1]\nmembrs: [member2]\n",
			wantErr: "membrs",
		},
		"duplicate member": {
			content: "members: [member1, member1]\n",
			wantErr: "Duplicate value",
		},
		"invalid member name": {
			content: "members: [Member_1]\n",
			wantErr: "members[0]",
		},
		"reserved app name": {
			content: "apps:\n- name: k8s\n  containerPort: 80\n",
			wantErr: "reserved",
		},
		"app without port": {
			content: "apps:\n- name: web\n",
			wantErr: "containerPort",
		},
		"malformed service": {
			content: "apps:\n- name: web\n  containerPort: 80\n  service: web\n",
			wantErr: "namespace/name",
		},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFleetConfig(writeFleetFile(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("LoadFleetConfig() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}
