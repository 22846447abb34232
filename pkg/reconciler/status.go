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
	"context"
	"io"
	"sort"
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/cli-runtime/pkg/printers"
	"k8s.io/klog/v2"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/exposure"
	"go.goms.io/fleetbed/pkg/utils/condition"
	"go.goms.io/fleetbed/pkg/utils/parallelizer"
)

// MemberStatus is one row of the fleet status.
type MemberStatus struct {
	Name                 string
	ContainerState       clusterv1beta1.ContainerState
	APIHostPort          int
	FederationState      clusterv1beta1.FederationState
	AccessDescriptorPath string
	// Apps lists the exposed application devices by name with their host port.
	Apps map[string]int
	// Condition is the last False condition as Type/Reason, or else an Unknown one, or else the
	// last one recorded.
	Condition string
}

// NewMemberStatus renders the recorded state of member as a status row.
func NewMemberStatus(member *clusterv1beta1.MemberCluster) MemberStatus {
	return MemberStatus{
		Name:                 member.Name,
		ContainerState:       member.ContainerState,
		APIHostPort:          member.APIHostPort,
		FederationState:      member.FederationState,
		AccessDescriptorPath: member.AccessDescriptorPath,
		Condition:            conditionSummary(member.Conditions),
	}
}

func conditionSummary(conditions []metav1.Condition) string {
	if len(conditions) == 0 {
		return ""
	}
	picked := &conditions[len(conditions)-1]
	for i := len(conditions) - 1; i >= 0; i-- {
		c := &conditions[i]
		switch {
		case condition.IsConditionStatusFalse(c):
			return c.Type + "/" + c.Reason
		case !condition.IsConditionStatusTrue(c):
			picked = c
		}
	}
	return picked.Type + "/" + picked.Reason
}

// Status observes every member of the fleet and returns one row per member, in fleet order.
// Members are observed concurrently. Members that could not be fully observed are still
// reported; the observation errors are aggregated.
func (r *Reconciler) Status(ctx context.Context) ([]MemberStatus, error) {
	var rows []MemberStatus
	err := r.mutate(func() error {
		var errs []error
		if err := r.Exposure.Sync(ctx, r.fleet); err != nil {
			errs = append(errs, err)
		}
		members := r.fleet.Members()
		observed := make([]*MemberStatus, len(members))
		memberErrs := make([][]error, len(members))
		parallelizer.NewParallelizer(parallelizer.DefaultNumOfWorkers).ParallelizeUntil(ctx, len(members), func(i int) {
			observed[i], memberErrs[i] = r.observe(ctx, members[i])
		}, "observe-members")
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
		}
		for i := range members {
			errs = append(errs, memberErrs[i]...)
			if observed[i] != nil {
				rows = append(rows, *observed[i])
			}
		}
		klog.InfoS("Observed fleet", "members", len(members), "ready", r.fleet.CountInFederationState(clusterv1beta1.FederationStateReady), "errors", len(errs))
		return utilerrors.NewAggregate(errs)
	})
	return rows, err
}

// observe refreshes one member and renders its row.
func (r *Reconciler) observe(ctx context.Context, member *clusterv1beta1.MemberCluster) (*MemberStatus, []error) {
	var errs []error
	state, err := r.Provisioner.State(ctx, member.Name)
	if err != nil {
		errs = append(errs, err)
	} else {
		member.ObserveContainer(state)
	}
	if err := r.Membership.Observe(ctx, member); err != nil {
		errs = append(errs, err)
	}
	hasDescriptor := r.Credentials.Exists(member.Name)
	if hasDescriptor {
		member.AccessDescriptorPath = r.Credentials.Path(member.Name)
	}
	status := NewMemberStatus(member)
	row := &status
	row.Apps = map[string]int{}
	if !hasDescriptor {
		row.AccessDescriptorPath = ""
	}
	for purpose, mapping := range member.ProxyDevices {
		if purpose.IsApp() {
			row.Apps[exposure.DeviceName(purpose)] = mapping.HostPort
		}
	}
	return row, errs
}

// StatusTable renders status rows as a table object.
func StatusTable(rows []MemberStatus) *metav1.Table {
	table := &metav1.Table{
		ColumnDefinitions: []metav1.TableColumnDefinition{
			{Name: "Name", Type: "string"},
			{Name: "Container", Type: "string"},
			{Name: "API Port", Type: "string"},
			{Name: "Federation", Type: "string"},
			{Name: "Kubeconfig", Type: "string"},
			{Name: "Apps", Type: "string"},
			{Name: "Condition", Type: "string"},
		},
	}
	for _, row := range rows {
		port, descriptor, cond := "-", "-", "-"
		if row.APIHostPort != 0 {
			port = strconv.Itoa(row.APIHostPort)
		}
		if row.AccessDescriptorPath != "" {
			descriptor = row.AccessDescriptorPath
		}
		if row.Condition != "" {
			cond = row.Condition
		}
		table.Rows = append(table.Rows, metav1.TableRow{
			Cells: []interface{}{row.Name, string(row.ContainerState), port, string(row.FederationState), descriptor, formatApps(row.Apps), cond},
		})
	}
	return table
}

func formatApps(apps map[string]int) string {
	if len(apps) == 0 {
		return "-"
	}
	names := make([]string, 0, len(apps))
	for name := range apps {
		names = append(names, name)
	}
	sort.Strings(names)
	out := ""
	for i, name := range names {
		if i > 0 {
			out += ","
		}
		out += name + ":" + strconv.Itoa(apps[name])
	}
	return out
}

// PrintStatus writes the status table to w.
func PrintStatus(w io.Writer, rows []MemberStatus) error {
	return printers.NewTablePrinter(printers.PrintOptions{}).PrintObj(StatusTable(rows), w)
}
