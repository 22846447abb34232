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

package verifier

import (
	"fmt"
	"io"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/cli-runtime/pkg/printers"

	"go.goms.io/fleetbed/pkg/metrics"
)

// Level is one layer of the fleet verified independently of the others.
type Level int

const (
	// LevelHost covers the container backend and the host Kubernetes distribution.
	LevelHost Level = iota + 1
	// LevelControlPlane covers the federation control plane pods and API.
	LevelControlPlane
	// LevelFederation covers the Ready condition of every expected member.
	LevelFederation
	// LevelExposure covers the proxy devices and applications of every Ready member.
	LevelExposure
)

func (l Level) String() string {
	switch l {
	case LevelHost:
		return "host"
	case LevelControlPlane:
		return "control-plane"
	case LevelFederation:
		return "federation"
	case LevelExposure:
		return "exposure"
	}
	return fmt.Sprintf("level-%d", int(l))
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Level       Level
	Member      string
	Description string
	Passed      bool
	Skipped     bool
	// Reason explains a failure or a skip.
	Reason string
}

// Report accumulates check results. A report passes when no check failed.
type Report struct {
	Passed  bool
	Results []CheckResult
}

func newReport() *Report {
	return &Report{Passed: true}
}

func (r *Report) record(results ...CheckResult) {
	for _, res := range results {
		if !res.Passed && !res.Skipped {
			r.Passed = false
		}
		r.Results = append(r.Results, res)
	}
}

// Failed returns the checks that ran and failed.
func (r *Report) Failed() []CheckResult {
	var out []CheckResult
	for _, res := range r.Results {
		if !res.Passed && !res.Skipped {
			out = append(out, res)
		}
	}
	return out
}

// ForLevel returns the results of one level.
func (r *Report) ForLevel(level Level) []CheckResult {
	var out []CheckResult
	for _, res := range r.Results {
		if res.Level == level {
			out = append(out, res)
		}
	}
	return out
}

func outcome(res CheckResult) string {
	switch {
	case res.Skipped:
		return "SKIPPED"
	case res.Passed:
		return "PASSED"
	default:
		return "FAILED"
	}
}

// Table renders the report as a table object.
func (r *Report) Table() *metav1.Table {
	table := &metav1.Table{
		ColumnDefinitions: []metav1.TableColumnDefinition{
			{Name: "Level", Type: "string"},
			{Name: "Member", Type: "string"},
			{Name: "Check", Type: "string"},
			{Name: "Result", Type: "string"},
			{Name: "Reason", Type: "string"},
		},
	}
	for _, res := range r.Results {
		member := res.Member
		if member == "" {
			member = "-"
		}
		table.Rows = append(table.Rows, metav1.TableRow{
			Cells: []interface{}{fmt.Sprintf("%d/%s", int(res.Level), res.Level), member, res.Description, outcome(res), res.Reason},
		})
	}
	return table
}

// Print writes the report table to w.
func (r *Report) Print(w io.Writer) error {
	return printers.NewTablePrinter(printers.PrintOptions{}).PrintObj(r.Table(), w)
}

func (r *Report) export() {
	for _, res := range r.Results {
		metrics.SetVerificationCheck(int(res.Level), res.Member, res.Description, res.Passed, res.Skipped)
	}
}
