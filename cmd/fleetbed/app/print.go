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

package app

import (
	"io"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/cli-runtime/pkg/printers"

	"go.goms.io/fleetbed/cmd/fleetbed/app/options"
	"go.goms.io/fleetbed/pkg/reconciler"
)

// printTable writes table to w in the requested output format.
func printTable(w io.Writer, output string, table *metav1.Table) error {
	table.SetGroupVersionKind(metav1.SchemeGroupVersion.WithKind("Table"))
	var printer printers.ResourcePrinter
	switch output {
	case options.OutputJSON:
		printer = &printers.JSONPrinter{}
	case options.OutputYAML:
		printer = &printers.YAMLPrinter{}
	default:
		printer = printers.NewTablePrinter(printers.PrintOptions{})
	}
	return printer.PrintObj(table, w)
}

// destroyTable renders destroy reports, one row per step.
func destroyTable(reports ...*reconciler.DestroyReport) *metav1.Table {
	table := &metav1.Table{
		ColumnDefinitions: []metav1.TableColumnDefinition{
			{Name: "Member", Type: "string"},
			{Name: "Step", Type: "string"},
			{Name: "Outcome", Type: "string"},
			{Name: "Error", Type: "string"},
		},
	}
	for _, report := range reports {
		for _, step := range report.Steps {
			msg := ""
			if step.Err != nil {
				msg = step.Err.Error()
			}
			table.Rows = append(table.Rows, metav1.TableRow{
				Cells: []interface{}{report.Member, string(step.Stage), string(step.Outcome), msg},
			})
		}
	}
	return table
}
