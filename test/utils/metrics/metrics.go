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

// Package metrics provides utilities for testing emitted Prometheus metrics.
package metrics

import (
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	prometheusclientmodel "github.com/prometheus/client_model/go"
	"k8s.io/utils/ptr"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// MetricsCmpOptions are options for comparing Prometheus metrics.
	MetricsCmpOptions = []cmp.Option{
		cmpopts.SortSlices(func(a, b *prometheusclientmodel.Metric) bool {
			return labelString(a) < labelString(b) // sort by label values
		}),
		cmpopts.SortSlices(func(a, b *prometheusclientmodel.LabelPair) bool {
			return a.GetName() < b.GetName() // sort by label name
		}),
		cmpopts.IgnoreUnexported(prometheusclientmodel.Metric{}, prometheusclientmodel.LabelPair{}, prometheusclientmodel.Gauge{}),
		cmpopts.IgnoreFields(prometheusclientmodel.Metric{}, "TimestampMs"),
	}
)

func labelString(m *prometheusclientmodel.Metric) string {
	s := ""
	for _, l := range m.GetLabel() {
		s += l.GetName() + "=" + l.GetValue() + ","
	}
	return s
}

// Gather returns the series of the named metric family from the controller-runtime registry.
func Gather(name string) ([]*prometheusclientmodel.Metric, error) {
	metricFamilies, err := ctrlmetrics.Registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, mf := range metricFamilies {
		if mf.GetName() == name {
			return mf.GetMetric(), nil
		}
	}
	return nil, nil
}

// Gauge builds the expected gauge series with the given label pairs, given as name, value, name, value...
func Gauge(value float64, labels ...string) *prometheusclientmodel.Metric {
	m := &prometheusclientmodel.Metric{Gauge: &prometheusclientmodel.Gauge{Value: ptr.To(value)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &prometheusclientmodel.LabelPair{Name: ptr.To(labels[i]), Value: ptr.To(labels[i+1])})
	}
	return m
}
