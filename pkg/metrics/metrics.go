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

// Package metrics contains the prometheus collectors emitted by fleetbed. They are registered
// on the controller-runtime registry, which the chaos command serves when asked to.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	JoinResultMetrics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "join_result_counter",
		Help: "Number of Join operations by result",
	}, []string{"result", "mode"})
	LeaveResultMetrics = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "leave_result_counter",
		Help: "Number of Leave operations by result",
	}, []string{"result"})

	// StageDurationSeconds tracks how long each stage of adding or destroying a member takes.
	StageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetbed_stage_duration_seconds",
			Help:    "The duration of a member lifecycle stage in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"operation", "stage", "is_failed"},
	)

	// ChaosActionsTotal counts the start and stop commands issued by the chaos injector.
	ChaosActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fleetbed_chaos_actions_total",
		Help: "Number of container state changes commanded by the chaos injector",
	}, []string{"member", "action"})

	// ChaosLastCycleTimestampSeconds is when the chaos injector last started a cycle.
	ChaosLastCycleTimestampSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fleetbed_chaos_last_cycle_timestamp_seconds",
		Help: "Unix time the chaos injector last started a cycle",
	})

	// VerificationCheck holds the outcome of the last run of every verification check: 1 passed, 0 failed, -1 skipped.
	VerificationCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fleetbed_verification_check",
		Help: "Outcome of the last verification check run",
	}, []string{"level", "member", "check"})
)

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}

// ReportJoinResultMetric counts a join attempt in the given mode ("push" or "pull").
func ReportJoinResultMetric(mode string, err error) {
	JoinResultMetrics.With(prometheus.Labels{"result": result(err), "mode": mode}).Inc()
}

// ReportLeaveResultMetric counts an unjoin attempt.
func ReportLeaveResultMetric(err error) {
	LeaveResultMetrics.With(prometheus.Labels{"result": result(err)}).Inc()
}

// ObserveStage records the duration of a stage.
func ObserveStage(operation, stage string, seconds float64, err error) {
	StageDurationSeconds.With(prometheus.Labels{
		"operation": operation,
		"stage":     stage,
		"is_failed": strconv.FormatBool(err != nil),
	}).Observe(seconds)
}

// ReportChaosAction counts a start or stop command issued against a member.
func ReportChaosAction(member, action string) {
	ChaosActionsTotal.With(prometheus.Labels{"member": member, "action": action}).Inc()
}

// SetChaosLastCycle records the start of a chaos cycle.
func SetChaosLastCycle(t time.Time) {
	ChaosLastCycleTimestampSeconds.Set(float64(t.Unix()))
}

// SetVerificationCheck records the outcome of a check.
func SetVerificationCheck(level int, member, check string, passed, skipped bool) {
	v := 0.0
	switch {
	case skipped:
		v = -1
	case passed:
		v = 1
	}
	VerificationCheck.With(prometheus.Labels{
		"level":  strconv.Itoa(level),
		"member": member,
		"check":  check,
	}).Set(v)
}

func init() {
	metrics.Registry.MustRegister(
		JoinResultMetrics,
		LeaveResultMetrics,
		StageDurationSeconds,
		ChaosActionsTotal,
		ChaosLastCycleTimestampSeconds,
		VerificationCheck,
	)
}
