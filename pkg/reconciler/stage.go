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
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"go.goms.io/fleetbed/pkg/metrics"
)

// Stage names one step of adding or destroying a member.
type Stage string

const (
	StagePrecheck    Stage = "precheck"
	StageProvision   Stage = "provision"
	StageBootstrap   Stage = "bootstrap"
	StageExpose      Stage = "expose"
	StageCredential  Stage = "credential"
	StageHealthCheck Stage = "health-check"
	StageJoin        Stage = "join"
	StageWaitReady   Stage = "wait-ready"

	StageUnjoin           Stage = "unjoin"
	StageUnexpose         Stage = "unexpose"
	StageDeleteContainer  Stage = "delete-container"
	StageRemoveCredential Stage = "remove-credential"
	StageControlPlane     Stage = "control-plane"
	StageProfile          Stage = "profile"
)

const (
	operationAdd      = "add"
	operationSetup    = "setup"
	operationDestroy  = "destroy"
	operationTeardown = "teardown"
)

// StageError reports the stage a member operation failed in.
type StageError struct {
	Member string
	Stage  Stage
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("member cluster %q: stage %s failed: %v", e.Member, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// runStage runs fn as the named stage of operation, logging its boundaries and timing it.
// A cancelled context fails the stage before it starts.
func runStage(ctx context.Context, operation, member string, stage Stage, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return &StageError{Member: member, Stage: stage, Err: err}
	}
	klog.InfoS("Stage started", "operation", operation, "member", member, "stage", stage)
	start := time.Now()
	err := fn(ctx)
	metrics.ObserveStage(operation, string(stage), time.Since(start).Seconds(), err)
	if err != nil {
		klog.ErrorS(err, "Stage failed", "operation", operation, "member", member, "stage", stage)
		return &StageError{Member: member, Stage: stage, Err: err}
	}
	klog.InfoS("Stage completed", "operation", operation, "member", member, "stage", stage, "latency", time.Since(start).Milliseconds())
	return nil
}
