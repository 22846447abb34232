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

package main

import (
	"time"

	"go.uber.org/zap/zapcore"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"go.goms.io/fleetbed/cmd/fleetbed/app"
)

func main() {
	defer klog.Flush()
	// The controller-runtime client used for pull-mode checks logs through its own logger.
	ctrl.SetLogger(zap.New(zap.UseDevMode(true), zap.StacktraceLevel(zapcore.DPanicLevel)))

	ctx := ctrl.SetupSignalHandler()
	code := 0
	if err := app.NewFleetbedCommand(ctx).Execute(); err != nil {
		klog.ErrorS(err, "fleetbed failed")
		code = 1
	}
	klog.FlushAndExit(time.Second*15, code)
}
