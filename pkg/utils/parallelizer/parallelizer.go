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

// Package parallelizer runs independent pieces of work on a bounded number of workers.
package parallelizer

import (
	"context"

	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"
)

const (
	// The default number of workers.
	DefaultNumOfWorkers = 4
)

// Parallelizer helps run tasks in parallel.
type Parallelizer interface {
	// ParallelizeUntil runs the pieces in parallel and returns once all of them are done or ctx is
	// cancelled. Pieces not started before the cancellation are never run.
	ParallelizeUntil(ctx context.Context, pieces int, doWork workqueue.DoWorkPieceFunc, operation string)
}

type parallelizer struct {
	numOfWorkers int
}

// NewParallelizer returns a parallelizer with the given number of workers; a non-positive count
// selects DefaultNumOfWorkers.
func NewParallelizer(workers int) Parallelizer {
	if workers <= 0 {
		workers = DefaultNumOfWorkers
	}
	return &parallelizer{numOfWorkers: workers}
}

func (p *parallelizer) ParallelizeUntil(ctx context.Context, pieces int, doWork workqueue.DoWorkPieceFunc, operation string) {
	doWorkWithLogs := func(piece int) {
		klog.V(4).InfoS("Running piece", "operation", operation, "piece", piece)
		doWork(piece)
		klog.V(4).InfoS("Completed piece", "operation", operation, "piece", piece)
	}

	// workqueue.ParallelizeUntil reports nothing about cancellation; callers inspect ctx afterwards.
	workqueue.ParallelizeUntil(ctx, p.numOfWorkers, pieces, doWorkWithLogs)
}
