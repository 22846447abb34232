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

// Package portallocator hands out host ports to (member, purpose) pairs.
package portallocator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	clusterv1beta1 "go.goms.io/fleetbed/apis/cluster/v1beta1"
	"go.goms.io/fleetbed/pkg/utils/controller"
)

const (
	// DefaultAPIRangeMin and DefaultAPIRangeMax bound the host ports of member API endpoints.
	DefaultAPIRangeMin = 16441
	DefaultAPIRangeMax = 16499
	// DefaultAppRangeMin and DefaultAppRangeMax bound the host ports of application endpoints.
	DefaultAppRangeMin = 32301
	DefaultAppRangeMax = 32399
	// HostAPIPort is used by the host's own distribution API and is never handed out.
	HostAPIPort = 16443
)

// ErrExhausted is returned when every port of a range is in use.
var ErrExhausted = errors.New("port range exhausted")

// Range is an inclusive port range.
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Validate checks the range is non-empty and within the TCP port space.
func (r Range) Validate() error {
	if r.Min < 1 || r.Max > 65535 || r.Min > r.Max {
		return fmt.Errorf("invalid port range %d-%d", r.Min, r.Max)
	}
	return nil
}

// Contains reports whether port is within the range.
func (r Range) Contains(port int) bool {
	return port >= r.Min && port <= r.Max
}

func (r Range) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Key identifies one allocation.
type Key struct {
	Member  string
	Purpose clusterv1beta1.Purpose
}

func (k Key) String() string {
	return k.Member + "/" + string(k.Purpose)
}

// Allocation is one entry of the table.
type Allocation struct {
	Key
	HostPort int
}

// Table tracks which host port belongs to which (member, purpose) pair.
// A port is never held by two pairs at once. It is safe for concurrent use.
type Table struct {
	mu       sync.Mutex
	apiRange Range
	appRange Range
	reserved sets.Set[int]
	byKey    map[Key]int
	byPort   map[int]Key
}

// NewTable returns an empty table. Reserved ports are skipped by Allocate.
func NewTable(apiRange, appRange Range, reserved ...int) (*Table, error) {
	if err := apiRange.Validate(); err != nil {
		return nil, fmt.Errorf("api range: %w", err)
	}
	if err := appRange.Validate(); err != nil {
		return nil, fmt.Errorf("application range: %w", err)
	}
	if apiRange.Contains(appRange.Min) || apiRange.Contains(appRange.Max) || appRange.Contains(apiRange.Min) {
		return nil, fmt.Errorf("api range %s overlaps application range %s", apiRange, appRange)
	}
	return &Table{
		apiRange: apiRange,
		appRange: appRange,
		reserved: sets.New(reserved...),
		byKey:    map[Key]int{},
		byPort:   map[int]Key{},
	}, nil
}

// NewDefaultTable returns a table with the default ranges and the host API port reserved.
func NewDefaultTable() *Table {
	t, _ := NewTable(
		Range{Min: DefaultAPIRangeMin, Max: DefaultAPIRangeMax},
		Range{Min: DefaultAppRangeMin, Max: DefaultAppRangeMax},
		HostAPIPort)
	return t
}

func (t *Table) rangeFor(purpose clusterv1beta1.Purpose) Range {
	if purpose == clusterv1beta1.PurposeAPI {
		return t.apiRange
	}
	return t.appRange
}

// Allocate returns the port held by key, or assigns the lowest free port of the purpose's range.
func (t *Table) Allocate(key Key) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if port, ok := t.byKey[key]; ok {
		return port, nil
	}
	r := t.rangeFor(key.Purpose)
	for port := r.Min; port <= r.Max; port++ {
		if t.reserved.Has(port) {
			continue
		}
		if _, taken := t.byPort[port]; taken {
			continue
		}
		t.byKey[key] = port
		t.byPort[port] = key
		klog.V(2).InfoS("Allocated host port", "member", key.Member, "purpose", key.Purpose, "hostPort", port)
		return port, nil
	}
	return 0, fmt.Errorf("no free host port for %s in %s: %w", key, r, ErrExhausted)
}

// Populate records a port observed to be in use by key, e.g. an existing proxy device.
// Recording a port already held by another pair is an inconsistency.
func (t *Table) Populate(key Key, port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if holder, ok := t.byPort[port]; ok && holder != key {
		return controller.NewInconsistentStateError(
			fmt.Errorf("host port %d is used by both %s and %s", port, holder, key))
	}
	if old, ok := t.byKey[key]; ok && old != port {
		delete(t.byPort, old)
	}
	t.byKey[key] = port
	t.byPort[port] = key
	return nil
}

// Release frees the port held by key. It reports the port and whether one was held.
func (t *Table) Release(key Key) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	port, ok := t.byKey[key]
	if !ok {
		return 0, false
	}
	delete(t.byKey, key)
	delete(t.byPort, port)
	klog.V(2).InfoS("Released host port", "member", key.Member, "purpose", key.Purpose, "hostPort", port)
	return port, true
}

// ReleaseMember frees every port of the member and returns the released allocations.
func (t *Table) ReleaseMember(member string) []Allocation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var released []Allocation
	for key, port := range t.byKey {
		if key.Member != member {
			continue
		}
		delete(t.byKey, key)
		delete(t.byPort, port)
		released = append(released, Allocation{Key: key, HostPort: port})
	}
	sortAllocations(released)
	return released
}

// Lookup returns the port held by key.
func (t *Table) Lookup(key Key) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	port, ok := t.byKey[key]
	return port, ok
}

// Snapshot returns every allocation ordered by port.
func (t *Table) Snapshot() []Allocation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Allocation, 0, len(t.byKey))
	for key, port := range t.byKey {
		out = append(out, Allocation{Key: key, HostPort: port})
	}
	sortAllocations(out)
	return out
}

func sortAllocations(a []Allocation) {
	sort.Slice(a, func(i, j int) bool { return a[i].HostPort < a[j].HostPort })
}
