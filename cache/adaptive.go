// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"sync"
	"time"
)

// Adaptive interval defaults
const (
	DefaultStartInterval = 30 * time.Second
	DefaultMinInterval   = 20 * time.Second
	DefaultMaxInterval   = 300 * time.Second

	// UnchangedThreshold is how many identical hashes in a row stretch the interval
	UnchangedThreshold = 3

	growFactor   = 1.5
	shrinkFactor = 0.8
)

// AdaptiveInterval slows down cache writes while the content is stable and
// speeds them up again when it changes.
type AdaptiveInterval struct {
	mu        sync.Mutex
	current   time.Duration
	floor     time.Duration
	ceiling   time.Duration
	last      uint64
	primed    bool
	unchanged int
}

// NewAdaptiveInterval starts at start and stays within [floor, ceiling].
// Zero values select the defaults.
func NewAdaptiveInterval(start, floor, ceiling time.Duration) *AdaptiveInterval {
	if start <= 0 {
		start = DefaultStartInterval
	}
	if floor <= 0 {
		floor = DefaultMinInterval
	}
	if ceiling <= 0 {
		ceiling = DefaultMaxInterval
	}
	return &AdaptiveInterval{current: start, floor: floor, ceiling: ceiling}
}

// Prime sets the reference hash without touching the interval, typically
// with the hash of the content loaded at start.
func (a *AdaptiveInterval) Prime(hash uint64) {
	a.mu.Lock()
	a.last, a.primed = hash, true
	a.mu.Unlock()
}

// Observe feeds the hash of the current content and reports whether it
// changed, in which case the caller persists.
func (a *AdaptiveInterval) Observe(hash uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.primed && hash == a.last {
		a.unchanged++
		if a.unchanged >= UnchangedThreshold {
			a.current = min(time.Duration(float64(a.current)*growFactor), a.ceiling)
			a.unchanged = 0
		}
		return false
	}

	a.last, a.primed = hash, true
	a.unchanged = 0
	a.current = max(time.Duration(float64(a.current)*shrinkFactor), a.floor)
	return true
}

// Interval returns the current period
func (a *AdaptiveInterval) Interval() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}
