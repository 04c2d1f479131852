// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

import "time"

// Metrics exposes the current health state of a provider for monitoring
// and operator visibility. All fields are point-in-time snapshots safe
// to serialize to JSON.
type Metrics struct {
	FailureCount  int64      `json:"failure_count"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Available     bool       `json:"available"`
}

// Component is one line of a status report: the vector store, the
// embedder or a generation provider.
type Component struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"`
	Healthy bool     `json:"healthy"`
	Detail  string   `json:"detail,omitempty"`
	Metrics *Metrics `json:"metrics,omitempty"`
}

// Overall returns "ok" when every component is healthy and "degraded"
// otherwise. An empty report is "ok".
func Overall(components []Component) string {
	for _, c := range components {
		if !c.Healthy {
			return "degraded"
		}
	}
	return "ok"
}
