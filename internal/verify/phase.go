package verify

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Phase names a reported part of the verification run.
type Phase string

const (
	PhaseOneShot       Phase = "one-shot"
	PhaseStartStop     Phase = "start-stop"
	PhaseStopIntegrity Phase = "stop-integrity"
	PhasePeriodic      Phase = "periodic"
)

// Selectable phase names. Stop-integrity always runs with start-stop.
const (
	SelectOneShot   = "oneshot"
	SelectStartStop = "startstop"
	SelectPeriodic  = "periodic"
)

var selectable = []string{SelectOneShot, SelectStartStop, SelectPeriodic}

// SelectableNames returns the names accepted by ParsePhases in run order.
func SelectableNames() []string {
	return append([]string(nil), selectable...)
}

// AllPhases selects every phase.
func AllPhases() mapset.Set[string] {
	return mapset.NewSet(selectable...)
}

// ParsePhases converts a list of phase names into a selection. An empty list
// selects every phase.
func ParsePhases(names []string) (mapset.Set[string], error) {
	if len(names) == 0 {
		return AllPhases(), nil
	}
	valid := AllPhases()
	selected := mapset.NewSet[string]()
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if !valid.Contains(name) {
			return nil, fmt.Errorf("unknown phase %q, choose from: %s", name, strings.Join(selectable, ", "))
		}
		selected.Add(name)
	}
	return selected, nil
}
