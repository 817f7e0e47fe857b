// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package table

import (
	"testing"

	"tmrcheck/internal/verify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetValuesForTable(t *testing.T) {
	def := TableDefinition{
		Name:    "Phases",
		HasRows: true,
		FieldsFunc: func(report *verify.Report) []Field {
			fields := []Field{{Name: "Phase"}, {Name: "Passed"}}
			for _, result := range report.Results {
				fields[0].Values = append(fields[0].Values, string(result.Phase))
				fields[1].Values = append(fields[1].Values, "yes")
			}
			return fields
		},
	}
	report := &verify.Report{Results: []verify.Result{{Phase: verify.PhaseOneShot}, {Phase: verify.PhaseStartStop}}}
	values := ProcessTables([]TableDefinition{def}, report)
	require.Len(t, values, 1)
	assert.Equal(t, []string{"one-shot", "start-stop"}, values[0].Fields[0].Values)

	idx, err := GetFieldIndex("Passed", values[0])
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	_, err = GetFieldIndex("Missing", values[0])
	assert.Error(t, err)
}

func TestInvalidTableValuesAreDropped(t *testing.T) {
	def := TableDefinition{
		Name: "Broken",
		FieldsFunc: func(*verify.Report) []Field {
			return []Field{{Name: "A", Values: []string{"1", "2"}}, {Name: "B", Values: []string{"1"}}}
		},
	}
	values := GetValuesForTable(def, &verify.Report{})
	assert.Empty(t, values.Fields)
	assert.Equal(t, "Broken", values.Name)
}

func TestEmptyFieldName(t *testing.T) {
	err := validateTableValues(TableValues{
		TableDefinition: TableDefinition{Name: "x"},
		Fields:          []Field{{Name: ""}},
	})
	assert.Error(t, err)
}

func TestNilFieldsFuncPanics(t *testing.T) {
	assert.Panics(t, func() { GetValuesForTable(TableDefinition{Name: "x"}, &verify.Report{}) })
}
