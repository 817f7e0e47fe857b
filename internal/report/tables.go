package report

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"tmrcheck/internal/table"
	"tmrcheck/internal/verify"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	SummaryTableName  = "Summary"
	DeviceTableName   = "Timer"
	PhasesTableName   = "Phases"
	FailuresTableName = "Driver Failures"
)

// VerificationTables are the tables of a verification report in the order
// they are rendered.
var VerificationTables = []table.TableDefinition{
	{
		Name:       SummaryTableName,
		FieldsFunc: summaryTableValues,
	},
	{
		Name:        DeviceTableName,
		FieldsFunc:  deviceTableValues,
		NoDataFound: "Timer capabilities were not read.",
	},
	{
		Name:        PhasesTableName,
		HasRows:     true,
		FieldsFunc:  phasesTableValues,
		NoDataFound: "No phase completed.",
	},
	{
		Name:        FailuresTableName,
		HasRows:     true,
		FieldsFunc:  failuresTableValues,
		NoDataFound: "None.",
	},
}

// Tables returns the values of all verification tables for a run.
func Tables(report *verify.Report) []table.TableValues {
	return table.ProcessTables(VerificationTables, report)
}

func verdict(report *verify.Report) string {
	switch {
	case report.Interrupted:
		return "INTERRUPTED"
	case report.Aborted:
		return "ABORTED"
	case report.Passed():
		return "PASS"
	}
	return "FAIL"
}

func summaryTableValues(report *verify.Report) []table.Field {
	passed := 0
	for _, result := range report.Results {
		if result.Passed {
			passed++
		}
	}
	return []table.Field{
		{Name: "Device", Values: []string{report.Device}},
		{Name: "Channel", Values: []string{strconv.Itoa(report.Channel)}},
		{Name: "Started", Values: []string{report.Started.Format(time.RFC3339)}},
		{Name: "Verdict", Values: []string{verdict(report)}},
		{Name: "Results Passed", Values: []string{fmt.Sprintf("%d of %d", passed, len(report.Results))}},
		{Name: "Driver Failures", Values: []string{strconv.Itoa(len(report.Failures))}},
	}
}

func deviceTableValues(report *verify.Report) []table.Field {
	caps := report.Capabilities
	if caps.BitWidth == 0 {
		return []table.Field{}
	}
	p := message.NewPrinter(language.English) // thousands separators, e.g., 1,000,000 decrements per second
	return []table.Field{
		{Name: "Bit Width", Values: []string{strconv.Itoa(caps.BitWidth)}},
		{Name: "Resolution", Values: []string{p.Sprintf("%d decrements per second", caps.ResolutionHz)}},
		{Name: "Max Value", Values: []string{fmt.Sprintf("0x%08x", caps.MaxValue())}},
		{Name: "Max Duration", Values: []string{p.Sprintf("%.3f s", float64(caps.MaxValue())/float64(caps.ResolutionHz))}},
	}
}

func phasesTableValues(report *verify.Report) []table.Field {
	fields := []table.Field{
		{Name: "Phase"},
		{Name: "Window"},
		{Name: "Expected ms"},
		{Name: "Measured ms"},
		{Name: "Expected Signals"},
		{Name: "Signals"},
		{Name: "Result"},
		{Name: "Findings"},
	}
	for _, result := range report.Results {
		window := ""
		if result.Window > 0 {
			window = strconv.Itoa(result.Window)
		}
		outcome := "FAIL"
		if result.Passed {
			outcome = "PASS"
		}
		values := []string{
			string(result.Phase),
			window,
			strconv.FormatInt(result.ExpectedMs, 10),
			strconv.FormatInt(result.MeasuredMs, 10),
			strconv.FormatInt(result.ExpectedSignals, 10),
			strconv.FormatInt(result.Signals, 10),
			outcome,
			strings.Join(result.Findings, "; "),
		}
		for i := range fields {
			fields[i].Values = append(fields[i].Values, values[i])
		}
	}
	return fields
}

func failuresTableValues(report *verify.Report) []table.Field {
	return []table.Field{
		{Name: "Failure", Values: append([]string(nil), report.Failures...)},
	}
}
