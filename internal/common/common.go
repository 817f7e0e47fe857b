// Package common defines data structures and functions that are used by multiple
// application commands, i.e., test and verify.
package common

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"tmrcheck/internal/report"
	"tmrcheck/internal/table"
	"tmrcheck/internal/util"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var AppName = filepath.Base(os.Args[0])

// AppContext represents the application context that can be accessed from all commands.
type AppContext struct {
	Timestamp   string // Timestamp is the application start time, used in output file names.
	OutputDir   string // OutputDir is the directory where the application will write output files.
	LogFilePath string // LogFilePath is empty when logging to syslog or stdout.
	Version     string // Version is the version of the application.
	Debug       bool
}

type Flag struct {
	Name string
	Help string
}
type FlagGroup struct {
	GroupName string
	Flags     []Flag
}

// ErrUsage is returned by a command that printed its usage instead of running.
// The application exits with status 1 and prints nothing further.
var ErrUsage = errors.New("usage requested")

var (
	FlagChannel int
	FlagUsage   bool
)

const (
	FlagChannelName = "channel"
	FlagUsageName   = "usage"
	FlagFormatName  = "format"

	DefaultChannel = 1
)

// AddDeviceFlags adds the flags shared by all commands that open a timer device.
func AddDeviceFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&FlagChannel, FlagChannelName, "c", DefaultChannel, "")
	cmd.Flags().BoolVarP(&FlagUsage, FlagUsageName, "?", false, "")
}

// GetDeviceFlagGroup returns the help for the flags added by AddDeviceFlags.
func GetDeviceFlagGroup() FlagGroup {
	return FlagGroup{
		GroupName: "Device Options",
		Flags: []Flag{
			{
				Name: FlagChannelName,
				Help: "channel number",
			},
			{
				Name: FlagUsageName,
				Help: "print usage and exit",
			},
		},
	}
}

// DeviceArg returns the device named on the command line. When the usage was
// requested or no device was given, the usage is printed and ErrUsage returned.
func DeviceArg(cmd *cobra.Command, args []string) (string, error) {
	if FlagUsage || len(args) == 0 {
		_ = cmd.Usage()
		cmd.SilenceUsage = true
		return "", ErrUsage
	}
	return args[0], nil
}

// ValidateDeviceFlags checks the flags added by AddDeviceFlags.
func ValidateDeviceFlags(cmd *cobra.Command) error {
	if FlagChannel < 0 {
		return FlagValidationError(cmd, fmt.Sprintf("channel must be 0 or greater: %d", FlagChannel))
	}
	return nil
}

// UsageFunc returns a cobra usage function that prints the command's flags
// by group, followed by the global flags.
func UsageFunc(getFlagGroups func() []FlagGroup) func(cmd *cobra.Command) error {
	return func(cmd *cobra.Command) error {
		cmd.Printf("Usage: %s [flags] <device> [flags]\n", cmd.CommandPath())
		if cmd.Long != "" {
			cmd.Printf("Function: %s\n", cmd.Long)
		}
		cmd.Printf("  %-26s %s\n\n", "device", "device name, <scheme>:<name>")
		if cmd.Example != "" {
			cmd.Printf("Examples:\n%s\n\n", cmd.Example)
		}
		cmd.Println("Flags:")
		for _, group := range getFlagGroups() {
			cmd.Printf("  %s:\n", group.GroupName)
			for _, flag := range group.Flags {
				pf := cmd.Flags().Lookup(flag.Name)
				if pf == nil {
					continue
				}
				cmd.Printf("    %-24s %s%s\n", flagSyntax(pf), flag.Help, flagDefault(pf))
			}
		}
		cmd.Println("\nGlobal Flags:")
		cmd.Root().PersistentFlags().VisitAll(func(pf *pflag.Flag) {
			cmd.Printf("  %-26s %s%s\n", flagSyntax(pf), pf.Usage, flagDefault(pf))
		})
		return nil
	}
}

func flagSyntax(pf *pflag.Flag) string {
	value := ""
	if pf.Value.Type() != "bool" {
		value = "=<" + pf.Value.Type() + ">"
	}
	if pf.Shorthand != "" {
		return fmt.Sprintf("-%s, --%s%s", pf.Shorthand, pf.Name, value)
	}
	return fmt.Sprintf("    --%s%s", pf.Name, value)
}

func flagDefault(pf *pflag.Flag) string {
	switch pf.DefValue {
	case "", "false", "[]", "0s":
		return ""
	}
	return fmt.Sprintf(" (default: %s)", pf.DefValue)
}

// FlagValidationError is used to report an error with a flag
func FlagValidationError(cmd *cobra.Command, msg string) error {
	err := errors.New(msg)
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	fmt.Fprintf(os.Stderr, "See '%s --help' for usage details.\n", cmd.CommandPath())
	cmd.SilenceUsage = true
	return err
}

// FlagErrorFunc reports a flag parsing error. Cobra prints the usage after it.
func FlagErrorFunc(cmd *cobra.Command, err error) error {
	cmd.PrintErrf("*** %v\n", err)
	return err
}

// ExpandFormats validates the requested report formats and replaces "all"
// with every supported format.
func ExpandFormats(formats []string) ([]string, error) {
	var result []string
	for _, format := range formats {
		format = strings.ToLower(strings.TrimSpace(format))
		switch {
		case format == report.FormatAll:
			return slices.Clone(report.FormatOptions), nil
		case slices.Contains(report.FormatOptions, format):
			if !slices.Contains(result, format) {
				result = append(result, format)
			}
		default:
			return nil, fmt.Errorf("format options are: %s", strings.Join(append([]string{report.FormatAll}, report.FormatOptions...), ", "))
		}
	}
	return result, nil
}

// CreateOutputDir creates the output directory if it does not exist
func CreateOutputDir(outputDir string) error {
	return util.CreateDirectoryIfNotExists(outputDir, 0755) // #nosec G301
}

// WriteReports renders the table values in each format and writes the reports
// to the output directory as <baseName>.<format>. It returns the report paths.
func WriteReports(appContext AppContext, baseName string, allTableValues []table.TableValues, formats []string) ([]string, error) {
	if len(formats) == 0 {
		return nil, nil
	}
	if err := CreateOutputDir(appContext.OutputDir); err != nil {
		return nil, err
	}
	var reportFilePaths []string
	for _, format := range formats {
		reportBytes, err := report.Create(format, allTableValues)
		if err != nil {
			return reportFilePaths, fmt.Errorf("failed to create %s report: %w", format, err)
		}
		reportPath := filepath.Join(appContext.OutputDir, baseName+"."+format)
		if err := writeReport(reportBytes, reportPath); err != nil {
			return reportFilePaths, err
		}
		reportFilePaths = append(reportFilePaths, reportPath)
	}
	return reportFilePaths, nil
}

// writeReport writes the report bytes to the specified path.
func writeReport(reportBytes []byte, reportPath string) error {
	err := os.WriteFile(reportPath, reportBytes, 0644) // #nosec G306
	if err != nil {
		err = fmt.Errorf("failed to write report file: %v", err)
		slog.Error(err.Error())
		return err
	}
	return nil
}

// ReportBaseName builds a file name for a device's report, e.g.
// sim_tmr0_ch1_verify for device sim:tmr0 channel 1.
func ReportBaseName(device string, channel int, post string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case ':', '/', '\\', '@', ' ':
			return '_'
		}
		return r
	}, strings.TrimPrefix(device, "/"))
	name = strings.Trim(name, "_")
	if name == "" {
		name = "device"
	}
	name = fmt.Sprintf("%s_ch%d", name, channel)
	if post != "" {
		name += "_" + post
	}
	return name
}
