// Package tmrveri is a subcommand of the root command. It runs the timer
// verification protocol on one channel of a timer device.
package tmrveri

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tmrcheck/internal/common"
	"tmrcheck/internal/metrics"
	"tmrcheck/internal/progress"
	"tmrcheck/internal/report"
	"tmrcheck/internal/util"
	"tmrcheck/internal/verify"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const cmdName = "verify"

var examples = []string{
	fmt.Sprintf("  Verify channel 1 of the simulated timer:     $ %s %s sim:tmr0", common.AppName, cmdName),
	fmt.Sprintf("  Verify only the one shot duration:           $ %s %s --phases oneshot -c=2 sim:tmr0", common.AppName, cmdName),
	fmt.Sprintf("  Allow 5%% deviation and write all reports:    $ %s %s --tolerance 0.05 --format all serial:/dev/ttyUSB0", common.AppName, cmdName),
	fmt.Sprintf("  Export the results for node_exporter:        $ %s %s --metrics-file /var/lib/node_exporter/tmr.prom timerfd:host", common.AppName, cmdName),
}

var Cmd = newCommand()

var (
	flagTimeout     time.Duration
	flagTolerance   float64
	flagJudge       string
	flagPhases      []string
	flagFormat      []string
	flagMetricsFile string
)

const (
	flagTimeoutName     = "timeout"
	flagToleranceName   = "tolerance"
	flagJudgeName       = "judge"
	flagPhasesName      = "phases"
	flagMetricsFileName = "metrics-file"
)

// showProgress reports whether the phase spinner is drawn. It is only drawn
// when the console output is redirected and stderr is a terminal.
var showProgress = func() bool {
	return !term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

// newCommand creates the command and binds its flags to the package variables.
func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           cmdName,
		Aliases:       []string{"veri"},
		Short:         "Verify the timing of a timer channel",
		Long:          "Verification tool for drivers implementing the timer profile",
		Example:       strings.Join(examples, "\n"),
		RunE:          runCmd,
		PreRunE:       validateFlags,
		GroupID:       "primary",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
	}
	common.AddDeviceFlags(cmd)

	cmd.Flags().DurationVar(&flagTimeout, flagTimeoutName, verify.DefaultTimeout, "")
	cmd.Flags().Float64Var(&flagTolerance, flagToleranceName, verify.DefaultTolerance, "")
	cmd.Flags().StringVar(&flagJudge, flagJudgeName, verify.DefaultJudge, "")
	cmd.Flags().StringSliceVar(&flagPhases, flagPhasesName, verify.SelectableNames(), "")
	cmd.Flags().StringSliceVar(&flagFormat, common.FlagFormatName, nil, "")
	cmd.Flags().StringVar(&flagMetricsFile, flagMetricsFileName, "", "")

	cmd.SetUsageFunc(common.UsageFunc(getFlagGroups))
	cmd.SetFlagErrorFunc(common.FlagErrorFunc)
	return cmd
}

func getFlagGroups() []common.FlagGroup {
	var groups []common.FlagGroup
	groups = append(groups, common.GetDeviceFlagGroup())
	groups = append(groups, common.FlagGroup{
		GroupName: "Verification Options",
		Flags: []common.Flag{
			{
				Name: flagPhasesName,
				Help: fmt.Sprintf("phases to run, choose from: %s", strings.Join(verify.SelectableNames(), ", ")),
			},
			{
				Name: flagTimeoutName,
				Help: "give up waiting for a signal or a counter change after this long, 0 waits forever",
			},
			{
				Name: flagToleranceName,
				Help: "accepted relative deviation of a measurement",
			},
			{
				Name: flagJudgeName,
				Help: "boolean expression of expected, measured and tolerance deciding whether a measurement passes",
			},
		},
	})
	groups = append(groups, common.FlagGroup{
		GroupName: "Output Options",
		Flags: []common.Flag{
			{
				Name: common.FlagFormatName,
				Help: fmt.Sprintf("write report(s) to the output directory, choose from: %s", strings.Join(append([]string{report.FormatAll}, report.FormatOptions...), ", ")),
			},
			{
				Name: flagMetricsFileName,
				Help: "write the results in Prometheus text format to this file",
			},
		},
	})
	return groups
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if err := common.ValidateDeviceFlags(cmd); err != nil {
		return err
	}
	if flagTimeout < 0 {
		return common.FlagValidationError(cmd, fmt.Sprintf("timeout cannot be negative: %s", flagTimeout))
	}
	if flagTolerance < 0 {
		return common.FlagValidationError(cmd, fmt.Sprintf("tolerance cannot be negative: %g", flagTolerance))
	}
	if _, err := verify.ParsePhases(flagPhases); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if _, err := verify.NewJudge(flagJudge, flagTolerance); err != nil {
		return common.FlagValidationError(cmd, fmt.Sprintf("judge: %v", err))
	}
	if _, err := common.ExpandFormats(flagFormat); err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	if flagMetricsFile != "" {
		path, err := util.AbsPath(flagMetricsFile)
		if err != nil {
			return common.FlagValidationError(cmd, fmt.Sprintf("metrics file: %v", err))
		}
		exists, err := util.DirectoryExists(filepath.Dir(path))
		if err != nil || !exists {
			return common.FlagValidationError(cmd, fmt.Sprintf("metrics file: directory %s does not exist", filepath.Dir(path)))
		}
		flagMetricsFile = path
	}
	return nil
}

func runCmd(cmd *cobra.Command, args []string) error {
	device, err := common.DeviceArg(cmd, args)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	ctx := cmd.Parent().Context()
	if ctx == nil {
		ctx = context.Background()
	}
	appContext, _ := ctx.Value(common.AppContext{}).(common.AppContext)
	phases, err := verify.ParsePhases(flagPhases)
	if err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	formats, err := common.ExpandFormats(flagFormat)
	if err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	opts := verify.Options{
		Channel:   common.FlagChannel,
		Timeout:   flagTimeout,
		Tolerance: flagTolerance,
		Judge:     flagJudge,
		Phases:    phases,
		Out:       cmd.OutOrStdout(),
		ErrOut:    cmd.ErrOrStderr(),
	}
	var spinner *progress.MultiSpinner
	label := fmt.Sprintf("%s ch%d", device, common.FlagChannel)
	if showProgress() {
		spinner = progress.NewMultiSpinner()
		if err := spinner.AddSpinner(label); err == nil {
			spinner.Start()
			opts.OnPhase = func(phase verify.Phase) {
				_ = spinner.Status(label, string(phase))
			}
		}
	}
	verifier, err := verify.New(opts)
	if err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	slog.Info("verifying timer", slog.String("device", device), slog.Int("channel", common.FlagChannel), slog.String("phases", strings.Join(phaseList(phases), ",")))
	result, err := verifier.Run(ctx, device)
	if spinner != nil {
		_ = spinner.Status(label, verdict(result, err))
		spinner.Finish()
	}
	if err != nil {
		return err
	}
	slog.Info("verification finished", slog.String("device", device), slog.String("verdict", verdict(result, nil)), slog.Int("failures", len(result.Failures)))
	return writeResults(cmd, appContext, result, formats)
}

// writeResults writes the requested reports and the metrics file.
func writeResults(cmd *cobra.Command, appContext common.AppContext, result *verify.Report, formats []string) error {
	if flagMetricsFile != "" {
		recorder := metrics.NewRecorder()
		recorder.Record(result)
		if err := recorder.WriteTextfile(flagMetricsFile); err != nil {
			err = fmt.Errorf("failed to write metrics file: %w", err)
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			slog.Error(err.Error())
			return err
		}
		slog.Info("wrote metrics file", slog.String("file", flagMetricsFile))
	}
	baseName := common.ReportBaseName(result.Device, result.Channel, cmdName)
	reportFilePaths, err := common.WriteReports(appContext, baseName, report.Tables(result), formats)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		slog.Error(err.Error())
		return err
	}
	if len(reportFilePaths) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Report files:")
	}
	for _, reportFilePath := range reportFilePaths {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", reportFilePath)
	}
	return nil
}

func verdict(result *verify.Report, err error) string {
	switch {
	case err != nil:
		return "can't open"
	case result.Interrupted:
		return "interrupted"
	case result.Aborted:
		return "aborted"
	case result.Passed():
		return "passed"
	}
	return "failed"
}

func phaseList(phases mapset.Set[string]) []string {
	var names []string
	for _, name := range verify.SelectableNames() {
		if phases.Contains(name) {
			names = append(names, name)
		}
	}
	return names
}
