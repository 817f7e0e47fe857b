// Package tmrtest is a subcommand of the root command. It drives a timer
// channel and shows its counter until a key is pressed.
package tmrtest

// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"tmrcheck/internal/common"
	"tmrcheck/internal/driver"
	"tmrcheck/internal/metrics"
	"tmrcheck/internal/monitor"
	"tmrcheck/internal/util"

	"github.com/spf13/cobra"
)

const cmdName = "test"

var examples = []string{
	fmt.Sprintf("  Show the counter of channel 1:               $ %s %s sim:tmr0", common.AppName, cmdName),
	fmt.Sprintf("  Preload 1 second and start one shot:         $ %s %s -p=1000000 -o -s sim:tmr0", common.AppName, cmdName),
	fmt.Sprintf("  Run free and export live metrics:            $ %s %s -c=2 -p=0x64 -f -s --prometheus-server :9090 sim:tmr0", common.AppName, cmdName),
	fmt.Sprintf("  Halt the timer and show its counter 5 times: $ %s %s -h --iterations 5 timerfd:host", common.AppName, cmdName),
}

var Cmd = newCommand()

var (
	flagOneShot          bool
	flagFreeRunning      bool
	flagHalt             bool
	flagPreload          string
	flagSignal           bool
	flagIterations       int
	flagPrometheusServer string
)

const (
	flagOneShotName          = "oneshot"
	flagFreeRunningName      = "freerun"
	flagHaltName             = "halt"
	flagPreloadName          = "preload"
	flagSignalName           = "signal"
	flagIterationsName       = "iterations"
	flagPrometheusServerName = "prometheus-server"
)

// keyboard prepares the console for single key detection.
var keyboard = func(out io.Writer) (<-chan struct{}, io.Writer, func()) {
	return monitor.Keyboard(os.Stdin, out)
}

// newCommand creates the command and binds its flags to the package variables.
func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           cmdName,
		Short:         "Drive a timer channel and show its counter",
		Long:          "Test tool for drivers implementing the timer profile",
		Example:       strings.Join(examples, "\n"),
		RunE:          runCmd,
		PreRunE:       validateFlags,
		GroupID:       "primary",
		Args:          cobra.MaximumNArgs(1),
		SilenceErrors: true,
	}
	// -h halts the timer, help stays available as --help
	cmd.Flags().Bool("help", false, "help for "+cmdName)
	cmd.Flags().BoolVarP(&flagOneShot, flagOneShotName, "o", false, "")
	cmd.Flags().BoolVarP(&flagFreeRunning, flagFreeRunningName, "f", false, "")
	cmd.Flags().BoolVarP(&flagHalt, flagHaltName, "h", false, "")
	cmd.Flags().StringVarP(&flagPreload, flagPreloadName, "p", "", "")
	cmd.Flags().BoolVarP(&flagSignal, flagSignalName, "s", false, "")
	cmd.Flags().IntVar(&flagIterations, flagIterationsName, 0, "")
	cmd.Flags().StringVar(&flagPrometheusServer, flagPrometheusServerName, "", "")

	common.AddDeviceFlags(cmd)

	cmd.SetUsageFunc(common.UsageFunc(getFlagGroups))
	cmd.SetFlagErrorFunc(common.FlagErrorFunc)
	return cmd
}

func getFlagGroups() []common.FlagGroup {
	var groups []common.FlagGroup
	groups = append(groups, common.GetDeviceFlagGroup())
	groups = append(groups, common.FlagGroup{
		GroupName: "Timer Options",
		Flags: []common.Flag{
			{
				Name: flagOneShotName,
				Help: "start for one shot mode",
			},
			{
				Name: flagFreeRunningName,
				Help: "start for free running mode",
			},
			{
				Name: flagHaltName,
				Help: "halt timer, takes precedence over the start modes",
			},
			{
				Name: flagPreloadName,
				Help: "set preload register, decimal or 0x hex",
			},
			{
				Name: flagSignalName,
				Help: "install signal",
			},
		},
	})
	groups = append(groups, common.FlagGroup{
		GroupName: "Display Options",
		Flags: []common.Flag{
			{
				Name: flagIterationsName,
				Help: "number of status lines to show after the timer was set up, 0 shows until a key is pressed",
			},
			{
				Name: flagPrometheusServerName,
				Help: "serve live timer metrics on /metrics at this address, e.g. :9090",
			},
		},
	})
	return groups
}

func validateFlags(cmd *cobra.Command, args []string) error {
	if err := common.ValidateDeviceFlags(cmd); err != nil {
		return err
	}
	if cmd.Flags().Changed(flagPreloadName) {
		if _, err := util.ParseUint32(flagPreload); err != nil {
			return common.FlagValidationError(cmd, fmt.Sprintf("preload: %v", err))
		}
	}
	if flagIterations < 0 {
		return common.FlagValidationError(cmd, fmt.Sprintf("iterations must be 0 or greater: %d", flagIterations))
	}
	return nil
}

// startMode returns the run mode requested on the command line. Halt wins
// over free running which wins over one shot.
func startMode() *driver.RunMode {
	var mode driver.RunMode
	switch {
	case flagHalt:
		mode = driver.Stopped
	case flagFreeRunning:
		mode = driver.FreeRunning
	case flagOneShot:
		mode = driver.OneShot
	default:
		return nil
	}
	return &mode
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
	opts := monitor.Options{
		Channel:    common.FlagChannel,
		Signal:     flagSignal,
		StartMode:  startMode(),
		Iterations: flagIterations,
		ErrOut:     cmd.ErrOrStderr(),
	}
	if cmd.Flags().Changed(flagPreloadName) {
		preload, err := util.ParseUint32(flagPreload)
		if err != nil {
			return common.FlagValidationError(cmd, fmt.Sprintf("preload: %v", err))
		}
		opts.Preload = &preload
	}
	if flagPrometheusServer != "" {
		serverCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		live := metrics.NewLive(device, common.FlagChannel)
		metrics.StartServer(serverCtx, flagPrometheusServer, live.Registry())
		opts.OnState = live.Observe
	}
	keys, out, restore := keyboard(cmd.OutOrStdout())
	defer restore()
	opts.Stop = keys
	opts.Out = out
	m, err := monitor.New(opts)
	if err != nil {
		return common.FlagValidationError(cmd, err.Error())
	}
	slog.Info("monitoring timer", slog.String("device", device), slog.Int("channel", common.FlagChannel))
	return m.Run(ctx, device)
}
