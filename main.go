// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"
	"os"
	"runtime/pprof"

	"tmrcheck/cmd"

	// device backends register their schemes
	_ "tmrcheck/internal/driver/serial"
	_ "tmrcheck/internal/driver/sim"
	_ "tmrcheck/internal/driver/timerfd"
)

func main() {
	// TMRCHECK_PROFILE writes CPU and heap profiles of the run
	if os.Getenv("TMRCHECK_PROFILE") != "" {
		defer fmt.Fprintln(os.Stderr, "profiles written to cpu.prof and mem.prof")
		cpuFile, err := os.Create("cpu.prof")
		if err != nil {
			panic(err)
		}
		defer cpuFile.Close()

		if err := pprof.StartCPUProfile(cpuFile); err != nil {
			panic(err)
		}
		defer pprof.StopCPUProfile()

		memFile, err := os.Create("mem.prof")
		if err != nil {
			panic(err)
		}
		defer memFile.Close()
		defer func() {
			if err := pprof.WriteHeapProfile(memFile); err != nil {
				panic(err)
			}
		}()
	}
	cmd.Execute()
}
