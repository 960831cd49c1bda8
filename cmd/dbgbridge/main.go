// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
)

func main() {
	cfg := DefaultConfig()

	var config string
	var verbose bool

	flag.StringVar(&config, "config", "", ".star configuration file")
	flag.StringVar(&cfg.Program, "p", cfg.Program, ".star program to run on the emulated target")
	flag.StringVar(&cfg.SerialPort, "serial", cfg.SerialPort, "UART of a board-side agent, instead of the emulator")
	flag.IntVar(&cfg.Baud, "baud", cfg.Baud, "UART baud rate")
	flag.Func("ptr", "address of the debug struct pointer (default 0x1c000000)", func(s string) (err error) {
		value, err := strconv.ParseUint(s, 0, 32)
		cfg.DebugStructPtr = uint32(value)
		return
	})
	flag.DurationVar(&cfg.PrintingPause, "pause", cfg.PrintingPause, "pause between drains of a burst of output")
	flag.DurationVar(&cfg.FastPeriod, "fast", cfg.FastPeriod, "loop manager tick period")
	flag.DurationVar(&cfg.SlowPeriod, "slow", cfg.SlowPeriod, "loop manager slow tick period")
	flag.IntVar(&cfg.BootTicks, "boot", cfg.BootTicks, "emulated target boot ticks")
	flag.DurationVar(&cfg.TickPeriod, "tick", cfg.TickPeriod, "emulated target tick period")
	flag.IntVar(&cfg.FaultAfter, "fault-after", cfg.FaultAfter, "break the cable after this many transfers (debug)")
	flag.StringVar(&cfg.HostDir, "host-dir", cfg.HostDir, "directory served to the target's file requests; empty refuses them")
	flag.DurationVar(&cfg.RequestPause, "req-pause", cfg.RequestPause, "pause between requests of a burst")
	flag.StringVar(&cfg.LogLevel, "log", cfg.LogLevel, "log level: error, warning, info, debug, detail")
	flag.BoolVar(&verbose, "v", false, "Verbose mode")

	flag.Parse()

	if flag.NArg() != 0 {
		log.Fatalf("%v: Unknown arguments: %v", os.Args[0], flag.Args())
	}

	if len(config) != 0 {
		inf, err := os.Open(config)
		if err != nil {
			log.Fatalf("%v: %v", config, err)
		}
		err = cfg.Load(config, inf)
		inf.Close()
		if err != nil {
			log.Fatalf("%v: %v", config, err)
		}
		// Flags given on the command line win over the file.
		flag.Parse()
	}

	if verbose {
		cfg.LogLevel = "debug"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	bridge := NewBridge(cfg)
	status, err := bridge.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}

	os.Exit(int(status))
}
