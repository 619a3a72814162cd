// skullstepperd is the host daemon for a DMX-driven stepper prop axis.
// It runs the motion control loop, the homing and safety interlock
// logic, and the serial / HTTP / DMX front ends.
//
// Usage:
//
//	skullstepperd [options]
//
// Options:
//
//	-config string    Settings file (default "skullstepper.yaml")
//	-http string      API server address (overrides config)
//	-metrics string   Metrics server address (overrides config)
//	-serial string    Console serial port (overrides config)
//	-sim              Run against the simulated axis (default true)
//	-simleft int      Simulated left switch position (default -5000)
//	-simright int     Simulated right switch position (default 5000)
//	-loglevel string  Log level: debug, info, warn, error (default "info")
//	-logjson          Emit JSON log lines
//	-logfile string   Log file path (default: stderr)
//
// Copyright (C) 2026  Tim Rosener
//
// This file may be distributed under the terms of the MIT license.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/TimRosener/SkullStepperV4/pkg/config"
	"github.com/TimRosener/SkullStepperV4/pkg/console"
	"github.com/TimRosener/SkullStepperV4/pkg/dmx"
	"github.com/TimRosener/SkullStepperV4/pkg/log"
	"github.com/TimRosener/SkullStepperV4/pkg/metrics"
	"github.com/TimRosener/SkullStepperV4/pkg/motion"
	"github.com/TimRosener/SkullStepperV4/pkg/web"
)

func main() {
	configFile := flag.String("config", "skullstepper.yaml", "Settings file")
	httpAddr := flag.String("http", "", "API server address (overrides config)")
	metricsAddr := flag.String("metrics", "", "Metrics server address (overrides config)")
	serialPort := flag.String("serial", "", "Console serial port (overrides config)")
	sim := flag.Bool("sim", true, "Run against the simulated axis")
	simLeft := flag.Int("simleft", -5000, "Simulated left switch position")
	simRight := flag.Int("simright", 5000, "Simulated right switch position")
	logLevel := flag.String("loglevel", "info", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("logjson", false, "Emit JSON log lines")
	logFile := flag.String("logfile", "", "Log file path (default: stderr)")
	flag.Parse()

	log.SetGlobalLevel(log.ParseLevel(*logLevel))
	if *logJSON {
		log.SetGlobalFormat(log.FormatJSON)
	}
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		log.SetGlobalWriter(f)
	}

	logger := log.GetLogger("main")
	logger.Info("skullstepperd starting")

	if !*sim {
		logger.Error("no hardware step generator on this platform, run with -sim")
		os.Exit(1)
	}

	store, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load settings: %v", err)
		os.Exit(1)
	}
	cfg := store.Get()
	if *httpAddr == "" {
		*httpAddr = cfg.Interfaces.HTTPAddr
	}
	if *metricsAddr == "" {
		*metricsAddr = cfg.Interfaces.MetricsAddr
	}
	if *serialPort == "" {
		*serialPort = cfg.Interfaces.SerialPort
	}

	axis := motion.NewSimAxis(motion.SimAxisConfig{
		LeftSwitchAt:  int32(*simLeft),
		RightSwitchAt: int32(*simRight),
		Speed:         cfg.Motion.MaxSpeed,
		Accel:         cfg.Motion.Acceleration,
	})

	ctrl := motion.NewController(axis, controllerConfig(store, cfg, axis))
	if err := ctrl.Start(); err != nil {
		logger.Error("start controller: %v", err)
		os.Exit(1)
	}

	// DMX translation. Without receiver hardware the source stays
	// silent; the translator idles in the no-signal state.
	dmxSource := &dmx.StaticSource{}
	translator := dmx.NewTranslator(dmxSource, ctrl, dmx.TranslatorConfig{
		SignalTimeout: time.Duration(cfg.DMX.TimeoutMs) * time.Millisecond,
		Scale:         cfg.DMX.Scale,
		Offset:        cfg.DMX.Offset,
		MinDelta:      cfg.DMX.MinDelta,
	})
	ctrl.SetDMXStateProvider(translator.StateString)
	translator.Start()

	// Serial console.
	var consoleSrv *console.Server
	if *serialPort != "" {
		consoleSrv, err = console.Serve(ctrl, store, *serialPort, cfg.Interfaces.SerialBaud)
		if err != nil {
			logger.Error("serial console: %v", err)
			os.Exit(1)
		}
	}

	// HTTP API.
	apiSrv := web.New(ctrl, store, *httpAddr)
	go func() {
		if err := apiSrv.Start(); err != nil {
			logger.Error("api server: %v", err)
		}
	}()

	// Metrics.
	var metricsSrv *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Default().Handler())
		metricsSrv = &http.Server{Addr: *metricsAddr, Handler: mux}
		go func() {
			logger.Info("metrics server on %s", *metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received %s, shutting down", sig)

	// Front ends first so no new commands arrive, then the motion
	// task, then persist pending settings.
	if metricsSrv != nil {
		metricsSrv.Close()
	}
	apiSrv.Stop()
	if consoleSrv != nil {
		consoleSrv.Close()
	}
	translator.Stop()
	ctrl.Stop()

	if store.Dirty() {
		if err := store.Commit(); err != nil {
			logger.Warn("save settings: %v", err)
		}
	}
	logger.Info("shutdown complete")
}

// controllerConfig builds the motion controller configuration from the
// settings record. Corrected operating limits are written back to the
// store so the next boot starts from the clamped values.
func controllerConfig(store *config.Store, cfg config.Config, axis *motion.SimAxis) motion.ControllerConfig {
	logger := log.GetLogger("main")
	return motion.ControllerConfig{
		Profile: motion.Profile{
			MaxSpeed:      cfg.Motion.MaxSpeed,
			Acceleration:  cfg.Motion.Acceleration,
			Deceleration:  cfg.Motion.Deceleration,
			Jerk:          cfg.Motion.Jerk,
			EnforceLimits: true,
		},
		Homing: motion.HomingConfig{
			Speed:            cfg.Homing.Speed,
			Backoff:          cfg.Homing.BackoffSteps,
			StartBackoff:     cfg.Homing.StartBackoff,
			Margin:           cfg.Homing.MarginSteps,
			Timeout:          time.Duration(cfg.Homing.TimeoutSec * float64(time.Second)),
			ReferencePercent: cfg.Homing.ReferencePercent,
		},
		Switches: motion.SwitchMonitorConfig{
			Debounce: time.Duration(cfg.Safety.DebounceMs) * time.Millisecond,
			Left:     axis.LeftActive,
			Right:    axis.RightActive,
		},
		UserMin:       cfg.Limits.UserMin,
		UserMax:       cfg.Limits.UserMax,
		HasUserLimits: cfg.Limits.Set,
		OnLimitsCorrected: func(min, max int32) {
			err := store.Update(func(c *config.Config) error {
				c.Limits.UserMin = min
				c.Limits.UserMax = max
				c.Limits.Set = true
				return nil
			})
			if err == nil {
				err = store.Commit()
			}
			if err != nil {
				logger.Warn("persist corrected limits: %v", err)
			}
		},
		AlarmEnabled: cfg.Safety.AlarmEnabled,
	}
}
