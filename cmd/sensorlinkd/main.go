/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/carverauto/sensorlink/pkg/config"
	"github.com/carverauto/sensorlink/pkg/controlclient"
	"github.com/carverauto/sensorlink/pkg/discovery"
	"github.com/carverauto/sensorlink/pkg/lifecycle"
	"github.com/carverauto/sensorlink/pkg/logger"
	"github.com/carverauto/sensorlink/pkg/models"
	"github.com/carverauto/sensorlink/pkg/natsutil"
	"github.com/carverauto/sensorlink/pkg/orchestrator"
	"github.com/carverauto/sensorlink/pkg/peripheral"
	"github.com/carverauto/sensorlink/pkg/peripheral/bluez"
	"github.com/carverauto/sensorlink/pkg/peripheral/usbthermal"
	"github.com/carverauto/sensorlink/pkg/peripheral/v4l"
	"github.com/carverauto/sensorlink/pkg/resilience"
	"github.com/carverauto/sensorlink/pkg/state"
	"github.com/carverauto/sensorlink/pkg/statestream"
	"github.com/carverauto/sensorlink/pkg/version"
)

var errFailedToLoadConfig = errors.New("failed to load config")

// headlessSurface stands in for a preview surface. Frames go to the
// controller data plane instead of a local display.
type headlessSurface struct{}

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/sensorlink/sensorlinkd.json", "Path to sensorlinkd config file")
	listCandidates := flag.Bool("list-candidates", false, "Print the discovery candidate order and exit")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return nil
	}

	ctx := context.Background()

	var cfg models.LinkConfig

	if err := config.NewConfig(nil).LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = logger.DefaultConfig()
	}

	mainLogger, err := lifecycle.CreateComponentLogger("sensorlinkd", logConfig)
	if err != nil {
		return err
	}

	store := state.NewStore(mainLogger.WithComponent("state"))
	holder := models.NewConfigHolder(cfg.Controller)

	engine := discovery.NewEngine(
		discovery.Config{Concurrency: cfg.Discovery.Concurrency},
		holder,
		store,
		discovery.NewTCPProber(
			cfg.Discovery.ProbeTimeout.Or(discovery.DefaultProbeTimeout),
			cfg.Discovery.VerifyTimeout.Or(discovery.DefaultVerifyTimeout),
			mainLogger.WithComponent("prober"),
		),
		discovery.SystemInterfaces{},
		mainLogger.WithComponent("discovery"),
	)

	if *listCandidates {
		for _, host := range engine.Candidates(ctx) {
			fmt.Println(host)
		}

		return nil
	}

	ctx, cancel := lifecycle.SignalContext(ctx, mainLogger)
	defer cancel()

	mainLogger.Info().Str("version", version.Version()).Str("commit", version.Commit()).Msg("starting sensorlinkd")

	deps := orchestrator.Deps{
		Camera:  v4l.NewCamera(cfg.Devices.VideoGlob, mainLogger.WithComponent("camera")),
		Thermal: usbthermal.NewCamera(cfg.Devices.USBSysfsDir, mainLogger.WithComponent("thermal")),
		Dialer:  &controlclient.Dialer{Logger: mainLogger.WithComponent("controlclient")},
		Holder:  holder,
		Store:   store,
		Logger:  mainLogger.WithComponent("orchestrator"),
	}

	if cfg.Discovery.Enabled {
		deps.Discovery = engine
	}

	var sensor *bluez.Sensor

	if cfg.Bluetooth.Enabled {
		bus, err := bluez.ConnectSystemBus()
		if err != nil {
			mainLogger.Warn().Err(err).Msg("bluetooth unavailable, peripheral sensor disabled")
		} else {
			defer func() { _ = bus.Close() }()

			sensor = bluez.NewSensor(bus, cfg.Bluetooth.Adapter, mainLogger.WithComponent("bluez"))
			deps.Peripheral = sensor
		}
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Identity: controlclient.IdentityFromConfig(cfg.Identity),
		Policy:   resilience.PolicyFromConfig(cfg.Reconnect),
	}, deps)
	if err != nil {
		return err
	}

	emitter := peripheral.NewEmitter(0)
	g, gctx := errgroup.WithContext(ctx)

	if cfg.NATS != nil {
		nc, err := natsutil.Connect(*cfg.NATS, mainLogger.WithComponent("nats"))
		if err != nil {
			return err
		}

		defer func() { _ = nc.Drain() }()

		pub, err := natsutil.NewStatePublisher(ctx, nc, *cfg.NATS, mainLogger.WithComponent("nats"))
		if err != nil {
			return err
		}

		states, unsubscribe := store.Subscribe(gctx)
		defer unsubscribe()

		g.Go(func() error { return pub.Run(gctx, states) })
	}

	if cfg.StateStream.ListenAddr != "" {
		stream := statestream.NewServer(store, cfg.StateStream.Path, mainLogger.WithComponent("statestream"))

		g.Go(func() error { return stream.ListenAndServe(gctx, cfg.StateStream.ListenAddr) })
	}

	g.Go(func() error { return orch.Run(gctx, emitter.Events()) })

	if sensor != nil {
		g.Go(func() error {
			if err := sensor.Watch(gctx, emitter); err != nil && gctx.Err() == nil {
				mainLogger.Warn().Err(err).Msg("bluetooth event watch stopped")
			}

			return nil
		})
	}

	g.Go(func() error {
		summary, err := orch.InitializeAll(gctx, orchestrator.Surfaces{Camera: headlessSurface{}, Thermal: headlessSurface{}})
		if err != nil {
			return err
		}

		mainLogger.Info().Msg(summary)

		msg, err := orch.ConnectController(gctx)
		if err != nil {
			mainLogger.Warn().Err(err).Msg("controller unavailable, continuing with local sensors")
			return nil
		}

		mainLogger.Info().Msg(msg)

		return nil
	})

	err = g.Wait()

	if derr := orch.DisconnectController(); derr != nil {
		mainLogger.Debug().Err(derr).Msg("controller session close failed")
	}

	emitter.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	mainLogger.Info().Msg("sensorlinkd stopped")

	return nil
}
