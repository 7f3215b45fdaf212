// Command ecmcore runs the engine control core daemon: it loads a project
// tune, wires a hal backend (real hardware or the serial bench harness),
// and runs the fast/slow loop pair, publishing EngineState over whichever
// telemetry transports the runtime config enables. Wiring follows the same
// "flags select a driver, main constructs it and starts goroutines" shape
// as huskki's main.go, generalized with golang.org/x/sync/errgroup instead
// of a handful of bare `go` statements.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"ecmcore/alternator"
	"ecmcore/cam"
	"ecmcore/canbus"
	"ecmcore/config"
	"ecmcore/crank"
	"ecmcore/enginestate"
	"ecmcore/fault"
	"ecmcore/fuelspark"
	"ecmcore/hal"
	"ecmcore/halbench"
	"ecmcore/halhw"
	"ecmcore/limp"
	"ecmcore/scheduler"
	"ecmcore/sensor"
	"ecmcore/telemetry"
	"ecmcore/wideband"
)

const (
	slowLoopPeriod    = 10 * time.Millisecond
	fastLoopIdleSleep = time.Millisecond
	fastLoopPriority  = -15 // raised priority for the pinned fast-loop thread

	// defaultVbatV is used only when no "vbat" sensor slot is configured
	// (e.g. a bench rig without a battery-voltage channel wired up).
	defaultVbatV = 13.5
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("ecmcore: %v", err)
	}
}

func run() error {
	flags, bench := config.GetFlags()

	runtimeCfg, err := config.LoadRuntimeConfig(flags.RuntimeConfig)
	if err != nil {
		return err
	}

	bundlePath := runtimeCfg.ProjectBundlePath
	if flags.ProjectBundle != "" {
		bundlePath = flags.ProjectBundle
	}
	project, descriptors, rules, tables, err := config.NewFileStore(bundlePath).Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := hal.NewSystemClock()
	faultHub := fault.NewHub()
	state := enginestate.NewStore()

	crankDecoder := crank.New(project.TotalTeeth, project.MissingTeeth)
	camDecoder := cam.New(project.TotalTeeth, crankDecoder.ToothPosition)

	var coils, injectors hal.GpioPort = hal.NewSimGpio(), hal.NewSimGpio()
	adcDevices := map[int]sensor.AdcDevice{}
	pwmBanks := [2]hal.PwmChannel{hal.NewSimPwm(), hal.NewSimPwm()}
	spiBanks := [2]hal.SpiBus{hal.NewSimSpi(), hal.NewSimSpi()}

	var benchSource *halbench.EdgeSource
	switch flags.EdgeSource {
	case config.EdgeSourceHardware:
		if err := halhw.Init(); err != nil {
			return err
		}
		hwGpio := halhw.NewGpio(map[int]string{0: "GPIO4"})
		coils = hwGpio
		injectors = hwGpio
		if err := hwGpio.AttachEdgeInterrupt(0, hal.EdgeRising, func(ts time.Duration) {
			nowUs := ts.Microseconds()
			crankDecoder.OnEdge(nowUs)
			camDecoder.OnEdge(nowUs)
		}); err != nil {
			return err
		}
	default:
		benchSource, err = halbench.Open(bench.SerialPort, bench.BaudRate)
		if err != nil {
			return err
		}
		defer benchSource.Close()
	}

	g, gctx := errgroup.WithContext(ctx)

	if benchSource != nil {
		g.Go(func() error {
			return benchSource.Run(gctx, func(nowUs int64) {
				crankDecoder.OnEdge(nowUs)
				camDecoder.OnEdge(nowUs)
			})
		})
	}

	layer := sensor.NewLayer(descriptorPointers(descriptors), rulePointers(rules), adcDevices, nil, nil)
	widebandBanks := [2]*wideband.Bank{
		wideband.NewBank(pwmBanks[0], spiBanks[0]),
		wideband.NewBank(pwmBanks[1], spiBanks[1]),
	}
	for i, enabled := range project.WidebandEnable {
		if enabled {
			widebandBanks[i].Begin(clock.NowMicros() / 1000)
		}
	}

	compute := fuelspark.New(tuneTablesToFuelSparkTables(tables), fuelSparkParams(project))
	arbiter := limp.New(limpParams(project))
	sched := scheduler.New(schedulerParams(project), coils, injectors)

	altControl := alternator.New(hal.NewSimPwm(), alternator.Params{
		Kp:            project.AlternatorKp,
		Ki:            project.AlternatorKi,
		Kd:            project.AlternatorKd,
		TargetVoltage: project.AlternatorTargetV,
	})
	if err := altControl.Begin(); err != nil {
		return err
	}

	var publishers []telemetry.Publisher
	if runtimeCfg.Telemetry == config.TelemetryWebsocket || runtimeCfg.Telemetry == config.TelemetryBoth {
		wsPub := telemetry.NewWebsocketPublisher()
		publishers = append(publishers, wsPub)

		mux := http.NewServeMux()
		mux.Handle("/ws", wsPub)
		server := &http.Server{Addr: runtimeCfg.Websocket.ListenAddr, Handler: mux}
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}
	if runtimeCfg.Telemetry == config.TelemetryCAN || runtimeCfg.Telemetry == config.TelemetryBoth {
		canPub, err := canbus.Dial(gctx, runtimeCfg.CAN.Interface)
		if err != nil {
			log.Printf("ecmcore: canbus unavailable, continuing without it: %v", err)
		} else {
			defer canPub.Close()
			publishers = append(publishers, canPub)
		}
	}

	startMs := clock.NowMicros() / 1000

	g.Go(func() error {
		return runSlowLoop(gctx, slowLoopConfig{
			clock:      clock,
			crank:      crankDecoder,
			cam:        camDecoder,
			layer:      layer,
			wideband:   widebandBanks,
			compute:    compute,
			arbiter:    arbiter,
			alternator: altControl,
			state:      state,
			faultHub:   faultHub,
			publishers: publishers,
			project:    project,
			startMs:    startMs,
		})
	})

	g.Go(func() error {
		return runFastLoop(gctx, crankDecoder, sched, state)
	})

	log.Printf("ecmcore: running (edge source=%s)", flags.EdgeSource)
	return g.Wait()
}

// runFastLoop pins its goroutine's OS thread and raises its scheduling
// priority before entering the tight angle-domain poll loop, the same
// "claim a whole OS thread for the time-critical path" discipline a
// bare-metal ECU gets from running on dedicated hardware.
func runFastLoop(ctx context.Context, crankDecoder *crank.Decoder, sched *scheduler.Scheduler, state *enginestate.Store) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, fastLoopPriority); err != nil {
		log.Printf("ecmcore: could not raise fast-loop priority: %v", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		snap := state.Load()
		synced := crankDecoder.SyncState() == crank.Synced
		rpm := crankDecoder.RPM()

		if !synced || rpm == 0 {
			sched.Tick(scheduler.Inputs{Synced: false})
			time.Sleep(fastLoopIdleSleep)
			continue
		}

		sched.Tick(scheduler.Inputs{
			RPM:           rpm,
			ToothPosition: crankDecoder.ToothPosition(),
			Synced:        true,
			AdvanceDeg:    snap.SparkAdvanceDeg,
			BasePwUs:      snap.InjPwUs,
			Trim:          snap.InjTrim,
			FuelCut:       snap.FuelCut,
			NowUs:         time.Now().UnixMicro(),
		})
	}
}

type slowLoopConfig struct {
	clock      hal.Clock
	crank      *crank.Decoder
	cam        *cam.Decoder
	layer      *sensor.Layer
	wideband   [2]*wideband.Bank
	compute    *fuelspark.Compute
	arbiter    *limp.Arbiter
	alternator *alternator.Control
	state      *enginestate.Store
	faultHub   *fault.Hub
	publishers []telemetry.Publisher
	project    *config.ProjectConfig
	startMs    int64
}

func runSlowLoop(ctx context.Context, cfg slowLoopConfig) error {
	ticker := time.NewTicker(slowLoopPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			tickOnce(ctx, cfg)
		}
	}
}

func tickOnce(ctx context.Context, cfg slowLoopConfig) {
	nowMs := cfg.clock.NowMicros() / 1000
	rpm := cfg.crank.RPM()
	running := rpm > 0

	phase := sensor.PhaseOff
	switch {
	case !running:
		phase = sensor.PhaseCranking
	default:
		phase = sensor.PhaseRunning
	}

	// FaultRule MAP gating uses the previous tick's published MAP: this
	// tick's MAP slot is only read inside Layer.Tick, after the gate value
	// has been passed in.
	prevSnap := cfg.state.Load()
	celBits, limpBits := cfg.layer.Tick(ctx, phase, running, float32(rpm), prevSnap.MapKpa)
	cfg.cam.Poll(cfg.clock.NowMicros())

	mapKpa, _ := cfg.layer.Value(sensor.NameMAP)
	tpsPct, _ := cfg.layer.Value(sensor.NameTPS)
	cltF, _ := cfg.layer.Value(sensor.NameCLT)
	iatF, _ := cfg.layer.Value(sensor.NameIAT)
	vbatV, hasVbat := cfg.layer.Value(sensor.NameVBAT)
	if !hasVbat {
		vbatV = defaultVbatV
	}
	oilPsi, hasOil := cfg.layer.Value(sensor.NameOilPsi)

	var bankAFR [2]float32
	var bankReady [2]bool
	var bankError [2]bool
	for i, bank := range cfg.wideband {
		if cfg.project.WidebandEnable[i] {
			bank.Tick(ctx, nowMs, vbatV)
			bankAFR[i] = bank.AFR()
			bankReady[i] = bank.Ready()
			bankError[i] = bank.State() == wideband.Error
		}
	}

	cfg.alternator.Update(vbatV, float32(slowLoopPeriod.Seconds()))

	out := cfg.compute.Tick(fuelspark.Inputs{
		Cranking:  !running,
		Running:   running,
		RPM:       float32(rpm),
		MapKpa:    mapKpa,
		TpsPct:    tpsPct,
		CltF:      cltF,
		BankAFR:   bankAFR,
		BankReady: bankReady,
		DtMs:      float32(slowLoopPeriod.Milliseconds()),
	})

	limpOut := cfg.arbiter.Tick(limp.Inputs{
		SensorLimpBits:   limpBits,
		ExpanderHealthy:  true,
		WidebandError:    bankError,
		OilPressureLow:   hasOil && oilPsi < cfg.project.LimpMinOilPsi,
		Running:          running,
		RunningElapsedMs: nowMs - cfg.startMs,
	}, nowMs)

	advanceDeg := out.SparkAdvanceDeg
	if limpOut.HasAdvanceCap && advanceDeg > limpOut.AdvanceCap {
		advanceDeg = limpOut.AdvanceCap
	}

	snap := enginestate.Snapshot{
		RPM:             rpm,
		ToothPosition:   cfg.crank.ToothPosition(),
		MapKpa:          mapKpa,
		TpsPct:          tpsPct,
		CltF:            cltF,
		IatF:            iatF,
		VbatV:           vbatV,
		OilPsi:          oilPsi,
		AFR:             bankAFR,
		O2Ready:         bankReady,
		TargetAFR:       out.TargetAFR,
		SparkAdvanceDeg: advanceDeg,
		InjPwUs:         out.InjPwUs,
		Running:         running,
		Cranking:        !running,
		SequentialMode:  cfg.project.Sequential,
		LimpMode:        limpOut.LimpMode,
		FuelCut:         out.FuelCut,
		FaultBits:       limpOut.FaultBits | celBits,
	}
	cfg.state.Publish(snap)

	if limpOut.LimpMode && !prevSnap.LimpMode {
		cfg.faultHub.Broadcast(&fault.Event{Name: "limp_mode", Message: "entered limp mode", Active: true})
	} else if !limpOut.LimpMode && prevSnap.LimpMode {
		cfg.faultHub.Broadcast(&fault.Event{Name: "limp_mode", Message: "exited limp mode", Active: false})
	}

	sample := telemetry.Sample{Stamp: time.Now().UnixMilli(), Snapshot: snap}
	for _, pub := range cfg.publishers {
		if err := pub.Publish(ctx, sample); err != nil {
			log.Printf("ecmcore: telemetry publish error: %v", err)
		}
	}
}

func descriptorPointers(descs []sensor.Descriptor) []*sensor.Descriptor {
	out := make([]*sensor.Descriptor, len(descs))
	for i := range descs {
		out[i] = &descs[i]
	}
	return out
}

func rulePointers(rules []sensor.Rule) []*sensor.Rule {
	out := make([]*sensor.Rule, len(rules))
	for i := range rules {
		out[i] = &rules[i]
	}
	return out
}

func tuneTablesToFuelSparkTables(t config.TuneTables) fuelspark.Tables {
	return fuelspark.Tables{VE: t.VE, AFR: t.AFR, Spark: t.Spark}
}

func fuelSparkParams(p *config.ProjectConfig) fuelspark.Params {
	reqFuelMs := (p.DisplacementCc / float32(p.Cylinders)) / p.InjectorFlowCcMin * 60000
	return fuelspark.Params{
		ReqFuelMs:        reqFuelMs,
		AseInitialPct:    p.AseInitialPct,
		AseDurationMs:    p.AseDurationMs,
		AseMinCltF:       p.AseMinCltF,
		ClosedMinRPM:     p.ClosedLoopMinRPM,
		ClosedMaxRPM:     p.ClosedLoopMaxRPM,
		ClosedMaxMAP:     p.ClosedLoopMaxMAP,
		ClosedKp:         p.ClosedLoopKp,
		ClosedKi:         p.ClosedLoopKi,
		DfcoRPM:          p.DfcoRPM,
		DfcoTPS:          p.DfcoTPS,
		DfcoEntryDelayMs: p.DfcoEntryDelayMs,
		DfcoExitRPM:      p.DfcoExitRPM,
		DfcoExitTPS:      p.DfcoExitTPS,
	}
}

func limpParams(p *config.ProjectConfig) limp.Params {
	return limp.Params{
		NormalRevLimit:    p.RevLimit,
		LimpRevLimit:      p.LimpRevLimit,
		LimpAdvanceCap:    p.LimpAdvanceCap,
		LimpRecoveryMs:    p.LimpRecoveryMs,
		OilStartupDelayMs: p.OilStartupDelayMs,
	}
}

func schedulerParams(p *config.ProjectConfig) scheduler.Params {
	sp := scheduler.Params{
		Cylinders:   p.Cylinders,
		FiringOrder: p.FiringOrder,
		TotalTeeth:  p.TotalTeeth,
		DwellMs:     3,
		MaxDwellMs:  p.MaxDwellMs,
		DeadTimeUs:  p.InjectorDeadTimeUs,
		RevLimit:    p.RevLimit,
		Sequential:  p.Sequential,
	}
	sp.CoilPins = p.Pins.CoilPins
	sp.InjectorPins = p.Pins.InjectorPins
	return sp
}
