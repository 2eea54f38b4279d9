package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/planthopper/planthopper/internal/actuator"
	"github.com/planthopper/planthopper/internal/config"
	"github.com/planthopper/planthopper/internal/control"
	"github.com/planthopper/planthopper/internal/detection"
	"github.com/planthopper/planthopper/internal/pipeline"
	"github.com/planthopper/planthopper/internal/pose"
	"github.com/planthopper/planthopper/internal/requestbus"
	"github.com/planthopper/planthopper/internal/resultdb"
	"github.com/planthopper/planthopper/internal/wire"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode with a simulated actuator and detector")
	configPath = flag.String("config", "", "Path to JSON config file (defaults apply when omitted)")
	serialPort = flag.String("port", "", "Serial port to use (overrides config; ignored in dev mode)")
	waterPlant = flag.String("water", "", "Water one plant by id (e.g. plant2) and exit")
	trackPlant = flag.String("track", "", "Stream TRACK alignment reports for one plant and exit")
)

// devTelemetry is what the simulated actuator board reports.
var devTelemetry = []string{
	"cmd:MOISTURE;id:plant1;percent:34.5",
	"cmd:MOISTURE;id:plant2;percent:61.2",
	"cmd:MOISTURE;id:plant3;percent:12.0",
}

func main() {
	flag.Parse()

	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	var port actuator.Porter
	if *devMode {
		port = actuator.NewScriptedMockPort(devTelemetry, time.Second)
	} else {
		path := cfg.GetSerialPort()
		if *serialPort != "" {
			path = *serialPort
		}
		var err error
		port, err = actuator.OpenPort(path, cfg.GetPortOptions())
		if err != nil {
			log.Fatalf("failed to open serial port %s: %v", path, err)
		}
		log.Printf("opened actuator port %s", path)
	}

	link := actuator.NewLink(port)
	defer link.Close()

	rdb, err := resultdb.Open(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("failed to open result database: %v", err)
	}
	defer rdb.Close()

	intr := cfg.GetIntrinsics()

	var storeOpts []detection.Option
	if maxAge := cfg.GetSnapshotMaxAge(); maxAge > 0 {
		storeOpts = append(storeOpts, detection.WithMaxAge(maxAge))
	}
	store := detection.NewStore(storeOpts...)

	var source pipeline.CornerSource
	if *devMode {
		source = pipeline.NewPlantFixture(1, intr, cfg.GetTagEdge(), 0.8, 100*time.Millisecond)
	} else {
		udp, err := pipeline.ListenUDP(cfg.GetDetectionListenAddr())
		if err != nil {
			log.Fatalf("failed to open detection listener: %v", err)
		}
		defer udp.Close()
		log.Printf("listening for detections on %s", udp.LocalAddr())
		source = udp
	}

	pipe := pipeline.New(source, pose.NewEstimator(cfg.GetTagEdge()), store, intr)

	dispatcher := control.NewDispatcher(store, link, cfg.GetPlantMarkers(), cfg.GetSessionDefaults(),
		control.WithRecorder(rdb))

	moisture := actuator.NewMoistureMonitor(link, func(m wire.Moisture, at time.Time) {
		if err := rdb.RecordMoisture(m.SensorID, m.Fraction, at); err != nil {
			log.Printf("failed to record moisture reading: %v", err)
		}
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := link.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := moisture.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("moisture monitor failed: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := pipe.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("detection pipeline stopped: %v", err)
		}
		log.Print("pipeline routine terminated")
	}()

	if *waterPlant != "" {
		// One-shot mode: run a single session, report, and exit.
		result, err := dispatcher.Dispatch(ctx, control.WaterRequest{PlantID: *waterPlant})
		if err != nil {
			log.Printf("watering %s aborted: %v", *waterPlant, err)
		} else {
			log.Printf("watering %s finished: success=%t reason=%s (session %s)",
				result.PlantID, result.Outcome.Success, result.Outcome.Reason, result.SessionID)
		}
		stop()
		wg.Wait()
		return
	}

	if *trackPlant != "" {
		// One-shot tracking mode: stream alignment reports, then exit.
		markerID, ok := cfg.GetPlantMarkers()[*trackPlant]
		if !ok {
			log.Fatalf("no marker mapping for plant %q", *trackPlant)
		}
		defaults := cfg.GetSessionDefaults()
		tracker := control.NewTracker(control.TrackRequest{
			TargetMarkerID: markerID,
			SendRateHz:     defaults.SendRateHz,
			Duration:       defaults.ScanTimeout,
			AlignTolerance: control.DefaultAlignTolerance,
			DefaultPitch:   defaults.DefaultPitch,
		}, store, link)
		if err := tracker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("tracking %s failed: %v", *trackPlant, err)
		}
		stop()
		wg.Wait()
		return
	}

	if url := cfg.GetNATSURL(); url != "" {
		bus, err := requestbus.Connect(url, cfg.GetRequestSubject(), dispatcher)
		if err != nil {
			log.Fatalf("failed to connect to request bus: %v", err)
		}
		defer bus.Close()

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := bus.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("request bus stopped: %v", err)
			}
		}()
	} else {
		log.Print("request bus disabled (no nats_url configured)")
	}

	<-ctx.Done()
	log.Print("shutting down")
	wg.Wait()
}
