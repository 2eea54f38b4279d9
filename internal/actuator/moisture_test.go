package actuator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/planthopper/planthopper/internal/wire"
)

func TestMoistureMonitorForwardsReadings(t *testing.T) {
	port := NewMockPort()
	link := NewLink(port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Monitor(ctx)

	var mu sync.Mutex
	var got []wire.Moisture
	mon := NewMoistureMonitor(link, func(r wire.Moisture, _ time.Time) {
		mu.Lock()
		got = append(got, r)
		mu.Unlock()
	})
	go mon.Run(ctx)

	// Give both subscriber loops a moment to attach before feeding lines.
	time.Sleep(20 * time.Millisecond)

	port.FeedLine("cmd:MOISTURE;id:sensor_1;percent:61.2")
	port.FeedLine("garbage line")
	port.FeedLine("cmd:WATER;found:true;dx:0.000;dz:0.000;pitch:9;")
	port.FeedLine("cmd:MOISTURE;id:sensor_2;percent:0.4")

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("received %d moisture readings, want 2", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got[0].SensorID != "sensor_1" || got[0].Fraction < 0.6119 || got[0].Fraction > 0.6121 {
		t.Errorf("first reading = %+v", got[0])
	}
	if got[1].SensorID != "sensor_2" || got[1].Fraction != 0.4 {
		t.Errorf("second reading = %+v", got[1])
	}
}

func TestMoistureMonitorStopsOnCancel(t *testing.T) {
	link := NewLink(NewMockPort())
	mon := NewMoistureMonitor(link, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mon.Run(ctx) }()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on cancellation")
	}
}
