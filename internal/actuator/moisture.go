package actuator

import (
	"context"
	"time"

	"github.com/planthopper/planthopper/internal/monitoring"
	"github.com/planthopper/planthopper/internal/wire"
)

// MoistureHandler receives normalized soil-moisture readings as they arrive
// from the firmware.
type MoistureHandler func(reading wire.Moisture, at time.Time)

// MoistureMonitor consumes inbound telemetry lines from a Link and forwards
// parsed MOISTURE reports to a handler. Non-moisture lines are ignored.
type MoistureMonitor struct {
	link    *Link
	handler MoistureHandler
}

// NewMoistureMonitor wires a handler to a link.
func NewMoistureMonitor(link *Link, handler MoistureHandler) *MoistureMonitor {
	return &MoistureMonitor{link: link, handler: handler}
}

// Run subscribes to the link and processes lines until the context is
// cancelled or the subscription closes. The link's Monitor loop must be
// running for lines to arrive.
func (m *MoistureMonitor) Run(ctx context.Context) error {
	id, ch := m.link.Subscribe()
	defer m.link.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-ch:
			if !ok {
				return nil
			}
			reading, ok := wire.ParseMoisture(line)
			if !ok {
				continue
			}
			monitoring.Logf("moisture: sensor %s at %.1f%%", reading.SensorID, reading.Fraction*100)
			if m.handler != nil {
				m.handler(reading, time.Now())
			}
		}
	}
}
