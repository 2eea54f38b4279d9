// Package wire implements the ASCII line protocol spoken over the serial link
// to the embedded actuator controller.
//
// Outbound command lines are `;`-separated key:value pairs terminated by a
// newline. Floats carry exactly three decimal places, angles are rounded to
// whole degrees and booleans render lowercase. Encoding is deterministic:
// identical intents yield byte-identical lines.
package wire

import (
	"fmt"
	"math"
	"strings"
)

// Intent is a command intent that can be rendered as one wire line.
type Intent interface {
	Encode() string
}

// WaterIntent is the WATER command: aim and water at the current offsets.
// During scan ticks Found is false and Sweep carries the seconds left before
// the scan deadline as a hint to the firmware sweep routine.
type WaterIntent struct {
	Found bool
	DX    float64 // horizontal offset, meters
	DZ    float64 // depth offset, meters
	Pitch float64 // degrees, rounded to int on the wire

	// Sweep is the remaining-scan-seconds hint; emitted only if HasSweep.
	Sweep    float64
	HasSweep bool
}

// Encode renders the WATER line. WATER lines always end ";\n".
func (w WaterIntent) Encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "cmd:WATER;found:%t;dx:%.3f;dz:%.3f;pitch:%d;",
		w.Found, w.DX, w.DZ, roundInt(w.Pitch))
	if w.HasSweep {
		fmt.Fprintf(&b, "sweep:%d;", roundInt(w.Sweep))
	}
	b.WriteByte('\n')
	return b.String()
}

// TrackIntent is the TRACK command: report target alignment state for one
// marker id, optionally triggering the shoot routine.
type TrackIntent struct {
	TargetID int
	Found    bool
	DX       float64 // horizontal offset, meters
	Pitch    float64 // degrees, rounded to int on the wire
	Shoot    bool
}

// Encode renders the TRACK line (no trailing semicolon).
func (t TrackIntent) Encode() string {
	return fmt.Sprintf("cmd:TRACK;id:%d;found:%t;dx:%.3f;pitch:%d;shoot:%t\n",
		t.TargetID, t.Found, t.DX, roundInt(t.Pitch), t.Shoot)
}

// roundInt rounds a value carried as a whole number on the wire: degrees for
// pitch, seconds for the sweep hint.
func roundInt(v float64) int {
	return int(math.Round(v))
}
