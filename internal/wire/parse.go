package wire

import (
	"strconv"
	"strings"
)

// ParseLine splits a `;`-separated key:value line into a map with lowercased
// keys. Empty segments and segments without a colon are skipped.
func ParseLine(line string) map[string]string {
	kv := make(map[string]string)
	for _, part := range strings.Split(strings.TrimSpace(line), ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		kv[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return kv
}

// Moisture is one inbound soil-moisture telemetry report.
type Moisture struct {
	SensorID string

	// Fraction is the normalized moisture level in [0, 1].
	Fraction float64
}

// ParseMoisture decodes a `cmd:MOISTURE;id:<label>;percent:<float>` line.
// The firmware has reported percent both as 0-1 and as 0-100 across
// revisions; values above 1 are divided by 100.
func ParseMoisture(line string) (Moisture, bool) {
	kv := ParseLine(line)
	if !strings.EqualFold(kv["cmd"], "MOISTURE") {
		return Moisture{}, false
	}

	id := kv["id"]
	raw := kv["percent"]
	if id == "" || raw == "" {
		return Moisture{}, false
	}

	pct, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Moisture{}, false
	}
	if pct > 1 {
		pct /= 100
	}
	return Moisture{SensorID: id, Fraction: pct}, true
}
