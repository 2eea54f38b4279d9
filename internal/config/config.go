// Package config loads the runtime configuration. Fields omitted from the
// JSON file fall back to defaults through the Get* accessors, so partial
// configs are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/planthopper/planthopper/internal/actuator"
	"github.com/planthopper/planthopper/internal/control"
	"github.com/planthopper/planthopper/internal/pose"
)

// Config is the root configuration document.
type Config struct {
	// Serial link to the actuator board.
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
	DataBits   *int    `json:"data_bits,omitempty"`
	StopBits   *int    `json:"stop_bits,omitempty"`
	Parity     *string `json:"parity,omitempty"`

	// Camera model and marker geometry.
	FocalX       *float64 `json:"focal_x,omitempty"`
	FocalY       *float64 `json:"focal_y,omitempty"`
	CenterX      *float64 `json:"center_x,omitempty"`
	CenterY      *float64 `json:"center_y,omitempty"`
	TagEdgeMeter *float64 `json:"tag_edge_m,omitempty"`

	// Session defaults.
	SendRateHz   *float64 `json:"send_rate_hz,omitempty"`
	ScanTimeout  *string  `json:"scan_timeout,omitempty"`  // duration string like "10s"
	FireDuration *string  `json:"fire_duration,omitempty"` // duration string like "3s"
	DefaultPitch *float64 `json:"default_pitch,omitempty"`

	// PlantMarkers maps plant ids to marker ids. Omitting it maps
	// plant1..plant5 to markers 1..5.
	PlantMarkers map[string]int `json:"plant_markers,omitempty"`

	// SnapshotMaxAge expires stale detections; empty disables expiry.
	SnapshotMaxAge *string `json:"snapshot_max_age,omitempty"`

	// Ingestion and request surfaces.
	DetectionListenAddr *string `json:"detection_listen_addr,omitempty"`
	NATSURL             *string `json:"nats_url,omitempty"` // empty disables the request bus
	RequestSubject      *string `json:"request_subject,omitempty"`

	// Result database path.
	DBPath *string `json:"db_path,omitempty"`
}

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Load reads and validates a JSON config file.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that set fields hold usable values.
func (c *Config) Validate() error {
	if c.SendRateHz != nil && *c.SendRateHz <= 0 {
		return fmt.Errorf("send_rate_hz must be positive, got %f", *c.SendRateHz)
	}

	for name, v := range map[string]*string{
		"scan_timeout":     c.ScanTimeout,
		"fire_duration":    c.FireDuration,
		"snapshot_max_age": c.SnapshotMaxAge,
	} {
		if v != nil && *v != "" {
			if _, err := time.ParseDuration(*v); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
			}
		}
	}

	if c.TagEdgeMeter != nil && *c.TagEdgeMeter <= 0 {
		return fmt.Errorf("tag_edge_m must be positive, got %f", *c.TagEdgeMeter)
	}

	for plant, marker := range c.PlantMarkers {
		if marker < 0 {
			return fmt.Errorf("plant_markers[%s]: marker id must be non-negative, got %d", plant, marker)
		}
	}

	if _, err := c.GetPortOptions().Normalize(); err != nil {
		return fmt.Errorf("serial options: %w", err)
	}

	return nil
}

// GetSerialPort returns the serial device path.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

// GetPortOptions returns the serial options with unset fields left zero for
// Normalize to default.
func (c *Config) GetPortOptions() actuator.PortOptions {
	var opts actuator.PortOptions
	if c.BaudRate != nil {
		opts.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		opts.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		opts.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		opts.Parity = *c.Parity
	}
	return opts
}

// GetIntrinsics returns the camera model, defaulting to the bench camera
// calibration.
func (c *Config) GetIntrinsics() pose.Intrinsics {
	intr := pose.Intrinsics{Fx: 920, Fy: 920, Cx: 640, Cy: 360}
	if c.FocalX != nil {
		intr.Fx = *c.FocalX
	}
	if c.FocalY != nil {
		intr.Fy = *c.FocalY
	}
	if c.CenterX != nil {
		intr.Cx = *c.CenterX
	}
	if c.CenterY != nil {
		intr.Cy = *c.CenterY
	}
	return intr
}

// GetTagEdge returns the physical marker edge length in meters.
func (c *Config) GetTagEdge() float64 {
	if c.TagEdgeMeter == nil {
		return 0.072
	}
	return *c.TagEdgeMeter
}

// GetSessionDefaults returns the default per-session parameters.
func (c *Config) GetSessionDefaults() control.Request {
	req := control.Request{
		SendRateHz:   10,
		ScanTimeout:  10 * time.Second,
		FireDuration: 3 * time.Second,
		DefaultPitch: 9,
	}
	if c.SendRateHz != nil {
		req.SendRateHz = *c.SendRateHz
	}
	if c.ScanTimeout != nil && *c.ScanTimeout != "" {
		req.ScanTimeout, _ = time.ParseDuration(*c.ScanTimeout)
	}
	if c.FireDuration != nil && *c.FireDuration != "" {
		req.FireDuration, _ = time.ParseDuration(*c.FireDuration)
	}
	if c.DefaultPitch != nil {
		req.DefaultPitch = *c.DefaultPitch
	}
	return req
}

// GetPlantMarkers returns the plant to marker mapping.
func (c *Config) GetPlantMarkers() map[string]int {
	if len(c.PlantMarkers) > 0 {
		out := make(map[string]int, len(c.PlantMarkers))
		for k, v := range c.PlantMarkers {
			out[k] = v
		}
		return out
	}
	return map[string]int{
		"plant1": 1,
		"plant2": 2,
		"plant3": 3,
		"plant4": 4,
		"plant5": 5,
	}
}

// GetSnapshotMaxAge returns the detection expiry window; zero means
// detections never expire.
func (c *Config) GetSnapshotMaxAge() time.Duration {
	if c.SnapshotMaxAge == nil || *c.SnapshotMaxAge == "" {
		return 0
	}
	d, _ := time.ParseDuration(*c.SnapshotMaxAge)
	return d
}

// GetDetectionListenAddr returns the UDP address the detector posts frames to.
func (c *Config) GetDetectionListenAddr() string {
	if c.DetectionListenAddr == nil || *c.DetectionListenAddr == "" {
		return ":5005"
	}
	return *c.DetectionListenAddr
}

// GetNATSURL returns the request bus URL; empty means the bus is disabled.
func (c *Config) GetNATSURL() string {
	if c.NATSURL == nil {
		return ""
	}
	return *c.NATSURL
}

// GetRequestSubject returns the subject watering requests arrive on.
func (c *Config) GetRequestSubject() string {
	if c.RequestSubject == nil || *c.RequestSubject == "" {
		return "planthopper.water"
	}
	return *c.RequestSubject
}

// GetDBPath returns the result database path.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "planthopper.db"
	}
	return *c.DBPath
}
