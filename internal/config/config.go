package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coopd configuration
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	LockFile string         `yaml:"lock_file"`
	Health   HealthConfig   `yaml:"health"`
	Vision   VisionConfig   `yaml:"vision"`
	Capture  CaptureConfig  `yaml:"capture"`
	Detector DetectorConfig `yaml:"detector"`
	Relay    RelayConfig    `yaml:"relay"`
	Control  ControlConfig  `yaml:"control"`
	Hardware HardwareConfig `yaml:"hardware"`
	Sink     SinkConfig     `yaml:"sink"`
	NetCheck NetCheckConfig `yaml:"netcheck"`
}

// DeviceConfig identifies this device in the data sink
type DeviceConfig struct {
	UserID   string `yaml:"user_id"`
	DeviceID string `yaml:"device_id"`
	Timezone string `yaml:"timezone"` // IANA name, default "Local"
}

// HealthConfig contains the HTTP health server settings
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"`
}

// VisionConfig contains vision worker settings
type VisionConfig struct {
	Width             int           `yaml:"width"`
	Height            int           `yaml:"height"`
	Confidence        float64       `yaml:"confidence"`
	Classes           []string      `yaml:"classes"`
	TargetClass       string        `yaml:"target_class"` // counted as chickens, everything else is an intruder
	RetryBackoff      Duration      `yaml:"retry_backoff"`
	MaxDetectorErrors int           `yaml:"max_detector_errors"`
	Preview           PreviewConfig `yaml:"preview"`
}

// PreviewConfig controls the local annotated preview
type PreviewConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`         // JPEG snapshot rewritten on every frame while visible
	Keys        bool   `yaml:"keys"`         // read w/c from the terminal to show/hide
	JPEGQuality int    `yaml:"jpeg_quality"` // 1-100
}

// CaptureConfig selects and configures the camera source
type CaptureConfig struct {
	Driver    string `yaml:"driver"` // sim, gst
	Device    string `yaml:"device"` // v4l2 device for gst
	Pipeline  string `yaml:"pipeline,omitempty"`
	Width     int    `yaml:"width"`
	Height    int    `yaml:"height"`
	FPS       int    `yaml:"fps"`
	FailAfter int    `yaml:"fail_after,omitempty"` // sim only: report the camera gone after N frames
}

// DetectorConfig selects and configures the object detector
type DetectorConfig struct {
	Driver    string   `yaml:"driver"` // sim, subprocess
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	ModelPath string   `yaml:"model_path"`
	Timeout   Duration `yaml:"timeout"`
}

// RelayConfig contains relay worker settings
type RelayConfig struct {
	JPEGQuality  int      `yaml:"jpeg_quality"`
	IdleInterval Duration `yaml:"idle_interval"` // sleep while live streaming is off
	PollInterval Duration `yaml:"poll_interval"` // sleep when the mailbox is empty
}

// ControlConfig contains control worker settings
type ControlConfig struct {
	TickInterval       Duration       `yaml:"tick_interval"`
	RemoteRefresh      Duration       `yaml:"remote_refresh"`
	PublishInterval    Duration       `yaml:"publish_interval"`
	DispenseDuration   Duration       `yaml:"dispense_duration"`
	ScheduleCooldown   Duration       `yaml:"schedule_cooldown"`
	AppButtonFreshness Duration       `yaml:"app_button_freshness"`
	MaxRefillLevel     float64        `yaml:"max_refill_level"`
	Level              LevelConfig    `yaml:"level"`
	Defaults           ControlDefault `yaml:"defaults"`
}

// LevelConfig maps ultrasonic distance readings to fill percent
type LevelConfig struct {
	FullDistanceCM  float64 `yaml:"full_distance_cm"`
	EmptyDistanceCM float64 `yaml:"empty_distance_cm"`
}

// ControlDefault holds the settings used until the data sink provides its own
type ControlDefault struct {
	FeedThreshold         float64 `yaml:"feed_threshold"`
	WaterThreshold        float64 `yaml:"water_threshold"`
	DispenseVolumePercent float64 `yaml:"dispense_volume_percent"`
	AutoRefillEnabled     bool    `yaml:"auto_refill_enabled"`
	AutoRefillThreshold   float64 `yaml:"auto_refill_threshold"`
}

// HardwareConfig selects the sensor/actuator backend
type HardwareConfig struct {
	Driver string       `yaml:"driver"` // sim, modbus
	Modbus ModbusConfig `yaml:"modbus"`
	Sim    SimConfig    `yaml:"sim"`
}

// ModbusConfig describes a Modbus TCP remote I/O module
type ModbusConfig struct {
	Address          string   `yaml:"address"`
	SlaveID          byte     `yaml:"slave_id"`
	Timeout          Duration `yaml:"timeout"`
	FeedLevelReg     uint16   `yaml:"feed_level_register"`
	WaterLevelReg    uint16   `yaml:"water_level_register"`
	DistanceScale    float64  `yaml:"distance_scale"` // register units to centimeters
	FeedButtonInput  uint16   `yaml:"feed_button_input"`
	WaterButtonInput uint16   `yaml:"water_button_input"`
	FeedCoil         uint16   `yaml:"feed_coil"`
	WaterCoil        uint16   `yaml:"water_coil"`
	MaxFailures      int      `yaml:"max_failures"` // consecutive failures before the board counts as gone
}

// SimConfig seeds the simulated board
type SimConfig struct {
	FeedDistanceCM  float64 `yaml:"feed_distance_cm"`
	WaterDistanceCM float64 `yaml:"water_distance_cm"`
	FillRateCM      float64 `yaml:"fill_rate_cm"`  // water distance decrease per read while refilling
	DrainRateCM     float64 `yaml:"drain_rate_cm"` // feed distance increase per read while dispensing
}

// SinkConfig selects the remote data sink
type SinkConfig struct {
	Driver   string         `yaml:"driver"` // memory, firebase, mqtt
	Timeout  Duration       `yaml:"timeout"`
	Firebase FirebaseConfig `yaml:"firebase"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
}

// FirebaseConfig contains Realtime Database settings
type FirebaseConfig struct {
	DatabaseURL     string `yaml:"database_url"`
	CredentialsFile string `yaml:"credentials_file"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// NetCheckConfig contains connectivity probe settings
type NetCheckConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Address  string   `yaml:"address"`
	Interval Duration `yaml:"interval"`
	Timeout  Duration `yaml:"timeout"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration that runs fully simulated.
// Booleans whose default is true live here because Validate cannot tell
// "unset" from "false".
func Default() *Config {
	return &Config{
		Health: HealthConfig{Enabled: true},
		Vision: VisionConfig{
			Preview: PreviewConfig{Keys: true},
		},
		Control: ControlConfig{
			Defaults: ControlDefault{AutoRefillEnabled: true},
		},
		NetCheck: NetCheckConfig{Enabled: true},
	}
}

// Location resolves the device timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Device.Timezone == "" || c.Device.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Device.Timezone)
}
