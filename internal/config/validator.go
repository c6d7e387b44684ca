package config

import (
	"fmt"
	"regexp"
	"time"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// DefaultClasses is the detector label set shipped with the coop model
var DefaultClasses = []string{"cat", "chicken", "dog", "rat", "snake"}

// Validate checks the configuration and fills in defaults.
// It is called once by Load; workers receive an already-valid Config.
func Validate(cfg *Config) error {
	// Device identity
	if cfg.Device.UserID == "" {
		return fmt.Errorf("device.user_id is required")
	}
	if !idPattern.MatchString(cfg.Device.UserID) {
		return fmt.Errorf("device.user_id must match pattern [A-Za-z0-9_-]+")
	}
	if cfg.Device.DeviceID == "" {
		return fmt.Errorf("device.device_id is required")
	}
	if !idPattern.MatchString(cfg.Device.DeviceID) {
		return fmt.Errorf("device.device_id must match pattern [A-Za-z0-9_-]+")
	}
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("device.timezone: %w", err)
	}

	if cfg.LockFile == "" {
		cfg.LockFile = "/tmp/coopd.lock"
	}
	if cfg.Health.Port == "" {
		cfg.Health.Port = "8080"
	}

	if err := validateVision(&cfg.Vision); err != nil {
		return fmt.Errorf("vision: %w", err)
	}
	if err := validateCapture(&cfg.Capture, cfg.Vision); err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	if err := validateDetector(&cfg.Detector); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	validateRelay(&cfg.Relay)
	if err := validateControl(&cfg.Control); err != nil {
		return fmt.Errorf("control: %w", err)
	}
	if err := validateHardware(&cfg.Hardware); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}
	if err := validateSink(&cfg.Sink, cfg.Device); err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	if cfg.NetCheck.Address == "" {
		cfg.NetCheck.Address = "8.8.8.8:53"
	}
	orDefault(&cfg.NetCheck.Interval, 5*time.Second)
	orDefault(&cfg.NetCheck.Timeout, 3*time.Second)

	return nil
}

func validateVision(v *VisionConfig) error {
	if v.Width == 0 {
		v.Width = 640
	}
	if v.Height == 0 {
		v.Height = 480
	}
	if v.Width < 0 || v.Height < 0 {
		return fmt.Errorf("width/height must be > 0, got %dx%d", v.Width, v.Height)
	}
	if v.Confidence == 0 {
		v.Confidence = 0.5
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return fmt.Errorf("confidence must be in (0,1], got %v", v.Confidence)
	}
	if len(v.Classes) == 0 {
		v.Classes = append([]string(nil), DefaultClasses...)
	}
	if v.TargetClass == "" {
		v.TargetClass = "chicken"
	}
	found := false
	for _, c := range v.Classes {
		if c == v.TargetClass {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("target_class %q not in classes %v", v.TargetClass, v.Classes)
	}
	orDefault(&v.RetryBackoff, 500*time.Millisecond)
	if v.MaxDetectorErrors <= 0 {
		v.MaxDetectorErrors = 10
	}
	if v.Preview.Path == "" {
		v.Preview.Path = "preview.jpg"
	}
	if v.Preview.JPEGQuality <= 0 || v.Preview.JPEGQuality > 100 {
		v.Preview.JPEGQuality = 80
	}
	return nil
}

func validateCapture(c *CaptureConfig, v VisionConfig) error {
	if c.Driver == "" {
		c.Driver = "sim"
	}
	switch c.Driver {
	case "sim":
	case "gst":
		if c.Device == "" && c.Pipeline == "" {
			c.Device = "/dev/video0"
		}
	default:
		return fmt.Errorf("unknown driver %q (must be 'sim' or 'gst')", c.Driver)
	}
	if c.Width <= 0 {
		c.Width = v.Width
	}
	if c.Height <= 0 {
		c.Height = v.Height
	}
	if c.FPS <= 0 {
		c.FPS = 10
	}
	return nil
}

func validateDetector(d *DetectorConfig) error {
	if d.Driver == "" {
		d.Driver = "sim"
	}
	switch d.Driver {
	case "sim":
	case "subprocess":
		if d.Command == "" {
			return fmt.Errorf("command is required for the subprocess driver")
		}
	default:
		return fmt.Errorf("unknown driver %q (must be 'sim' or 'subprocess')", d.Driver)
	}
	orDefault(&d.Timeout, 2*time.Second)
	return nil
}

func validateRelay(r *RelayConfig) {
	if r.JPEGQuality <= 0 || r.JPEGQuality > 100 {
		r.JPEGQuality = 70
	}
	orDefault(&r.IdleInterval, 500*time.Millisecond)
	orDefault(&r.PollInterval, 50*time.Millisecond)
}

func validateControl(c *ControlConfig) error {
	orDefault(&c.TickInterval, 100*time.Millisecond)
	orDefault(&c.RemoteRefresh, time.Second)
	orDefault(&c.PublishInterval, time.Second)
	orDefault(&c.DispenseDuration, 5*time.Second)
	orDefault(&c.ScheduleCooldown, 60*time.Second)
	orDefault(&c.AppButtonFreshness, time.Minute)
	if c.ScheduleCooldown.D() < time.Minute {
		return fmt.Errorf("control.schedule_cooldown must be at least 1m, got %s", c.ScheduleCooldown.D())
	}

	if c.MaxRefillLevel == 0 {
		c.MaxRefillLevel = 95
	}
	if c.MaxRefillLevel < 0 || c.MaxRefillLevel > 100 {
		return fmt.Errorf("max_refill_level must be in (0,100], got %v", c.MaxRefillLevel)
	}

	if c.Level.FullDistanceCM == 0 {
		c.Level.FullDistanceCM = 10
	}
	if c.Level.EmptyDistanceCM == 0 {
		c.Level.EmptyDistanceCM = 300
	}
	if c.Level.FullDistanceCM >= c.Level.EmptyDistanceCM {
		return fmt.Errorf("level.full_distance_cm (%v) must be < level.empty_distance_cm (%v)",
			c.Level.FullDistanceCM, c.Level.EmptyDistanceCM)
	}

	d := &c.Defaults
	if d.FeedThreshold == 0 {
		d.FeedThreshold = 20
	}
	if d.WaterThreshold == 0 {
		d.WaterThreshold = 20
	}
	if d.AutoRefillThreshold == 0 {
		d.AutoRefillThreshold = 30
	}
	if d.DispenseVolumePercent == 0 {
		d.DispenseVolumePercent = 100
	}
	if d.AutoRefillThreshold >= c.MaxRefillLevel {
		return fmt.Errorf("defaults.auto_refill_threshold (%v) must be < max_refill_level (%v)",
			d.AutoRefillThreshold, c.MaxRefillLevel)
	}
	return nil
}

func validateHardware(h *HardwareConfig) error {
	if h.Driver == "" {
		h.Driver = "sim"
	}
	switch h.Driver {
	case "sim":
		if h.Sim.FeedDistanceCM == 0 {
			h.Sim.FeedDistanceCM = 60
		}
		if h.Sim.WaterDistanceCM == 0 {
			h.Sim.WaterDistanceCM = 150
		}
		if h.Sim.FillRateCM == 0 {
			h.Sim.FillRateCM = 1
		}
		if h.Sim.DrainRateCM == 0 {
			h.Sim.DrainRateCM = 0.2
		}
	case "modbus":
		if h.Modbus.Address == "" {
			return fmt.Errorf("modbus.address is required for the modbus driver")
		}
		if h.Modbus.SlaveID == 0 {
			h.Modbus.SlaveID = 1
		}
		orDefault(&h.Modbus.Timeout, time.Second)
		if h.Modbus.DistanceScale == 0 {
			h.Modbus.DistanceScale = 0.1
		}
		if h.Modbus.MaxFailures == 0 {
			h.Modbus.MaxFailures = 50
		}
	default:
		return fmt.Errorf("unknown driver %q (must be 'sim' or 'modbus')", h.Driver)
	}
	return nil
}

func validateSink(s *SinkConfig, dev DeviceConfig) error {
	if s.Driver == "" {
		s.Driver = "memory"
	}
	orDefault(&s.Timeout, 5*time.Second)

	switch s.Driver {
	case "memory":
	case "firebase":
		if s.Firebase.DatabaseURL == "" {
			return fmt.Errorf("firebase.database_url is required")
		}
	case "mqtt":
		if s.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required")
		}
		if s.MQTT.ClientID == "" {
			s.MQTT.ClientID = fmt.Sprintf("coopd-%s", dev.DeviceID)
		}
		if s.MQTT.TopicPrefix == "" {
			s.MQTT.TopicPrefix = "coop"
		}
		if s.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
		}
	default:
		return fmt.Errorf("unknown driver %q (must be 'memory', 'firebase' or 'mqtt')", s.Driver)
	}
	return nil
}
