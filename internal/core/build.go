package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/e7canasta/coop-sensor/internal/capture"
	"github.com/e7canasta/coop-sensor/internal/config"
	"github.com/e7canasta/coop-sensor/internal/detector"
	"github.com/e7canasta/coop-sensor/internal/hardware"
	"github.com/e7canasta/coop-sensor/internal/sink"
)

// newStore connects the configured data sink
func newStore(ctx context.Context, cfg config.SinkConfig) (sink.Store, error) {
	switch cfg.Driver {
	case "memory":
		slog.Warn("using in-memory data sink, nothing leaves this process")
		return sink.NewMemory(), nil

	case "firebase":
		store, err := sink.NewFirebase(ctx, sink.FirebaseConfig{
			DatabaseURL:     cfg.Firebase.DatabaseURL,
			CredentialsFile: cfg.Firebase.CredentialsFile,
			Timeout:         cfg.Timeout.D(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect firebase: %w", err)
		}
		return store, nil

	case "mqtt":
		store := sink.NewMQTT(sink.MQTTConfig{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Timeout:     cfg.Timeout.D(),
		})
		if err := store.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown sink driver %q", cfg.Driver)
}

// newBoard opens the configured sensor/actuator backend
func newBoard(cfg config.HardwareConfig) (*hardware.Board, error) {
	switch cfg.Driver {
	case "sim":
		sim := hardware.NewSimBoard(hardware.SimConfig{
			FeedDistanceCM:  cfg.Sim.FeedDistanceCM,
			WaterDistanceCM: cfg.Sim.WaterDistanceCM,
			FillRateCM:      cfg.Sim.FillRateCM,
			DrainRateCM:     cfg.Sim.DrainRateCM,
		})
		return &sim.Board, nil

	case "modbus":
		m := cfg.Modbus
		board, err := hardware.NewModbusBoard(hardware.ModbusConfig{
			Address:          m.Address,
			SlaveID:          m.SlaveID,
			Timeout:          m.Timeout.D(),
			FeedLevelReg:     m.FeedLevelReg,
			WaterLevelReg:    m.WaterLevelReg,
			DistanceScale:    m.DistanceScale,
			FeedButtonInput:  m.FeedButtonInput,
			WaterButtonInput: m.WaterButtonInput,
			FeedCoil:         m.FeedCoil,
			WaterCoil:        m.WaterCoil,
			MaxFailures:      m.MaxFailures,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open modbus board: %w", err)
		}
		return board, nil
	}
	return nil, fmt.Errorf("unknown hardware driver %q", cfg.Driver)
}

// newSource opens the configured camera
func newSource(cfg config.CaptureConfig) (capture.Source, error) {
	switch cfg.Driver {
	case "sim":
		return capture.NewSim(capture.SimConfig{
			Width:     cfg.Width,
			Height:    cfg.Height,
			FPS:       cfg.FPS,
			FailAfter: cfg.FailAfter,
		}), nil

	case "gst":
		src, err := capture.NewGst(capture.GstConfig{
			Device:   cfg.Device,
			Pipeline: cfg.Pipeline,
			Width:    cfg.Width,
			Height:   cfg.Height,
			FPS:      cfg.FPS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open camera: %w", err)
		}
		return src, nil
	}
	return nil, fmt.Errorf("unknown capture driver %q", cfg.Driver)
}

// newDetector starts the configured detector
func newDetector(cfg config.DetectorConfig) (detector.Detector, error) {
	switch cfg.Driver {
	case "sim":
		return detector.NewSim(detector.SimConfig{MaxObjects: 4, IntruderEvery: 25}), nil

	case "subprocess":
		det, err := detector.NewSubprocess(detector.SubprocessConfig{
			Command:   cfg.Command,
			Args:      cfg.Args,
			ModelPath: cfg.ModelPath,
			Timeout:   cfg.Timeout.D(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to start detector: %w", err)
		}
		return det, nil
	}
	return nil, fmt.Errorf("unknown detector driver %q", cfg.Driver)
}
