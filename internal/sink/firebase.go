package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"
	"google.golang.org/api/option"
)

// FirebaseConfig configures the Realtime Database client
type FirebaseConfig struct {
	DatabaseURL     string
	CredentialsFile string        // service account JSON; empty uses application default credentials
	Timeout         time.Duration // per-operation bound
}

// Firebase is a Store backed by a Firebase Realtime Database
type Firebase struct {
	client  *db.Client
	timeout time.Duration
}

// NewFirebase connects to the Realtime Database at cfg.DatabaseURL
func NewFirebase(ctx context.Context, cfg FirebaseConfig) (*Firebase, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: cfg.DatabaseURL}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create database client: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	slog.Info("firebase sink connected",
		"database_url", cfg.DatabaseURL,
		"timeout", cfg.Timeout,
	)

	return &Firebase{client: client, timeout: cfg.Timeout}, nil
}

func (f *Firebase) Get(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var raw json.RawMessage
	if err := f.client.NewRef(path).Get(ctx, &raw); err != nil {
		return fmt.Errorf("firebase get %s: %w", path, err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return json.Unmarshal(raw, v)
}

func (f *Firebase) Set(ctx context.Context, path string, v any) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.client.NewRef(path).Set(ctx, v); err != nil {
		return fmt.Errorf("firebase set %s: %w", path, err)
	}
	return nil
}

func (f *Firebase) Update(ctx context.Context, path string, fields map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.client.NewRef(path).Update(ctx, fields); err != nil {
		return fmt.Errorf("firebase update %s: %w", path, err)
	}
	return nil
}

func (f *Firebase) Push(ctx context.Context, path string, v any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	ref, err := f.client.NewRef(path).Push(ctx, v)
	if err != nil {
		return "", fmt.Errorf("firebase push %s: %w", path, err)
	}
	return ref.Key, nil
}

// Close is a no-op: the database client holds no persistent connection.
func (f *Firebase) Close() error { return nil }
