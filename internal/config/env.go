// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const namespace = "TASKDOCK"

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".taskdock/data"`
	LogsDir string `envconfig:"LOGS_DIR" default:".taskdock/logs"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"taskdock/"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
}

type ExecEnv struct {
	// StopGrace is how long a run gets to exit after a graceful stop signal
	// before it is killed.
	StopGrace time.Duration `envconfig:"STOP_GRACE" default:"10s"`
	// Providers maps a provider name to the command launched for it,
	// e.g. TASKDOCK_PROVIDERS="claude:claude --print,codex:codex exec".
	Providers map[string]string `envconfig:"PROVIDERS"`
}

type PushEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDSubject    string `envconfig:"VAPID_SUBJECT" default:"mailto:ops@localhost"`
}

type Env struct {
	BaseEnv
	StorageEnv
	ExecEnv
	PushEnv
}

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}
