// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads engine configuration from the environment.
package config

import (
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/mstrand/syncbox/internal/homedir"
)

// Config holds process-wide settings.  Per-account state (tokens,
// cursors) lives in the store and token directory, not here.
type Config struct {
	DatabasePath string `env:"SYNCBOX_DB_PATH"`
	TokenDir     string `env:"SYNCBOX_TOKEN_DIR"`

	OAuthClientID     string `env:"SYNCBOX_OAUTH_CLIENT_ID"`
	OAuthClientSecret string `env:"SYNCBOX_OAUTH_CLIENT_SECRET"`

	// MaxResults bounds a full mail sync pass.
	MaxResults int `env:"SYNCBOX_MAX_RESULTS" envDefault:"500"`

	LogLevel  string `env:"SYNCBOX_LOG_LEVEL" envDefault:"info"`
	HTTPTrace bool   `env:"SYNCBOX_HTTP_TRACE" envDefault:"false"`
}

// Load reads configuration from the environment, consulting a .env
// file when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.Wrap(err, "parsing environment")
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(homedir.Get(), ".syncbox.db")
	}
	if cfg.TokenDir == "" {
		cfg.TokenDir = filepath.Join(homedir.Get(), ".syncbox", "tokens")
	}
	return cfg, nil
}
