// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package config loads the dsched client configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
)

// Config holds the operating parameters for one scheduling session.
type Config struct {
	// Address of the simulation server, host:port.
	Address string

	// Identity sent in the AUTH message.
	Identity string

	// CatalogPath is the server-type catalog (ds-system.xml)
	// location.
	CatalogPath string

	// CostBias is the tie-breaker weight applied to a server
	// type's hourly rate when ranking candidates. Smaller is
	// gentler.
	CostBias float64

	// DefaultBootPenalty is charged against servers that are not
	// ready to run when their type is missing from the catalog.
	DefaultBootPenalty Duration

	LogLevel  string
	LogFormat string

	// MetricsAddress, if non-empty, is a host:port to serve
	// prometheus metrics on while the session runs.
	MetricsAddress string
}

// Default returns the configuration used when no config file entry
// overrides it.
func Default() *Config {
	return &Config{
		Address:            "localhost:50000",
		Identity:           "eftplus",
		CatalogPath:        "ds-system.xml",
		CostBias:           0.0001,
		DefaultBootPenalty: Duration(80 * time.Second),
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load returns the default configuration with the YAML file at path
// (if any) overlaid on top.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	err = yaml.Unmarshal(buf, cfg)
	if err != nil {
		return nil, fmt.Errorf("error decoding config %q: %s", path, err)
	}
	return cfg, nil
}
