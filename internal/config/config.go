// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.


// Package config provides configuration loading and management for radnorm.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/logging"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/mad"
	"github.com/ec-coresyf/coresyf-toolkit-sub000/internal/radcal"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Logging destination, file and level
	Logging logging.Options `yaml:"logging"`

	// Processing parameters
	Processing struct {
		// MemoryMB caps the memory used for block reads, 0 for 70% of physical memory
		MemoryMB int `yaml:"memoryMB"`

		// WorkDir receives the PIF file if no explicit name is given
		WorkDir string `yaml:"workDir"`
	} `yaml:"processing"`

	// IR-MAD parameters
	IRMAD struct {
		mad.Options `yaml:",inline"`

		// Quicklook writes a colour-coded change map next to the PIF file
		Quicklook bool `yaml:"quicklook"`
	} `yaml:"irmad"`

	// Radiometric calibration parameters
	RadCal radcal.Options `yaml:"radcal"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Logging.Destination = logging.DestStream
	cfg.Logging.Level = "info"

	cfg.Processing.MemoryMB = 0
	cfg.Processing.WorkDir = "."

	cfg.IRMAD.Options = mad.DefaultOptions()
	cfg.IRMAD.Quicklook = false

	cfg.RadCal = radcal.DefaultOptions()
	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file %s", configPath)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks all sections for consistency
func (cfg *Config) Validate() error {
	switch cfg.Logging.Destination {
	case "", logging.DestStream:
	case logging.DestFile, logging.DestBoth:
		if cfg.Logging.File == "" {
			return errors.Errorf("log destination '%s' needs a log file name", cfg.Logging.Destination)
		}
	default:
		return errors.Errorf("unknown log destination '%s'", cfg.Logging.Destination)
	}
	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	if cfg.Processing.MemoryMB < 0 {
		return errors.Errorf("negative memory limit %d MB", cfg.Processing.MemoryMB)
	}
	if err := cfg.IRMAD.Options.Validate(); err != nil {
		return errors.Wrap(err, "irmad")
	}
	if err := cfg.RadCal.Validate(); err != nil {
		return errors.Wrap(err, "radcal")
	}
	return nil
}
