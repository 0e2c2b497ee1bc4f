// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads the dumppe configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"

	"github.com/dblohm7/pestruct/internal/logging"
	"github.com/dblohm7/pestruct/pe"
	"github.com/dblohm7/pestruct/schema"
)

// Output formats.
const (
	FormatText = "text"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Color modes.
const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the dumppe configuration.
type Config struct {
	LogLevel        string `yaml:"log_level"`
	Format          string `yaml:"format"`
	Color           string `yaml:"color"`
	Lazy            bool   `yaml:"lazy"`
	MaxArrayLength  int    `yaml:"max_array_length"`
	MaxPointerDepth int    `yaml:"max_pointer_depth"`
	MaxNodes        int    `yaml:"max_nodes"`
	StrictAddresses bool   `yaml:"strict_addresses"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	opts := schema.DefaultOptions()
	return &Config{
		LogLevel:        "info",
		Format:          FormatText,
		Color:           ColorAuto,
		MaxArrayLength:  opts.MaxArrayLength,
		MaxPointerDepth: opts.MaxPointerDepth,
		MaxNodes:        opts.MaxNodes,
	}
}

// Load returns the defaults overlaid with the YAML file at path. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.merge(data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge decodes data over c; keys absent from data keep their value.
func (c *Config) merge(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks enumerated fields and limits.
func (c *Config) Validate() error {
	if !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	switch c.Format {
	case FormatText, FormatYAML, FormatJSON:
	default:
		return fmt.Errorf("%w: format %q", ErrInvalid, c.Format)
	}
	switch c.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf("%w: color %q", ErrInvalid, c.Color)
	}
	if c.MaxArrayLength < 0 {
		return fmt.Errorf("%w: max_array_length %d", ErrInvalid, c.MaxArrayLength)
	}
	if c.MaxPointerDepth < 0 {
		return fmt.Errorf("%w: max_pointer_depth %d", ErrInvalid, c.MaxPointerDepth)
	}
	if c.MaxNodes < 0 {
		return fmt.Errorf("%w: max_nodes %d", ErrInvalid, c.MaxNodes)
	}
	return nil
}

// ImageConfig maps c onto the decoder settings, logging through logger.
func (c *Config) ImageConfig(logger *log.Logger) pe.Config {
	return pe.Config{
		StrictAddresses: c.StrictAddresses,
		Decode: schema.Options{
			Lazy:            c.Lazy,
			MaxArrayLength:  c.MaxArrayLength,
			MaxPointerDepth: c.MaxPointerDepth,
			MaxNodes:        c.MaxNodes,
			Logger:          logger,
		},
	}
}

// ToYAML serializes c.
func (c *Config) ToYAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close encoder: %w", err)
	}
	return buf.Bytes(), nil
}
