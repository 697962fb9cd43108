// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package config loads the recording configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mp4rec/pkg/effect"
	"mp4rec/pkg/log"
	"mp4rec/pkg/pipeline"
	"mp4rec/pkg/source"
	"mp4rec/pkg/video/encoder"
	"mp4rec/pkg/video/framerate"

	"gopkg.in/yaml.v3"
)

// Encoders.
const (
	EncoderPCM  = "pcm"
	EncoderX264 = "x264"
)

// Defaults.
const (
	DefaultOutput         = "out.mp4"
	DefaultFFmpegBin      = "/usr/bin/ffmpeg"
	DefaultWidth          = 640
	DefaultHeight         = 480
	DefaultStatusInterval = 10 * time.Second
)

// Config is a recording session.
type Config struct {
	Output      string              `yaml:"output"`
	Framerate   framerate.Framerate `yaml:"framerate"`
	BitrateKbps int                 `yaml:"bitrateKbps"`
	Encoder     string              `yaml:"encoder"`
	FFmpegBin   string              `yaml:"ffmpegBin"`

	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Frames int    `yaml:"frames"` // Zero means until interrupted.
	Format string `yaml:"format"`
	Source string `yaml:"source"`
	Input  string `yaml:"input"` // Raw source file, "-" is stdin.
	Effect string `yaml:"effect"`

	// Realtime paces the source at the framerate.
	Realtime bool `yaml:"realtime"`

	QueueSize   int    `yaml:"queueSize"`
	QueuePolicy string `yaml:"queuePolicy"`

	LogDB          string        `yaml:"logDB"`
	LogLevel       string        `yaml:"logLevel"`
	StatusInterval time.Duration `yaml:"statusInterval"`
	Session        string        `yaml:"session"`
}

// Errors.
var (
	ErrPathNotAbsolute = errors.New("path is not absolute")
	ErrUnknownEncoder  = errors.New("unknown encoder")
	ErrInvalidValue    = errors.New("invalid value")
	ErrMissingInput    = errors.New("raw source requires input")
	ErrEffectFormat    = errors.New("effect requires rgb24 format")
)

// Load reads and validates a config file. An empty
// path returns the default config.
func Load(path string) (*Config, error) {
	if path == "" {
		c := &Config{}
		if err := c.FillDefaults(); err != nil {
			return nil, err
		}
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", path, err)
	}
	return c, nil
}

// Parse unmarshals, fills defaults and validates.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.FillDefaults(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// FillDefaults sets unset fields and makes paths absolute.
func (c *Config) FillDefaults() error {
	if c.Output == "" {
		c.Output = DefaultOutput
	}
	if !c.Framerate.Valid() {
		c.Framerate = framerate.Thirty
	}
	if c.BitrateKbps == 0 {
		c.BitrateKbps = encoder.DefaultBitrateKbps
	}
	if c.Encoder == "" {
		c.Encoder = EncoderPCM
	}
	if c.FFmpegBin == "" {
		c.FFmpegBin = DefaultFFmpegBin
	}
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Height == 0 {
		c.Height = DefaultHeight
	}
	if c.Format == "" {
		c.Format = encoder.RGB24.String()
	}
	if c.Source == "" {
		c.Source = source.KindPattern.String()
	}
	if c.Effect == "" {
		c.Effect = effect.Passthrough.String()
	}
	if c.QueueSize == 0 {
		c.QueueSize = pipeline.DefaultQueueSize
	}
	if c.QueuePolicy == "" {
		c.QueuePolicy = pipeline.DropOldest.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = log.LevelInfo.String()
	}
	if c.StatusInterval == 0 {
		c.StatusInterval = DefaultStatusInterval
	}

	var err error
	if c.Output, err = filepath.Abs(c.Output); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if c.LogDB != "" {
		if c.LogDB, err = filepath.Abs(c.LogDB); err != nil {
			return fmt.Errorf("logDB: %w", err)
		}
	}
	if c.Input != "" && c.Input != "-" {
		if c.Input, err = filepath.Abs(c.Input); err != nil {
			return fmt.Errorf("input: %w", err)
		}
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error { //nolint:funlen
	if !c.Framerate.Valid() {
		return fmt.Errorf("framerate: %w", framerate.ErrInvalid)
	}
	if c.BitrateKbps < 0 {
		return fmt.Errorf("bitrateKbps %d: %w", c.BitrateKbps, ErrInvalidValue)
	}

	switch c.Encoder {
	case EncoderPCM:
	case EncoderX264:
		if !filepath.IsAbs(c.FFmpegBin) {
			return fmt.Errorf("ffmpegBin '%v': %w", c.FFmpegBin, ErrPathNotAbsolute)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEncoder, c.Encoder)
	}

	if err := (encoder.Config{
		Width:       c.Width,
		Height:      c.Height,
		BitrateKbps: max(c.BitrateKbps, 1),
	}).Validate(); err != nil {
		return err
	}
	if c.Frames < 0 {
		return fmt.Errorf("frames %d: %w", c.Frames, ErrInvalidValue)
	}

	format, err := encoder.ParsePixelFormat(c.Format)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	kind, err := source.ParseKind(c.Source)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if kind == source.KindRaw && c.Input == "" {
		return ErrMissingInput
	}
	fx, err := effect.ParseKind(c.Effect)
	if err != nil {
		return fmt.Errorf("effect: %w", err)
	}
	if fx != effect.Passthrough && format != encoder.RGB24 {
		return fmt.Errorf("%w: %v with %v", ErrEffectFormat, fx, format)
	}

	if c.QueueSize < 1 || c.QueueSize > 2 {
		return fmt.Errorf("queueSize %d: %w, must be 1 or 2", c.QueueSize, ErrInvalidValue)
	}
	if _, err := pipeline.ParsePolicy(c.QueuePolicy); err != nil {
		return fmt.Errorf("queuePolicy: %w", err)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("logLevel: %w", err)
	}
	if c.StatusInterval < 0 {
		return fmt.Errorf("statusInterval %v: %w", c.StatusInterval, ErrInvalidValue)
	}
	return nil
}

// PixelFormat returns the parsed format. The config must be valid.
func (c Config) PixelFormat() encoder.PixelFormat {
	f, _ := encoder.ParsePixelFormat(c.Format)
	return f
}

// SourceKind returns the parsed source.
func (c Config) SourceKind() source.Kind {
	k, _ := source.ParseKind(c.Source)
	return k
}

// EffectKind returns the parsed effect.
func (c Config) EffectKind() effect.Kind {
	k, _ := effect.ParseKind(c.Effect)
	return k
}

// Policy returns the parsed queue policy.
func (c Config) Policy() pipeline.Policy {
	p, _ := pipeline.ParsePolicy(c.QueuePolicy)
	return p
}

// Level returns the parsed log level.
func (c Config) Level() log.Level {
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}
