// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration of rapidsml: defaults, overridden by an optional YAML file,
// overridden by environment variables.
//
// Environment variables start with EnvPrefix, and use "__" to separate nesting levels, e.g.
// RAPIDSML_SESSION__SCRIPT_TIMEOUT=10m sets session.script_timeout.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/gomlx/rapidsml/classifier"
	"github.com/gomlx/rapidsml/learners"
	"github.com/gomlx/rapidsml/remote"
	"github.com/gomlx/rapidsml/remote/pyserver"
	"github.com/gomlx/rapidsml/transfer"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "RAPIDSML_"

// Config is the whole configuration.
type Config struct {
	Python   PythonConfig   `koanf:"python"`
	Learner  LearnerConfig  `koanf:"learner"`
	Transfer TransferConfig `koanf:"transfer"`
	Session  SessionConfig  `koanf:"session"`

	ContinueOnError           bool `koanf:"continue_on_error"`
	BatchSize                 int  `koanf:"batch_size"`
	Debug                     bool `koanf:"debug"`
	SupervisedNominalToBinary bool `koanf:"supervised_nominal_to_binary"`
}

type PythonConfig struct {
	Command  string `koanf:"command"`
	Path     string `koanf:"path"`
	ServerID string `koanf:"server_id"`
}

type LearnerConfig struct {
	Name    string `koanf:"name"`
	Options string `koanf:"options"`
}

type TransferConfig struct {
	Strategy string `koanf:"strategy"`
	Device   int    `koanf:"device"`
	ShmDir   string `koanf:"shm_dir"`
}

type SessionConfig struct {
	StartTimeout    time.Duration `koanf:"start_timeout"`
	ScriptTimeout   time.Duration `koanf:"script_timeout"`
	KeepIdle        bool          `koanf:"keep_idle"`
	RequiredModules []string      `koanf:"required_modules"`
}

// Default returns the default configuration.
func Default() Config {
	server := pyserver.DefaultOptions()
	return Config{
		Python: PythonConfig{
			Command:  "default",
			Path:     "default",
			ServerID: "none",
		},
		Learner: LearnerConfig{Name: learners.DefaultLearner},
		Transfer: TransferConfig{
			Strategy: transfer.DefaultStrategy.String(),
			ShmDir:   transfer.DefaultSharedDir(),
		},
		Session: SessionConfig{
			StartTimeout:    server.StartTimeout,
			ScriptTimeout:   server.ScriptTimeout,
			KeepIdle:        true,
			RequiredModules: server.RequiredModules,
		},
		BatchSize: 100,
	}
}

// Load returns the default configuration overridden by the YAML file at path (if path is not empty)
// and by the environment.
func Load(path string) (*Config, error) {
	var provider koanf.Provider
	if path != "" {
		provider = file.Provider(path)
	}
	cfg, err := load(provider)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading configuration from %q", path)
	}
	return cfg, nil
}

// LoadBytes is like Load, with the YAML content given directly.
func LoadBytes(content []byte) (*Config, error) {
	return load(rawbytes.Provider(content))
}

func load(provider koanf.Provider) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "loading defaults")
	}
	if provider != nil {
		if err := k.Load(provider, yaml.Parser()); err != nil {
			return nil, errors.Wrap(err, "parsing YAML")
		}
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, errors.Wrap(err, "loading environment")
	}
	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if klog.V(1).Enabled() {
		klog.Infof("config: %+v", *cfg)
	}
	return cfg, nil
}

// Validate checks values that can be checked without a remote environment.
func (c *Config) Validate() error {
	if _, err := transfer.ParseStrategy(c.Transfer.Strategy); err != nil {
		return err
	}
	if _, err := learners.Lookup(c.Learner.Name); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Session.StartTimeout <= 0 {
		return errors.Errorf("session.start_timeout must be positive, got %s", c.Session.StartTimeout)
	}
	if c.Session.ScriptTimeout < 0 {
		return errors.Errorf("session.script_timeout can't be negative, got %s", c.Session.ScriptTimeout)
	}
	return nil
}

// Marshal returns the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(*c, "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	out, err := k.Marshal(yaml.Parser())
	if err != nil {
		return nil, errors.Wrap(err, "marshaling configuration")
	}
	return out, nil
}

// Handle returns the remote environment handle.
func (c *Config) Handle() remote.Handle {
	return remote.NewHandle(c.Python.Command, c.Python.ServerID)
}

// ServerOptions returns the options to start Python servers.
func (c *Config) ServerOptions() pyserver.Options {
	opts := pyserver.DefaultOptions()
	opts.PathPrefix = c.Python.Path
	opts.StartTimeout = c.Session.StartTimeout
	opts.ScriptTimeout = c.Session.ScriptTimeout
	if len(c.Session.RequiredModules) > 0 {
		opts.RequiredModules = c.Session.RequiredModules
	}
	opts.Debug = c.Debug
	return opts
}

// Registry returns a new registry of Python servers.
func (c *Config) Registry() *remote.Registry {
	return remote.NewRegistry(c.ServerOptions().StartFunc(), remote.WithKeepIdle(c.Session.KeepIdle))
}

// ClassifierOptions returns the options for new classifiers.
func (c *Config) ClassifierOptions() (classifier.Options, error) {
	strategy, err := transfer.ParseStrategy(c.Transfer.Strategy)
	if err != nil {
		return classifier.Options{}, err
	}
	opts := classifier.Options{
		Learner:                   c.Learner.Name,
		LearnerOptions:            c.Learner.Options,
		Strategy:                  strategy,
		Handle:                    c.Handle(),
		ContinueOnError:           c.ContinueOnError,
		Debug:                     c.Debug,
		SupervisedNominalToBinary: c.SupervisedNominalToBinary,
	}
	if strategy == transfer.DeviceShared && (c.Transfer.ShmDir != transfer.DefaultSharedDir() || c.Transfer.Device != 0) {
		if err := os.MkdirAll(c.Transfer.ShmDir, 0o700); err != nil {
			return opts, errors.Wrapf(err, "creating shared memory directory %q", c.Transfer.ShmDir)
		}
		opts.DeviceMemory = transfer.NewSharedMemory(c.Transfer.ShmDir, c.Transfer.Device)
	}
	return opts, nil
}
