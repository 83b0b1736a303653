package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v2"
)

type config struct {
	Position    int            `yaml:"position"`
	Invert      bool           `yaml:"invert"`
	Quiet       bool           `yaml:"quiet"`
	MetricsAddr string         `yaml:"metrics_addr"`
	Sources     []sourceConfig `yaml:"sources"`
}

func loadConfig(r io.Reader) (config, error) {
	decoder := yaml.NewDecoder(r)

	cfg := config{}

	err := decoder.Decode(&cfg)
	if err != nil && err != io.EOF {
		return config{}, fmt.Errorf("cannot decode config: %w", err)
	}

	for i, src := range cfg.Sources {
		if err := src.validate(); err != nil {
			return config{}, fmt.Errorf("source %d: %w", i+1, err)
		}
	}

	return cfg, nil
}

func loadConfigFile(path string) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		return config{}, fmt.Errorf("cannot open config file %s: %w", path, err)
	}

	defer f.Close()

	return loadConfig(f)
}
