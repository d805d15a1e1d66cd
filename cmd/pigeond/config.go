package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/pigeon/internal/config"
)

type daemonConfig struct {
	Name             string
	Prefix           string
	CompletionSignal string
	Transport        string
	Listen           string
	PublicURL        string
	CorsOrigins      []string
	TrustedDomain    string
	Redis            string
	Namespace        string
	Origin           string
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Name:      "pigeond",
		Prefix:    "pigeon",
		Transport: config.TransportHTTP,
		Listen:    "127.0.0.1:9300",
		PublicURL: "http://127.0.0.1:9300",
		Namespace: "pigeon",
	}
}

type fileConfig struct {
	Name             string   `toml:"name"`
	Prefix           string   `toml:"prefix"`
	CompletionSignal string   `toml:"completion_signal"`
	Transport        string   `toml:"transport"`
	Listen           string   `toml:"listen"`
	PublicURL        string   `toml:"public_url"`
	CorsOrigins      []string `toml:"cors_origins"`
	TrustedDomain    string   `toml:"trusted_domain"`
	Redis            string   `toml:"redis"`
	Namespace        string   `toml:"namespace"`
	Origin           string   `toml:"origin"`
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("load pigeond config: %w", err)
	}

	if meta.IsDefined("name") {
		if v := strings.TrimSpace(raw.Name); v != "" {
			cfg.Name = v
		}
	}
	if meta.IsDefined("prefix") {
		cfg.Prefix = strings.TrimSpace(raw.Prefix)
	}
	if meta.IsDefined("completion_signal") {
		cfg.CompletionSignal = strings.TrimSpace(raw.CompletionSignal)
	}
	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("public_url") {
		cfg.PublicURL = strings.TrimSpace(raw.PublicURL)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("trusted_domain") {
		cfg.TrustedDomain = strings.TrimSpace(raw.TrustedDomain)
	}
	if meta.IsDefined("redis") {
		cfg.Redis = strings.TrimSpace(raw.Redis)
	}
	if meta.IsDefined("namespace") {
		cfg.Namespace = strings.TrimSpace(raw.Namespace)
	}
	if meta.IsDefined("origin") {
		cfg.Origin = strings.TrimSpace(raw.Origin)
	}

	if err := validateDaemonConfig(cfg); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}

func validateDaemonConfig(cfg daemonConfig) error {
	if cfg.Prefix == "" {
		return fmt.Errorf("pigeond config missing prefix")
	}
	switch cfg.Transport {
	case config.TransportHTTP:
		if cfg.Listen == "" {
			return fmt.Errorf("pigeond config missing listen")
		}
		if cfg.PublicURL == "" {
			return fmt.Errorf("pigeond config missing public_url")
		}
	case config.TransportRedis:
		if cfg.Redis == "" {
			return fmt.Errorf("pigeond config missing redis")
		}
		if strings.Contains(cfg.Name, ":") {
			return fmt.Errorf("pigeond name %q is not a valid channel", cfg.Name)
		}
	default:
		return fmt.Errorf("pigeond config unknown transport %q", cfg.Transport)
	}
	return nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
