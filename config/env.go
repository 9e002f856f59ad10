package config

import (
	"strings"

	"github.com/caarlos0/env/v11"
)

// loadFromEnv overlays REWARDSKIT_* environment variables onto cfg. Unset
// variables leave the current value in place. Lists are comma-separated.
func loadFromEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return err
	}
	cfg.Security.APIKeys = trimAll(cfg.Security.APIKeys)
	cfg.Webhook.Endpoints = trimAll(cfg.Webhook.Endpoints)
	return nil
}

func trimAll(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
