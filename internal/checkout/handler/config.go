package handler

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config describes the handler set loaded from HANDLERS_CONFIG. Only
// sandbox handlers are configurable today; real handlers would plug in
// here with their own kind.
type Config struct {
	Handlers []HandlerConfig `yaml:"handlers"`
}

type HandlerConfig struct {
	ID           string   `yaml:"id"`
	Kind         string   `yaml:"kind"`
	DeclineCards []string `yaml:"decline_cards"`
}

// LoadConfig reads a YAML handler config and builds a registry from it.
// An empty path returns the default registry (sandbox handler only).
func LoadConfig(path string) (*Registry, error) {
	if path == "" {
		return NewRegistry(NewSandboxHandler()), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse handler config: %w", err)
	}

	registry := NewRegistry()
	for _, hc := range cfg.Handlers {
		switch hc.Kind {
		case "", "sandbox":
			cards := hc.DeclineCards
			if len(cards) == 0 {
				cards = []string{DefaultDeclineCard}
			}
			id := hc.ID
			if id == "" {
				id = SandboxHandlerID
			}
			registry.Register(&SandboxHandler{HandlerID: id, DeclineCards: cards})
		default:
			return nil, fmt.Errorf("unknown handler kind %q", hc.Kind)
		}
	}
	if len(cfg.Handlers) == 0 {
		registry.Register(NewSandboxHandler())
	}
	return registry, nil
}
