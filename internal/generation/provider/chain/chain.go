// Package chain builds the provider router from startup configuration.
package chain

import (
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/yungbote/planforge-backend/internal/generation/provider"
	"github.com/yungbote/planforge-backend/internal/generation/provider/anthropic"
	"github.com/yungbote/planforge-backend/internal/generation/provider/mock"
	"github.com/yungbote/planforge-backend/internal/generation/provider/oaihttp"
	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

const (
	Mock      = "mock"
	Anthropic = anthropic.Name
	OpenAI    = oaihttp.Name
)

type Config struct {
	// Providers lists the chain in order. Empty means DefaultProviders(env).
	Providers         []string
	Anthropic         anthropic.Config
	OpenAI            oaihttp.Config
	RequestsPerSecond float64
	Retry             provider.RetryConfig
}

// DefaultProviders is mock-only for test and local environments, primary then
// fallback otherwise.
func DefaultProviders(env string) []string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "test", "dev", "development", "local":
		return []string{Mock}
	default:
		return []string{Anthropic, OpenAI}
	}
}

func Build(log *logger.Logger, env string, cfg Config) (*provider.Router, error) {
	names := cfg.Providers
	if len(names) == 0 {
		names = DefaultProviders(env)
	}
	factories := make([]provider.Factory, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		f := provider.Factory{Name: name}
		if cfg.RequestsPerSecond > 0 && name != Mock {
			f.Limit = rate.Limit(cfg.RequestsPerSecond)
			f.Burst = max(1, int(cfg.RequestsPerSecond))
		}
		switch name {
		case Mock:
			f.New = func() (provider.Provider, error) { return mock.New(), nil }
		case Anthropic:
			ac := cfg.Anthropic
			f.New = func() (provider.Provider, error) { return anthropic.New(ac) }
		case OpenAI:
			oc := cfg.OpenAI
			f.New = func() (provider.Provider, error) { return oaihttp.New(oc) }
		default:
			return nil, fmt.Errorf("unknown generation provider %q", raw)
		}
		factories = append(factories, f)
	}
	return provider.NewRouter(log, cfg.Retry, factories...), nil
}
