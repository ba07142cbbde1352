package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/yungbote/planforge-backend/internal/platform/logger"
)

var ErrNoProviders = errors.New("no generation providers configured")

// Factory lazily constructs one link of the chain. The provider is built on
// first use and reused afterwards; a construction error is cached too.
type Factory struct {
	Name string
	New  func() (Provider, error)
	// Limit caps requests per second sent to this provider. Zero means unlimited.
	Limit rate.Limit
	Burst int
}

type link struct {
	factory Factory
	limiter *rate.Limiter

	once sync.Once
	p    Provider
	err  error
}

func (l *link) get() (Provider, error) {
	l.once.Do(func() {
		if l.factory.New == nil {
			l.err = fmt.Errorf("provider %q has no constructor", l.factory.Name)
			return
		}
		l.p, l.err = l.factory.New()
	})
	return l.p, l.err
}

// Router tries each provider in order, retrying transient failures against
// the same provider before falling through to the next one.
type Router struct {
	log   *logger.Logger
	retry RetryConfig
	links []*link
}

func NewRouter(log *logger.Logger, retry RetryConfig, factories ...Factory) *Router {
	if log == nil {
		log = logger.NewNop()
	}
	links := make([]*link, 0, len(factories))
	for _, f := range factories {
		l := &link{factory: f}
		if f.Limit > 0 {
			burst := f.Burst
			if burst <= 0 {
				burst = 1
			}
			l.limiter = rate.NewLimiter(f.Limit, burst)
		}
		links = append(links, l)
	}
	return &Router{log: log.With("component", "ProviderRouter"), retry: retry, links: links}
}

// Names returns the configured chain in order.
func (r *Router) Names() []string {
	out := make([]string, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l.factory.Name)
	}
	return out
}

func (r *Router) Generate(ctx context.Context, req Request) (*Result, error) {
	if len(r.links) == 0 {
		return nil, ErrNoProviders
	}
	var lastErr error
	total := 0
	for _, l := range r.links {
		p, err := l.get()
		if err != nil {
			r.log.Warn("Provider unavailable", "provider", l.factory.Name, "error", err)
			lastErr = err
			continue
		}
		res, tries, err := Retry(ctx, r.retry, func(ctx context.Context) (*Result, error) {
			if l.limiter != nil {
				if err := l.limiter.Wait(ctx); err != nil {
					return nil, err
				}
			}
			return p.Generate(ctx, req)
		})
		total += tries
		if err == nil {
			if res.Metadata.Provider == "" {
				res.Metadata.Provider = p.Name()
			}
			res.Metadata.Tries = total
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		r.log.Warn("Provider failed, falling through", "provider", p.Name(), "tries", tries, "error", err)
	}
	return nil, lastErr
}
