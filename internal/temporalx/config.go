package temporalx

import "time"

// Config is loaded by internal/app; nothing in this package reads the environment.
type Config struct {
	Address   string
	Namespace string
	TaskQueue string

	ClientCertPath string
	ClientKeyPath  string
	ClientCAPath   string

	AutoRegisterNamespace bool
	NamespaceRetention    time.Duration

	DialTimeout    time.Duration
	DialMaxWait    time.Duration
	DialBackoff    time.Duration
	DialBackoffMax time.Duration

	// Concurrency bounds concurrent activity and workflow task executions.
	Concurrency int
}

func (c Config) Enabled() bool { return c.Address != "" }

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "planforge"
	}
	if c.TaskQueue == "" {
		c.TaskQueue = "planforge"
	}
	if c.NamespaceRetention <= 0 {
		c.NamespaceRetention = 7 * 24 * time.Hour
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = 250 * time.Millisecond
	}
	if c.DialBackoffMax <= 0 {
		c.DialBackoffMax = 5 * time.Second
	}
	if c.Concurrency < 1 {
		c.Concurrency = 4
	}
	return c
}

// WithDefaults fills unset fields.
func WithDefaults(c Config) Config { return c.withDefaults() }
