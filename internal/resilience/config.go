package resilience

import "time"

// Circuit breaker configuration constants
const (
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 3

	// Inference backends sit on the per-cycle path, so they trip sooner and
	// half-open again quickly.
	InferenceThreshold         = 3
	InferenceResetTimeout      = 10 * time.Second
	InferenceHalfOpenSuccesses = 2
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string
	Threshold         int           // failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close

	// Trips decides whether an error counts as a failure. Defaults to IsRetryable.
	Trips func(error) bool
	// Now is used for reset timing. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// InferenceConfig returns breaker settings for one remote inference method.
func InferenceConfig(name string) Config {
	return Config{
		Name:              name,
		Threshold:         InferenceThreshold,
		ResetTimeout:      InferenceResetTimeout,
		HalfOpenSuccesses: InferenceHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	if c.Trips == nil {
		c.Trips = IsRetryable
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Name == "" {
		c.Name = "default"
	}
	return c
}

func (c Config) now() time.Time { return c.Now() }
