// Package failureinjector implements the Controlled Failure Injector (CFI):
// a deterministically-tunable, probabilistically-triggered fault source
// participants call at well-known decision points, used both by tests and
// by chaos exercises in staging (§4.4).
package failureinjector

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/director74/sagacore/pkg/sagametrics"
)

// Kind names a class of injectable fault. Participants translate a Kind
// into a saga step failure; SE records it in step.errorMessage.
type Kind string

const (
	InsufficientStock  Kind = "InsufficientStock"
	PaymentFailure     Kind = "PaymentFailure"
	NetworkTimeout     Kind = "NetworkTimeout"
	DatabaseFailure    Kind = "DatabaseFailure"
	ServiceUnavailable Kind = "ServiceUnavailable"
)

// FailureError is what MaybeFail returns when it decides to fail.
type FailureError struct {
	Kind    Kind
	Message string
	Context FailureContext
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// FailureContext is the decision point's context, used both to form the
// error message and to look up probability boosts. ServiceName labels the
// ControlledFailure metric when MaybeFail decides to fail.
type FailureContext struct {
	ProductName string
	StoreID     string
	ServiceName string
}

// Config is the process-wide, live-updatable failure policy (§3, §4.4).
// Probabilities are clamped to [0,1] on every Update.
type Config struct {
	Enabled          bool
	Probabilities    map[Kind]float64
	FailureDelayMs   int
	CriticalProducts map[string]bool
	CriticalStores   map[string]bool
}

// boostFactor is applied to a failure's probability when its context names
// a critical product or store, capped at 1.0.
const boostFactor = 3.0

func defaultConfig() *Config {
	return &Config{
		Enabled: false,
		Probabilities: map[Kind]float64{
			InsufficientStock:  0,
			PaymentFailure:     0,
			NetworkTimeout:     0,
			DatabaseFailure:    0,
			ServiceUnavailable: 0,
		},
		FailureDelayMs:   0,
		CriticalProducts: map[string]bool{},
		CriticalStores:   map[string]bool{},
	}
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

func (c *Config) clone() *Config {
	clone := &Config{
		Enabled:          c.Enabled,
		FailureDelayMs:   c.FailureDelayMs,
		Probabilities:    make(map[Kind]float64, len(c.Probabilities)),
		CriticalProducts: make(map[string]bool, len(c.CriticalProducts)),
		CriticalStores:   make(map[string]bool, len(c.CriticalStores)),
	}
	for k, v := range c.Probabilities {
		clone.Probabilities[k] = clamp01(v)
	}
	for k, v := range c.CriticalProducts {
		clone.CriticalProducts[k] = v
	}
	for k, v := range c.CriticalStores {
		clone.CriticalStores[k] = v
	}
	return clone
}

// PartialConfig carries only the fields an Update call wants to change; a
// nil field leaves the current value untouched.
type PartialConfig struct {
	Enabled          *bool
	Probabilities    map[Kind]float64
	FailureDelayMs   *int
	CriticalProducts []string
	CriticalStores   []string
}

// Injector is a single-writer, copy-on-write FailureConfig holder. Readers
// take a lock-free atomic snapshot per call, matching §5's "single writer
// via copy-on-write; readers are lock-free" resource model.
type Injector struct {
	config  atomic.Pointer[Config]
	rand    func() float64
	sleep   func(time.Duration)
	metrics *sagametrics.Collector
}

// New returns an Injector with every probability at 0 and injection
// disabled.
func New() *Injector {
	i := &Injector{
		rand:  rand.Float64,
		sleep: time.Sleep,
	}
	i.config.Store(defaultConfig())
	return i
}

// WithMetrics attaches the ControlledFailure counter (§4.5) so every
// injected fault is observable, not just returned as an error. Returns the
// receiver so it can be chained onto New().
func (i *Injector) WithMetrics(m *sagametrics.Collector) *Injector {
	i.metrics = m
	return i
}

// Get returns the current configuration snapshot.
func (i *Injector) Get() Config {
	return *i.config.Load()
}

// Update applies a partial change via copy-on-write swap; the new
// configuration is observable by the very next MaybeFail call.
func (i *Injector) Update(partial PartialConfig) Config {
	next := i.config.Load().clone()

	if partial.Enabled != nil {
		next.Enabled = *partial.Enabled
	}
	for k, v := range partial.Probabilities {
		next.Probabilities[k] = clamp01(v)
	}
	if partial.FailureDelayMs != nil {
		next.FailureDelayMs = *partial.FailureDelayMs
	}
	for _, p := range partial.CriticalProducts {
		next.CriticalProducts[p] = true
	}
	for _, s := range partial.CriticalStores {
		next.CriticalStores[s] = true
	}

	i.config.Store(next)
	return *next
}

// MaybeFail is the CFI's single entry point. Participants call it at a
// decision point (stock check, payment charge, DB write, service call) and
// propagate a non-nil error as a saga step failure.
func (i *Injector) MaybeFail(ctx context.Context, kind Kind, fctx FailureContext) error {
	cfg := i.config.Load()
	if !cfg.Enabled {
		return nil
	}

	p := clamp01(cfg.Probabilities[kind])
	if cfg.CriticalProducts[fctx.ProductName] || cfg.CriticalStores[fctx.StoreID] {
		p = clamp01(p * boostFactor)
	}

	if i.rand() >= p {
		return nil
	}

	if cfg.FailureDelayMs > 0 {
		i.sleep(time.Duration(cfg.FailureDelayMs) * time.Millisecond)
	}

	if i.metrics != nil {
		i.metrics.ControlledFailure.WithLabelValues(string(kind), fctx.ServiceName).Inc()
	}

	return &FailureError{
		Kind:    kind,
		Message: fmt.Sprintf("controlled failure injected for %s", kind),
		Context: fctx,
	}
}
