package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/dukex/regcycle/pkg/config"
	"github.com/dukex/regcycle/pkg/eventbus"
	"github.com/dukex/regcycle/pkg/otelhelper"
	"github.com/dukex/regcycle/pkg/presence"
	"github.com/dukex/regcycle/pkg/validation"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dukex/regcycle/pkg/services"

type settings struct {
	clock     clockwork.Clock
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	template  *config.Template
	validator *validation.Validator
	presence  *presence.Registry
}

// Option configures a service. Options a service has no use for are ignored.
type Option func(*settings)

func WithClock(clock clockwork.Clock) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(s *settings) {
		s.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *settings) {
		s.tracer = tracer
	}
}

// WithTemplate sets the template new cycles are built from.
func WithTemplate(template *config.Template) Option {
	return func(s *settings) {
		s.template = template
	}
}

func WithValidator(v *validation.Validator) Option {
	return func(s *settings) {
		s.validator = v
	}
}

// WithPresence connects the cycle service to a presence registry. Users leaving a cycle then lose
// their step locks.
func WithPresence(registry *presence.Registry) Option {
	return func(s *settings) {
		s.presence = registry
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		clock:     clockwork.NewRealClock(),
		publisher: eventbus.Nop{},
		tracer:    otelhelper.DefaultTracer(tracerName),
		template:  config.DefaultTemplate(),
		validator: validation.New(),
	}

	for _, opt := range opts {
		opt(&s)
	}

	return s
}

// nolint:spancheck // the caller ends the span
func (s settings) span(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otelhelper.StartSpan(ctx, s.tracer, name, attrs...)
}

// publish hands event to the bus. Delivery failures are logged and never fail the operation.
func (s settings) publish(ctx context.Context, logger *slog.Logger, event interface {
	eventbus.Event
	Key() string
}) {
	if err := s.publisher.Publish(ctx, event.Key(), event); err != nil {
		logger.WarnContext(ctx, "failed to publish event", "type", event.GetType(), "error", err)
	}
}

// endSpan records err on span, if any, and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		otelhelper.SetError(span, err)
	}

	span.End()
}

// keyedMutex hands out one mutex per key and forgets it once nobody holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()

	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}

	m.refs++
	k.mu.Unlock()

	m.Lock()

	return func() {
		m.Unlock()

		k.mu.Lock()
		m.refs--

		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
