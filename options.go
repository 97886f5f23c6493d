package samlauth

import (
	"github.com/hashicorp/go-hclog"
	"github.com/jonboulle/clockwork"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

type serviceOptions struct {
	withLogger  hclog.Logger
	withClock   clockwork.Clock
	withHooks   *Hooks
	withToolkit ToolkitFactory
}

func serviceOptionsDefault() serviceOptions {
	return serviceOptions{
		withLogger:  hclog.NewNullLogger(),
		withClock:   clockwork.NewRealClock(),
		withHooks:   NewHooks(),
		withToolkit: NewGosaml2Toolkit,
	}
}

func getServiceOpts(opt ...Option) serviceOptions {
	opts := serviceOptionsDefault()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger for the service.
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok {
			if l != nil {
				o.withLogger = l
			}
		}
	}
}

// WithClock provides an optional clock, used by the toolkit when validating
// time conditions. Mainly useful for tests.
func WithClock(c clockwork.Clock) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok {
			if c != nil {
				o.withClock = c
			}
		}
	}
}

// WithHooks provides a pre-populated extension point registry. The registry
// must not be mutated once the service starts handling requests.
func WithHooks(h *Hooks) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok {
			if h != nil {
				o.withHooks = h
			}
		}
	}
}

// WithToolkitFactory replaces the production SAML toolkit with a custom
// implementation. Mainly useful for tests.
func WithToolkitFactory(f ToolkitFactory) Option {
	return func(o interface{}) {
		if o, ok := o.(*serviceOptions); ok {
			if f != nil {
				o.withToolkit = f
			}
		}
	}
}
