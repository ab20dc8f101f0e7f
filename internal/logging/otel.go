package logging

import (
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
)

// WithOTEL bridges log records into an OpenTelemetry log provider as an
// additional output core. A nil provider is ignored.
func WithOTEL(provider log.LoggerProvider) Option {
	return func(o *options) {
		if provider == nil {
			return
		}
		o.extraCores = append(o.extraCores, otelzap.NewCore("factord",
			otelzap.WithLoggerProvider(provider),
		))
	}
}
