package cadet

import (
	"github.com/cadetchan/cadet/metrics"
	"github.com/sirupsen/logrus"
)

// ServiceOptions control the behaviour of a service created by NewService.
// A nil *ServiceOptions provides sensible defaults.
type ServiceOptions struct {
	// If not nil, send debug logs here. By default the service logs to the
	// logrus standard logger.
	Logger *logrus.Entry

	// If not nil, channel statistics are recorded here.
	Metrics *metrics.M
}

func (o *ServiceOptions) logger() *logrus.Entry {
	if o == nil || o.Logger == nil {
		return logrus.NewEntry(logrus.StandardLogger()).WithField("component", "cadet")
	}
	return o.Logger
}

func (o *ServiceOptions) metrics() *metrics.M {
	if o == nil || o.Metrics == nil {
		return metrics.New()
	}
	return o.Metrics
}
