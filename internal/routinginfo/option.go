package routinginfo

import "overlay/internal/logger"

// Option customizes a RoutingInfo at construction time.
type Option func(*RoutingInfo)

// WithLogger sets the logger used by the routing info.
func WithLogger(l logger.Logger) Option {
	return func(ri *RoutingInfo) {
		if l != nil {
			ri.logger = l
		}
	}
}
