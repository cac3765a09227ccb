package dispatcher

import (
	"github.com/rs/zerolog"

	"autofleet/internal/bus"
	"autofleet/internal/fleet"
	"autofleet/internal/node"
)

// Router handles one decoded record. Returning true stops the dispatcher.
type Router interface {
	Do(rec Record) (stop bool)
}

// FleetRouter applies host results to the nodes of a context.
type FleetRouter struct {
	ctx *fleet.Context
	log zerolog.Logger
}

// NewFleetRouter returns a router bound to ctx.
func NewFleetRouter(ctx *fleet.Context, log zerolog.Logger) *FleetRouter {
	return &FleetRouter{ctx: ctx, log: log}
}

// Do routes rec to the node whose address equals rec.Host and runs the
// node's handler for the producing module. Unknown hosts and modules without
// a handler are dropped.
func (r *FleetRouter) Do(rec Record) bool {
	switch rec.Type {
	case bus.Goodbye:
		r.log.Info().Msg("Shutdown sentinel received")
		return true
	case "":
	default:
		r.log.Debug().Str("type", rec.Type).Msg("Ignoring control message")
		return false
	}

	n, ok := r.ctx.Lookup(rec.Host)
	if !ok {
		r.log.Debug().Str("host", rec.Host).Msg("No node for result, dropping")
		return false
	}
	kind, ok := rec.Module()
	if !ok {
		r.log.Debug().Str("host", rec.Host).Msg("Result without module name, dropping")
		return false
	}

	hp, ok := n.(node.HandlerProvider)
	if !ok {
		r.log.Debug().Str("host", rec.Host).Str("module", kind).Msg("Node has no handlers, dropping")
		return false
	}
	h, ok := hp.Handler(kind)
	if !ok {
		r.log.Debug().Str("host", rec.Host).Str("module", kind).Msg("No handler for module, dropping")
		return false
	}

	if err := h(rec.Result); err != nil {
		r.log.Warn().Err(err).Str("host", rec.Host).Str("module", kind).Msg("Handler failed")
		return false
	}
	r.log.Debug().Str("host", rec.Host).Str("module", kind).Msg("Result applied")
	return false
}
