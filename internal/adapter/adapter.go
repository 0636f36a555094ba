// Package adapter defines the boundary to external collaborators: market
// data feeds and order submission gateways. Adapters push facts into the
// event bus; the core never calls out synchronously for results.
package adapter

import (
	"context"

	"trading-engine/internal/events"
)

// MarketFeed produces MarketTick events until the context is done. The feed
// assigns source timestamps; the bus assigns sequence numbers at ingress.
type MarketFeed interface {
	Start(ctx context.Context) error
}

// OrderGateway receives accepted intents for submission. Acknowledgments,
// rejects, fills and cancel acks re-enter asynchronously as bus events, with
// at-least-once delivery of terminal acknowledgments (the core discards
// duplicates against terminal orders).
//
// A Submit error means the intent never reached the exchange; the caller
// must fail the order immediately rather than leave it pending.
type OrderGateway interface {
	Submit(ctx context.Context, intent events.OrderIntent) error
	Cancel(ctx context.Context, correlationID string) error
}
