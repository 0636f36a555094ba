// Package market provides tick sources that publish into the event bus.
package market

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-engine/internal/events"
)

// wireTick is the JSON message emitted by the upstream feed. Price and
// quantity arrive as strings to avoid float truncation.
type wireTick struct {
	Symbol    string `json:"symbol"`
	Price     string `json:"price"`
	TraderID  string `json:"trader_id,omitempty"`
	TradeSide string `json:"trade_side,omitempty"`
	TradeQty  string `json:"trade_qty,omitempty"`
}

// WSFeed streams ticks from a websocket endpoint and publishes them to the
// bus. The connection is re-dialed with exponential backoff on failure.
type WSFeed struct {
	URL        string
	Bus        *events.Bus
	Symbols    []string
	DialRetry  time.Duration // initial backoff, doubled up to 30s
	Log        *zap.Logger
	dialer     *websocket.Dialer
}

// Start launches the stream loop. It returns after spawning; the loop runs
// until ctx is canceled or the bus closes.
func (f *WSFeed) Start(ctx context.Context) error {
	if f.Log == nil {
		f.Log = zap.NewNop()
	}
	if f.DialRetry <= 0 {
		f.DialRetry = time.Second
	}
	f.dialer = websocket.DefaultDialer
	go f.run(ctx)
	return nil
}

func (f *WSFeed) run(ctx context.Context) {
	backoff := f.DialRetry
	for {
		if ctx.Err() != nil {
			return
		}
		conn, _, err := f.dialer.DialContext(ctx, f.URL, nil)
		if err != nil {
			f.Log.Warn("feed dial failed", zap.String("url", f.URL), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			continue
		}
		backoff = f.DialRetry
		f.Log.Info("feed connected", zap.String("url", f.URL))

		if err := f.consume(ctx, conn); err != nil {
			f.Log.Warn("feed disconnected", zap.Error(err))
		}
		conn.Close()
	}
}

func (f *WSFeed) consume(ctx context.Context, conn *websocket.Conn) error {
	// Close the socket when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil ||
				websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		tick, err := parseTick(msg)
		if err != nil {
			f.Log.Debug("feed message discarded", zap.Error(err))
			continue
		}
		if !f.wants(tick.Symbol) {
			continue
		}
		if _, err := f.Bus.Publish(events.Event{
			Type:       events.TypeMarketTick,
			Symbol:     tick.Symbol,
			SourceTime: time.Now(),
			Tick:       &tick,
		}); err != nil {
			return err
		}
	}
}

func (f *WSFeed) wants(symbol string) bool {
	if len(f.Symbols) == 0 {
		return true
	}
	for _, s := range f.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func parseTick(msg []byte) (events.MarketTick, error) {
	var raw wireTick
	if err := json.Unmarshal(msg, &raw); err != nil {
		return events.MarketTick{}, err
	}
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return events.MarketTick{}, err
	}
	tick := events.MarketTick{Symbol: raw.Symbol, Price: price}
	if raw.TraderID != "" {
		tick.TraderID = raw.TraderID
		tick.TradeSide = events.Side(strings.ToUpper(raw.TradeSide))
		if raw.TradeQty != "" {
			if qty, err := decimal.NewFromString(raw.TradeQty); err == nil {
				tick.TradeQty = qty
			}
		}
	}
	return tick, nil
}
