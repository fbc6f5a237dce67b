package pricing

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"

	"signalengine/src/utils"
)

// Stream holds the latest mini-ticker price per subscribed symbol, fed by a
// combined websocket stream. A read never blocks on the connection: watchers
// get whatever the last message said, with a staleness bound.
type Stream struct {
	url        string
	symbols    []string
	staleAfter time.Duration
	reconnect  time.Duration

	mu     sync.RWMutex
	prices map[string]tickedPrice
}

type tickedPrice struct {
	value float64
	at    time.Time
}

// streamFrame is one combined-stream message envelope.
type streamFrame struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol string `json:"s"`
		Close  string `json:"c"`
	} `json:"data"`
}

func NewStream(config Config) *Stream {
	return &Stream{
		url:        config.StreamURL,
		symbols:    config.StreamSymbols,
		staleAfter: config.StaleAfter,
		reconnect:  config.ReconnectDelay,
		prices:     make(map[string]tickedPrice),
	}
}

// Run keeps the websocket subscription alive until ctx is cancelled,
// reconnecting with a fixed delay after any failure.
func (s *Stream) Run(ctx context.Context) {
	for {
		if err := s.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("price stream disconnected, will reconnect")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.reconnect):
		}
	}
}

func (s *Stream) streamURL() string {
	streams := make([]string, 0, len(s.symbols))
	for _, sym := range s.symbols {
		streams = append(streams, strings.ToLower(sym)+"@miniTicker")
	}
	return s.url + "?streams=" + strings.Join(streams, "/")
}

func (s *Stream) consumeOnce(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, s.streamURL(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	logger.WithField("url", s.url).Info("price stream connected")

	// close the socket when ctx dies so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var frame streamFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			logger.WithError(err).Debug("skipping unparseable stream frame")
			continue
		}
		if frame.Data.Symbol == "" {
			continue
		}

		s.record(frame.Data.Symbol, utils.ParsePrice(frame.Data.Close))
	}
}

func (s *Stream) record(symbol string, price float64) {
	if price != price { // NaN: unparseable close field
		return
	}

	s.mu.Lock()
	s.prices[symbol] = tickedPrice{value: price, at: time.Now()}
	s.mu.Unlock()
}

// Get returns the last streamed price for symbol, or false when the stream
// has no fresh value (never connected, or quiet past the staleness bound).
func (s *Stream) Get(symbol string) (float64, bool) {
	s.mu.RLock()
	tick, ok := s.prices[symbol]
	s.mu.RUnlock()

	if !ok || time.Since(tick.at) > s.staleAfter {
		return 0, false
	}
	return tick.value, true
}
