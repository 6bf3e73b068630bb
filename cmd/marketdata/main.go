// Command marketdata bridges an exchange WebSocket ticker feed into the
// margin ledger's NATS tick stream. It is deliberately dumb: subscribe,
// extract a price, publish, reconnect forever.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"marginledger/internal/feed"
	"marginledger/internal/observability"
)

type Config struct {
	NATSURL string

	ExchangeURL    string
	Symbols        []string
	ReconnectDelay time.Duration
}

func DefaultConfig() Config {
	symbols := strings.Split(envOrDefault("MARGIN_WS_SYMBOLS", "SOL_USDC"), ",")
	for i := range symbols {
		symbols[i] = strings.TrimSpace(symbols[i])
	}
	return Config{
		NATSURL:        envOrDefault("MARGIN_NATS_URL", "nats://localhost:4222"),
		ExchangeURL:    envOrDefault("MARGIN_WS_URL", "wss://ws.backpack.exchange/"),
		Symbols:        symbols,
		ReconnectDelay: 5 * time.Second,
	}
}

func main() {
	godotenv.Load()

	log := observability.NewLogger("marketdata")
	log.Info().Msg("market data bridge starting")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
	}()

	nc, js, err := feed.ConnectNATS(cfg.NATSURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()

	if err := feed.EnsureTickStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure tick stream")
	}

	// One connection covers all symbols; the exchange multiplexes streams.
	for ctx.Err() == nil {
		if err := runConnection(ctx, cfg, js, log); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Dur("retry_in", cfg.ReconnectDelay).Msg("connection lost, reconnecting")
		}

		select {
		case <-ctx.Done():
		case <-time.After(cfg.ReconnectDelay):
		}
	}

	log.Info().Msg("market data bridge stopped")
}

// runConnection dials the exchange, subscribes to each symbol's ticker
// stream, and pumps extracted ticks into NATS until the connection drops or
// ctx is cancelled.
func runConnection(ctx context.Context, cfg Config, js jetstream.JetStream, log zerolog.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.ExchangeURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.ExchangeURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	streams := make([]string, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		streams = append(streams, "ticker."+sym)
	}
	sub := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": streams,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	log.Info().Str("url", cfg.ExchangeURL).Strs("streams", streams).Msg("subscribed to exchange feed")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, ok := extractTick(data)
		if !ok {
			continue
		}

		payload, err := json.Marshal(tick)
		if err != nil {
			continue
		}
		subject := "margin.ticks." + tick.Symbol
		if _, err := js.Publish(ctx, subject, payload); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("tick publish failed")
		}
	}
}

// exchangeMessage is the loose shape of an exchange ticker event. Different
// venues (and different API versions of the same venue) disagree on the
// price field name, so all the candidates are captured and tried in order.
type exchangeMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		Symbol    string `json:"s"`
		Close     string `json:"c"`
		LastPrice string `json:"lastPrice"`
		Price     string `json:"price"`
		Volume    string `json:"v"`
		Timestamp int64  `json:"E"`
	} `json:"data"`
	LastPrice string `json:"lastPrice"`
	Price     string `json:"price"`
}

// extractTick pulls a feed.Tick out of a raw exchange message. Messages
// without a usable price (subscription acks, heartbeats) are skipped.
func extractTick(data []byte) (feed.Tick, bool) {
	var msg exchangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return feed.Tick{}, false
	}

	price, ok := firstPrice(msg.Data.Close, msg.Data.LastPrice, msg.Data.Price, msg.LastPrice, msg.Price)
	if !ok {
		return feed.Tick{}, false
	}

	symbol := msg.Data.Symbol
	if symbol == "" && strings.HasPrefix(msg.Stream, "ticker.") {
		symbol = strings.TrimPrefix(msg.Stream, "ticker.")
	}
	if symbol == "" {
		return feed.Tick{}, false
	}
	// "SOL_USDC" → "SOL": positions are keyed by base asset.
	if i := strings.IndexByte(symbol, '_'); i > 0 {
		symbol = symbol[:i]
	}

	ts := msg.Data.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	} else if ts > 1e15 {
		ts /= 1000 // microseconds → milliseconds
	}

	volume := 0.0
	if v, ok := parsePrice(msg.Data.Volume); ok {
		volume = v
	}

	return feed.Tick{
		Symbol:    symbol,
		Price:     price,
		Timestamp: ts,
		Volume:    volume,
	}, true
}

func firstPrice(candidates ...string) (float64, bool) {
	for _, c := range candidates {
		if v, ok := parsePrice(c); ok {
			return v, true
		}
	}
	return 0, false
}

func parsePrice(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, f > 0
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
