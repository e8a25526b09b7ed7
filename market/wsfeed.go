package market

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// FeedMessage 行情推送消息。Type 取值 quote / trade / book / venue / reference。
type FeedMessage struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	Venue     string      `json:"venue,omitempty"`
	Quote     *Quote      `json:"quote,omitempty"`
	Trade     *Trade      `json:"trade,omitempty"`
	Book      *OrderBook  `json:"book,omitempty"`
	Liquidity *VenueQuote `json:"liquidity,omitempty"`
	Reference *Reference  `json:"reference,omitempty"`
}

// WSFeed 连接行情 websocket，把消息写入 Service。只读行情，不涉及下单。
type WSFeed struct {
	URL         string
	Dialer      *websocket.Dialer
	Service     *Service
	Logger      *zap.Logger
	ReadTimeout time.Duration
}

func NewWSFeed(url string, svc *Service, logger *zap.Logger) *WSFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSFeed{
		URL:         url,
		Dialer:      websocket.DefaultDialer,
		Service:     svc,
		Logger:      logger,
		ReadTimeout: 30 * time.Second,
	}
}

// Run 读取直到连接关闭或 ctx 取消。
func (f *WSFeed) Run(ctx context.Context) error {
	if f.Service == nil {
		return fmt.Errorf("ws feed: service required")
	}
	conn, _, err := f.Dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("ws feed dial %s: %w", f.URL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		if f.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(f.ReadTimeout))
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := f.Apply(raw); err != nil {
			f.Logger.Warn("ws feed message dropped", zap.Error(err))
		}
	}
}

// Apply 解析单条消息并更新 Service。
func (f *WSFeed) Apply(raw []byte) error {
	var msg FeedMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode feed message: %w", err)
	}
	if msg.Symbol == "" {
		return fmt.Errorf("feed message without symbol")
	}
	switch msg.Type {
	case "quote":
		if msg.Quote == nil {
			return fmt.Errorf("quote message without payload")
		}
		f.Service.OnQuote(msg.Symbol, *msg.Quote)
	case "trade":
		if msg.Trade == nil {
			return fmt.Errorf("trade message without payload")
		}
		f.Service.OnTrade(msg.Symbol, *msg.Trade)
	case "book":
		if msg.Book == nil {
			return fmt.Errorf("book message without payload")
		}
		f.Service.OnBook(msg.Symbol, NewOrderBook(msg.Book.Bids, msg.Book.Asks))
	case "venue":
		if msg.Liquidity == nil || msg.Venue == "" {
			return fmt.Errorf("venue message without venue/liquidity")
		}
		f.Service.SetVenueQuote(msg.Symbol, msg.Venue, *msg.Liquidity)
	case "reference":
		if msg.Reference == nil {
			return fmt.Errorf("reference message without payload")
		}
		f.Service.SetReference(msg.Symbol, *msg.Reference)
	default:
		return fmt.Errorf("unknown feed message type %q", msg.Type)
	}
	return nil
}
