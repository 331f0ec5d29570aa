// Package stockwatch follows OrderPlaced events and keeps a per-seller set of
// products that are running out.
package stockwatch

import (
	"context"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/quickbuy/internal/checkout"
	kafkax "github.com/ariefcatur/quickbuy/internal/kafka"
	"github.com/ariefcatur/quickbuy/internal/logger"
	"github.com/ariefcatur/quickbuy/internal/redisx"
)

const (
	dedupScope = "stockwatch"

	// TopicDeadLetter holds OrderPlaced events that kept failing here.
	TopicDeadLetter = "quickbuy.order.placed.stockwatch.dlq"
)

type StockReader interface {
	Stock(ctx context.Context, productIDs []string) ([]ProductStock, error)
}

type Recorder interface {
	IncEvent(result string)
	IncLowStock()
}

type Service struct {
	Stock     StockReader
	Redis     redis.Cmdable
	Threshold int
	Metrics   Recorder // optional
	Log       *logger.Logger
}

// HandleOrderPlaced is installed as the consumer handler. Returning an error
// makes the consumer retry the message; the dedup mark is only written once
// the event is fully handled.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.UnmarshalEnvelope(m.Value)
	if err != nil {
		// redelivery cannot fix a bad message
		s.Log.Error(ctx, "stockwatch.malformed", err)
		s.count("malformed")
		return nil
	}
	if env.EventType != checkout.EventOrderPlaced {
		s.count("ignored")
		return nil
	}
	ctx = s.Log.WithFields(ctx, map[string]any{"event_id": env.EventID, "order_id": env.CorrelationID})

	dkey := fmt.Sprintf(redisx.KeyDedup, dedupScope, env.EventID)
	seen, err := s.Redis.Exists(ctx, dkey).Result()
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if seen > 0 {
		s.count("duplicate")
		return nil
	}

	p, err := kafkax.UnwrapPayload[checkout.OrderPlacedPayload](env.Payload)
	if err != nil {
		s.Log.Error(ctx, "stockwatch.malformed", err)
		s.count("malformed")
		return nil
	}

	ids := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.ProductID)
	}
	stock, err := s.Stock.Stock(ctx, ids)
	if err != nil {
		return err
	}

	var low []ProductStock
	for _, ps := range stock {
		if ps.Stock <= s.Threshold {
			low = append(low, ps)
		}
	}
	if len(low) > 0 {
		if err := s.flag(ctx, low); err != nil {
			return err
		}
	}

	if _, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	s.count("handled")
	return nil
}

func (s *Service) flag(ctx context.Context, low []ProductStock) error {
	_, err := s.Redis.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, ps := range low {
			key := fmt.Sprintf(redisx.KeyLowStock, ps.SellerID)
			p.SAdd(ctx, key, ps.ProductID)
			p.Expire(ctx, key, redisx.TTLLowStock)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("flag low stock: %w", err)
	}
	for _, ps := range low {
		s.Log.Warn(s.Log.WithFields(ctx, map[string]any{
			"seller_id":  ps.SellerID,
			"product_id": ps.ProductID,
			"product":    ps.Name,
			"stock":      ps.Stock,
		}), "stockwatch.low_stock")
		if s.Metrics != nil {
			s.Metrics.IncLowStock()
		}
	}
	return nil
}

// LowStock lists the seller's flagged product ids, sorted.
func (s *Service) LowStock(ctx context.Context, sellerID string) ([]string, error) {
	ids, err := s.Redis.SMembers(ctx, fmt.Sprintf(redisx.KeyLowStock, sellerID)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Service) count(result string) {
	if s.Metrics != nil {
		s.Metrics.IncEvent(result)
	}
}
