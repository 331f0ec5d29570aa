package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/quickbuy/internal/kafka"
)

const (
	TopicOrderPlaced = "quickbuy.order.placed"
	EventOrderPlaced = "OrderPlaced"
)

type PlacedItem struct {
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

type OrderPlacedPayload struct {
	OrderID      string       `json:"order_id"`
	PaymentID    string       `json:"payment_id"`
	BuyerID      string       `json:"buyer_id"`
	Method       Method       `json:"method"`
	TotalCents   int64        `json:"total_cents"`
	CourierCents int64        `json:"courier_cents"`
	Items        []PlacedItem `json:"items"`
}

// Publisher announces committed orders. Failures are logged, never rolled back.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, p OrderPlacedPayload) error
}

type producer interface {
	Publish(ctx context.Context, key, value []byte, headers ...kafkago.Header) error
}

type EventPublisher struct {
	Producer producer
	Service  string
	TraceID  func(ctx context.Context) string
}

func (e *EventPublisher) PublishOrderPlaced(ctx context.Context, p OrderPlacedPayload) error {
	env := kafkax.Envelope{
		EventID:       uuid.NewString(),
		EventType:     EventOrderPlaced,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		CorrelationID: p.OrderID,
		Payload:       kafkax.MustMarshal(p),
	}
	if e.TraceID != nil {
		env.TraceID = e.TraceID(ctx)
	}
	// partition by order id so every event of one order stays ordered
	return e.Producer.Publish(ctx, []byte(p.OrderID), kafkax.MustMarshal(env),
		kafkago.Header{Key: kafkax.HeaderEventType, Value: []byte(EventOrderPlaced)},
		kafkago.Header{Key: kafkax.HeaderEventVersion, Value: []byte("1")},
	)
}
