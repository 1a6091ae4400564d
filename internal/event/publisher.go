// Package event publishes pricing events to Kafka.
package event

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/kart-pricing/internal/domain/catalog"
)

// TypePriceUpdated is the type of events announcing a new article price.
const TypePriceUpdated = "price_updated"

// Config configures the Kafka publisher.
type Config struct {
	Brokers      []string      `usage:"Kafka brokers; empty disables publishing"`
	Topic        string        `default:"pricing.events" usage:"topic of price events"`
	BatchTimeout time.Duration `default:"10ms" usage:"maximum time a message waits for a batch"`
}

// Writer is the subset of *kafka.Writer used by Publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ catalog.Publisher = (*Publisher)(nil)

// Publisher writes pricing events to a Kafka topic.
type Publisher struct {
	w     Writer
	topic string
	now   func() time.Time
	newID func() string
}

// NewPublisher creates a Publisher writing through w.
func NewPublisher(w Writer, topic string) *Publisher {
	return &Publisher{
		w:     w,
		topic: topic,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// NewKafkaWriter creates a writer for the configured brokers.
func NewKafkaWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// PublishPriceUpdated announces a new article price. Events of one article
// share a partition key, so consumers see its prices in order.
func (p *Publisher) PublishPriceUpdated(ctx context.Context, ev catalog.PriceUpdated) error {
	id := p.newID()
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.ExternalArticleID),
		Value: encodePriceUpdated(id, p.now(), ev),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(TypePriceUpdated)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s to %s", TypePriceUpdated, p.topic)
	}

	zctx.From(ctx).Debug("Event published",
		zap.String("event_id", id),
		zap.String("type", TypePriceUpdated),
		zap.String("article_id", ev.ExternalArticleID),
	)
	return nil
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// encodePriceUpdated renders the event envelope:
//
//	{"eventId":"...","type":"price_updated","timestamp":"...",
//	 "message":{"articleId":"...","price":12.5,"startDate":"..."}}
func encodePriceUpdated(id string, at time.Time, ev catalog.PriceUpdated) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("eventId")
	e.Str(id)
	e.FieldStart("type")
	e.Str(TypePriceUpdated)
	e.FieldStart("timestamp")
	e.Str(at.UTC().Format(time.RFC3339Nano))
	e.FieldStart("message")
	e.ObjStart()
	e.FieldStart("articleId")
	e.Str(ev.ExternalArticleID)
	e.FieldStart("price")
	e.Num(jx.Num(ev.Price.String()))
	e.FieldStart("startDate")
	e.Str(ev.StartDate.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
	e.ObjEnd()
	return e.Bytes()
}

// Nop discards events. It stands in for Publisher when no brokers are configured.
type Nop struct{}

// PublishPriceUpdated implements catalog.Publisher.
func (Nop) PublishPriceUpdated(context.Context, catalog.PriceUpdated) error { return nil }
