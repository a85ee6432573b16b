package repository

import (
	"context"

	"github.com/firebird631/siis-rev/internal/domain/models"
	"github.com/firebird631/siis-rev/internal/domain/repository"
	pkgkafka "github.com/firebird631/siis-rev/pkg/kafka"
)

// KafkaPublisher emits closed candles to a Kafka topic, keyed by
// broker/market so one market's candles stay ordered on one partition.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates the closed-candle publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.Publisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishOhlc(ctx context.Context, brokerID, marketID string, o *models.Ohlc) error {
	return p.producer.Publish(ctx, p.topic, []byte(brokerID+"/"+marketID), map[string]interface{}{
		"broker":    brokerID,
		"market":    marketID,
		"timestamp": int64(o.Timestamp * 1000),
		"timeframe": o.Timeframe.String(),
		"bid": map[string]string{
			"o": models.FormatPrice(o.BidOpen),
			"h": models.FormatPrice(o.BidHigh),
			"l": models.FormatPrice(o.BidLow),
			"c": models.FormatPrice(o.BidClose),
		},
		"ask": map[string]string{
			"o": models.FormatPrice(o.AskOpen),
			"h": models.FormatPrice(o.AskHigh),
			"l": models.FormatPrice(o.AskLow),
			"c": models.FormatPrice(o.AskClose),
		},
		"volume": models.FormatPrice(o.Volume),
	})
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
