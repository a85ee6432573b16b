package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/firebird631/siis-rev/internal/domain/models"
	domrepo "github.com/firebird631/siis-rev/internal/domain/repository"
	pkgkafka "github.com/firebird631/siis-rev/pkg/kafka"
)

// KafkaTicksHandler consumes tick messages and feeds the ingestor.
//
// Ordering matters: the consumer running this handler must use a single
// worker, otherwise ticks of one market can be applied out of order and
// the aggregators will drop them as stale.
type KafkaTicksHandler struct {
	topic    string
	ingestor *Ingestor
	metrics  domrepo.Metrics
}

func NewKafkaTicksHandler(topic string, ingestor *Ingestor, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, ingestor: ingestor, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// incoming message schema: {market, t (ms), bid, ask, v}
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Market string  `json:"market"`
		T      int64   `json:"t"`
		Bid    float64 `json:"bid"`
		Ask    float64 `json:"ask"`
		V      float64 `json:"v"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		if h.metrics != nil {
			h.metrics.RecordAnomaly("consumer_unmarshal")
		}
		return fmt.Errorf("unmarshal tick: %w", err)
	}
	if m.Market == "" {
		if h.metrics != nil {
			h.metrics.RecordAnomaly("consumer_empty_market")
		}
		return fmt.Errorf("tick without market")
	}

	h.ingestor.HandleTick(ctx, m.Market, models.Tick{
		Timestamp: float64(m.T) / 1000,
		Bid:       m.Bid,
		Ask:       m.Ask,
		Volume:    m.V,
	})
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
