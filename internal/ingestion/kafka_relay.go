package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaWriter is the subset of *kafka.Writer the relay needs, grounded on
// internal/tools/kafka's Writer interface so the relay can be exercised
// against a fake in tests.
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// RepairRelay durably fans out repair-sweep outcomes to a Kafka topic, per
// config.KafkaConfig's "repair task fan-out" role. Optional: RepairWorker
// runs its sweep identically with or without one configured.
type RepairRelay struct {
	w     KafkaWriter
	topic string
}

// repairEvent is the wire payload published for each sweep outcome.
type repairEvent struct {
	DocumentID string `json:"document_id"`
	IndexState string `json:"index_state"`
	Repaired   bool   `json:"repaired"`
	Error      string `json:"error,omitempty"`
	At         int64  `json:"at"`
}

// NewKafkaRepairRelay dials brokers and returns a relay publishing to topic,
// following internal/tools/kafka/producer.go's NewProducerFromBrokers shape
// (comma-separated broker list, kafka.LeastBytes balancer).
func NewKafkaRepairRelay(brokers []string, topic string) (*RepairRelay, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka relay: no brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka relay: no topic configured")
	}
	for i, b := range brokers {
		brokers[i] = strings.TrimSpace(b)
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &RepairRelay{w: w, topic: topic}, nil
}

// Close releases the underlying writer's connections, if it owns one.
func (r *RepairRelay) Close() error {
	if wc, ok := r.w.(interface{ Close() error }); ok {
		return wc.Close()
	}
	return nil
}

func (r *RepairRelay) publish(ctx context.Context, ev repairEvent) {
	if r == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = r.w.WriteMessages(ctx, kafka.Message{
		Topic: r.topic,
		Key:   []byte(ev.DocumentID),
		Value: payload,
	})
}

func (r *RepairRelay) notifyRepaired(ctx context.Context, documentID, indexState string) {
	r.publish(ctx, repairEvent{DocumentID: documentID, IndexState: indexState, Repaired: true, At: time.Now().Unix()})
}

func (r *RepairRelay) notifyStillUnrepaired(ctx context.Context, documentID, indexState string, cause error) {
	r.publish(ctx, repairEvent{DocumentID: documentID, IndexState: indexState, Repaired: false, Error: cause.Error(), At: time.Now().Unix()})
}
