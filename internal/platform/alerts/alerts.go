// Package alerts is the operator-facing alert channel. Chain integrity
// violations and key-expiry incidents are fatal for the triggering operation
// but must not crash the process; they surface here instead, as Kafka
// records when brokers are configured and always in the log.
package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"custos/internal/platform/config"
	id "custos/pkg/domain"
)

// Alert is the wire shape of one operator alert.
type Alert struct {
	Kind     string    `json:"kind"`
	TenantID string    `json:"tenant_id"`
	KeyID    string    `json:"key_id,omitempty"`
	Sequence uint64    `json:"sequence,omitempty"`
	At       time.Time `json:"at"`
}

const (
	KindChainIntegrity = "chain_integrity_violation"
	KindKeyExpired     = "key_expired"
)

// Publisher fan-outs alerts to Kafka and the log. A nil Publisher is safe to
// call and drops nothing but the Kafka leg.
type Publisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// New connects to the configured brokers and ensures the alert topic
// exists. Returns nil when no brokers are configured.
func New(ctx context.Context, cfg config.Kafka, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AlertTopic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("connect kafka: %w", err)
	}
	if err := ensureTopic(ctx, client, cfg.AlertTopic); err != nil {
		client.Close()
		return nil, err
	}
	return &Publisher{client: client, topic: cfg.AlertTopic, logger: logger}, nil
}

func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	responses, err := adm.CreateTopics(ctx, 1, -1, nil, topic)
	if err != nil {
		return fmt.Errorf("create alert topic: %w", err)
	}
	for _, resp := range responses {
		if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create alert topic %s: %w", resp.Topic, resp.Err)
		}
	}
	return nil
}

// ChainIntegrityViolation reports a broken audit chain link. Implements the
// audit chain's alert sink.
func (p *Publisher) ChainIntegrityViolation(ctx context.Context, tenantID id.TenantID, brokenSeq uint64) {
	p.publish(ctx, Alert{
		Kind:     KindChainIntegrity,
		TenantID: tenantID.String(),
		Sequence: brokenSeq,
		At:       time.Now().UTC(),
	})
}

// KeyExpired reports a detokenization attempt against an expired key.
// Implements the vault's alert sink.
func (p *Publisher) KeyExpired(ctx context.Context, tenantID id.TenantID, keyID id.KeyID) {
	p.publish(ctx, Alert{
		Kind:     KindKeyExpired,
		TenantID: tenantID.String(),
		KeyID:    keyID.String(),
		At:       time.Now().UTC(),
	})
}

func (p *Publisher) publish(ctx context.Context, alert Alert) {
	if p == nil || p.client == nil {
		return
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		p.logger.ErrorContext(ctx, "marshal alert failed", "kind", alert.Kind, "error", err)
		return
	}
	record := &kgo.Record{
		Key:   []byte(alert.TenantID),
		Value: payload,
		Topic: p.topic,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.ErrorContext(ctx, "produce alert failed", "kind", alert.Kind, "error", err)
		}
	})
}

// Close flushes pending alerts and releases the Kafka client.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.client.Flush(ctx)
	p.client.Close()
}
