// Package notify publishes a record to Kafka every time the RTR Delta
// Store is republished, so downstream consumers can react to VRP
// changes without polling RTR or the diagnostics API.
//
// Grounded on stages/rv-live/kafka.go's franz-go usage, inverted from
// consumer to producer: this package keeps that file's
// kadm-for-topic-discovery idiom (here, to confirm the topic exists
// rather than to pattern-match many of them) and its
// Context-driven shutdown shape.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rpkid/rpkid/pkg/rtr"
)

// Publisher produces one JSON record to Kafka per Publish call. The
// validate stage calls Publish after every successful run, whether or
// not the store's serial advanced.
type Publisher struct {
	Brokers string
	Topic   string
	Log     zerolog.Logger

	client *kgo.Client
}

func (p *Publisher) Connect(ctx context.Context) error {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(strings.Split(p.Brokers, ",")...),
	)
	if err != nil {
		return err
	}

	admin := kadm.NewClient(client)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	meta, err := admin.Metadata(ctx, p.Topic)
	if err != nil {
		client.Close()
		return err
	}
	if t, ok := meta.Topics[p.Topic]; !ok || t.Err != nil {
		p.Log.Warn().Str("topic", p.Topic).Msg("notify: topic not found at startup; franz-go will auto-create or error lazily on produce")
	}

	p.client = client
	return nil
}

func (p *Publisher) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

type publicationRecord struct {
	SessionID uint16    `json:"session_id"`
	Serial    uint32    `json:"serial"`
	VRPCount  int       `json:"vrp_count"`
	Timestamp time.Time `json:"timestamp"`
}

// Publish emits a record describing the store's current state. stamp
// is the caller-supplied wall-clock time, so the validation stage (the
// only caller) can stamp the record with the run's start time instead
// of Publish reading the clock itself.
func (p *Publisher) Publish(ctx context.Context, store *rtr.Store, stamp time.Time) error {
	if p.client == nil {
		return nil
	}
	snap := store.Snapshot()
	count := 0
	if snap != nil {
		count = snap.Len()
	}
	rec := publicationRecord{
		SessionID: store.SessionID(),
		Serial:    store.CurrentSerial(),
		VRPCount:  count,
		Timestamp: stamp,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	result := p.client.ProduceSync(ctx, &kgo.Record{Topic: p.Topic, Value: payload})
	return result.FirstErr()
}
