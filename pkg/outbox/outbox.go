// Package outbox is a minimal transactional outbox on postgres: contract
// events are inserted next to the state they describe and a relay drains
// pending rows to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	segkafka "github.com/segmentio/kafka-go"

	"github.com/itayshmool/ucp-payments-go/pkg/contracts"
	"github.com/itayshmool/ucp-payments-go/pkg/kafka"
	"github.com/itayshmool/ucp-payments-go/pkg/logging"
)

type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}

func Insert(ctx context.Context, pool *pgxpool.Pool, eventID, topic, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `INSERT INTO outbox(event_id, topic, key, payload) VALUES ($1, $2, $3, $4)`, eventID, topic, key, data)
	return err
}

func MarkSent(ctx context.Context, pool *pgxpool.Pool, id int64) error {
	_, err := pool.Exec(ctx, `UPDATE outbox SET sent_at=now() WHERE id=$1`, id)
	return err
}

func FetchPending(ctx context.Context, pool *pgxpool.Pool, limit int) ([]Record, error) {
	rows, err := pool.Query(ctx, `SELECT id, event_id, topic, key, payload, created_at, sent_at FROM outbox WHERE sent_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.Topic, &rec.Key, &rec.Payload, &rec.CreatedAt, &rec.SentAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Publisher writes contract events to the outbox table instead of the
// broker, so the event survives a crash between completion and publish.
type Publisher struct {
	Pool  *pgxpool.Pool
	Topic string
}

func (p *Publisher) Publish(ctx context.Context, event contracts.Event) error {
	return Insert(ctx, p.Pool, event.EventID, p.Topic, event.CheckoutID, event)
}

// Relay polls pending outbox rows and forwards them to Kafka until ctx
// is cancelled. Rows that fail to send stay pending and are retried on
// the next tick.
func Relay(ctx context.Context, pool *pgxpool.Pool, client *kafka.Client, service string, interval time.Duration) {
	writers := map[string]*segkafka.Writer{}
	defer func() {
		for _, w := range writers {
			_ = w.Close()
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pending, err := FetchPending(ctx, pool, 100)
		if err != nil {
			logging.Log(logging.Fields{Service: service, Step: "outbox_fetch", Status: "error", Message: err.Error()})
			continue
		}
		for _, rec := range pending {
			w, ok := writers[rec.Topic]
			if !ok {
				w = client.NewWriter(rec.Topic)
				writers[rec.Topic] = w
			}
			msg := segkafka.Message{Key: []byte(rec.Key), Value: rec.Payload, Time: time.Now().UTC()}
			if err := w.WriteMessages(ctx, msg); err != nil {
				logging.Log(logging.Fields{Service: service, EventID: rec.EventID, Step: "outbox_publish", Status: "error", Message: err.Error()})
				break
			}
			if err := MarkSent(ctx, pool, rec.ID); err != nil {
				logging.Log(logging.Fields{Service: service, EventID: rec.EventID, Step: "outbox_mark_sent", Status: "error", Message: err.Error()})
			}
		}
	}
}
