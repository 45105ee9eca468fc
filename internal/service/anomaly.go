package service

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/nzukiegan/blaiz-loan-backend/internal/clients"
)

const (
	anomalySetKey = "anomaly_ids"
	anomalyTTL    = 7 * 24 * time.Hour
)

// Anomaly is a reconciliation event that needs operator review: a malformed
// callback, an unmatched payment, or an escalated ledger conflict.
type Anomaly struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Reference string    `json:"reference"`
	Detail    string    `json:"detail"`
	Created   time.Time `json:"created_at"`
}

const (
	AnomalyMalformedCallback = "malformed_callback"
	AnomalyUnmatchedPayment  = "unmatched_payment"
	AnomalyLedgerConflict    = "ledger_conflict"
	AnomalyOrphanCallback    = "orphan_callback"
)

// AnomalyLog records anomalies in Redis and mirrors each one to the operator
// websocket feed. Recording is best-effort: reconciliation never fails
// because the register is unavailable.
type AnomalyLog struct {
	redis  *clients.RedisClient
	alerts *clients.AlertClient
}

func NewAnomalyLog(redis *clients.RedisClient, alerts *clients.AlertClient) *AnomalyLog {
	return &AnomalyLog{redis: redis, alerts: alerts}
}

func (l *AnomalyLog) Report(ctx context.Context, kind, reference, detail string) {
	log.Printf("[RECON] anomaly %s ref=%s: %s", kind, reference, detail)

	a := Anomaly{
		ID:        "anomaly:" + uuid.NewString(),
		Kind:      kind,
		Reference: reference,
		Detail:    detail,
		Created:   time.Now(),
	}

	if l.redis != nil {
		data, err := json.Marshal(a)
		if err == nil {
			if err := l.redis.Set(ctx, a.ID, string(data), anomalyTTL); err != nil {
				log.Printf("[RECON] anomaly register write failed: %v", err)
			} else if err := l.redis.SAdd(ctx, anomalySetKey, a.ID); err != nil {
				log.Printf("[RECON] anomaly register index failed: %v", err)
			}
		}
	}

	if l.alerts != nil {
		_ = l.alerts.NotifyAnomaly(ctx, kind, reference, detail)
	}
}

// List returns the registered anomalies, newest first. Entries whose value
// has already expired out of Redis are skipped.
func (l *AnomalyLog) List(ctx context.Context) ([]Anomaly, error) {
	if l.redis == nil {
		return nil, nil
	}

	keys, err := l.redis.SMembers(ctx, anomalySetKey)
	if err != nil {
		return nil, err
	}

	var out []Anomaly
	for _, key := range keys {
		data, err := l.redis.Get(ctx, key)
		if err != nil {
			continue
		}
		var a Anomaly
		if err := json.Unmarshal([]byte(data), &a); err != nil {
			continue
		}
		out = append(out, a)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Created.After(out[j].Created)
	})
	return out, nil
}
