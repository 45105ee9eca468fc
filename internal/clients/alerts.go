package clients

import (
	"context"
	"time"

	ws "github.com/nzukiegan/blaiz-loan-backend/internal/transport/websocket"
)

// AlertClient pushes reconciliation events to the operator websocket feed.
type AlertClient struct {
	hub *ws.Hub
}

func NewAlertClient(hub *ws.Hub) *AlertClient {
	return &AlertClient{
		hub: hub,
	}
}

// NotifyAnomaly raises a reconciliation anomaly on the operator feed:
// malformed callbacks, unmatched payments, escalated ledger conflicts.
func (c *AlertClient) NotifyAnomaly(ctx context.Context, kind, reference, detail string) error {
	if c.hub == nil {
		return nil
	}

	message := &ws.Message{
		Type: "recon_anomaly",
		Data: map[string]interface{}{
			"kind":        kind,
			"reference":   reference,
			"detail":      detail,
			"detected_at": time.Now().Format(time.RFC3339),
		},
	}

	c.hub.Broadcast(message)
	return nil
}

func (c *AlertClient) NotifyExportProgress(ctx context.Context, exportID string, progress float64, stage string) error {
	if c.hub == nil {
		return nil
	}

	data := map[string]interface{}{
		"id":       exportID,
		"progress": progress,
	}
	if stage != "" {
		data["stage"] = stage
	}

	c.hub.Broadcast(&ws.Message{
		Type: "export_progress",
		Data: data,
	})
	return nil
}

func (c *AlertClient) NotifyExportComplete(ctx context.Context, exportID, url, filename string) error {
	if c.hub == nil {
		return nil
	}

	c.hub.Broadcast(&ws.Message{
		Type: "export_complete",
		Data: map[string]interface{}{
			"id":       exportID,
			"url":      url,
			"filename": filename,
		},
	})
	return nil
}

// NotifyExportFailed reports a failed register export with its error message.
func (c *AlertClient) NotifyExportFailed(ctx context.Context, exportID, errMsg string) error {
	if c.hub == nil {
		return nil
	}

	c.hub.Broadcast(&ws.Message{
		Type: "export_failed",
		Data: map[string]interface{}{
			"id":      exportID,
			"message": errMsg,
		},
	})
	return nil
}
