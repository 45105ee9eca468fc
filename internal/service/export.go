package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/nzukiegan/blaiz-loan-backend/internal/clients"
	"github.com/nzukiegan/blaiz-loan-backend/internal/domain"
	"github.com/nzukiegan/blaiz-loan-backend/internal/ledger"
)

const (
	exportSetKey = "export_ids"
	exportTTL    = 20 * time.Minute
)

// ExportStatus tracks a running register export in Redis so operators can
// poll progress and fetch the file link once it is ready.
type ExportStatus struct {
	Key      string    `json:"key"`
	Type     string    `json:"type"`
	Progress float64   `json:"progress"`
	FileURL  *string   `json:"file_url"`
	Error    *string   `json:"error,omitempty"`
	Created  time.Time `json:"created_at"`
}

// ExportStorage is where finished registers land: local disk or S3,
// selected by configuration.
type ExportStorage interface {
	Save(ctx context.Context, fileName string, data []byte) (string, error)
	URL(ctx context.Context, fileName string) (string, error)
}

type registerColumn struct {
	Header string
	Value  func(p domain.Payment) any
}

var registerColumns = []registerColumn{
	{Header: "Reference", Value: func(p domain.Payment) any { return p.Reference }},
	{Header: "Receipt", Value: func(p domain.Payment) any { return deref(p.ReceiptCode) }},
	{Header: "Client", Value: func(p domain.Payment) any { return deref(p.ClientName) }},
	{Header: "Loan ID", Value: func(p domain.Payment) any { return deref(p.LoanID) }},
	{Header: "Amount", Value: func(p domain.Payment) any { return p.Amount.StringFixed(2) }},
	{Header: "Method", Value: func(p domain.Payment) any { return p.Method }},
	{Header: "Status", Value: func(p domain.Payment) any { return string(p.Status) }},
	{Header: "Account Ref", Value: func(p domain.Payment) any { return deref(p.AccountRef) }},
	{Header: "Recorded At", Value: func(p domain.Payment) any {
		if p.CreatedAt == nil {
			return ""
		}
		return p.CreatedAt.Format("2006-01-02 15:04:05")
	}},
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// ExportService builds the payments register as an xlsx workbook in the
// background, with progress mirrored to Redis and the operator feed.
type ExportService struct {
	store   ledger.Store
	redis   *clients.RedisClient
	storage ExportStorage
	alerts  *clients.AlertClient
}

func NewExportService(store ledger.Store, redis *clients.RedisClient, storage ExportStorage, alerts *clients.AlertClient) *ExportService {
	return &ExportService{
		store:   store,
		redis:   redis,
		storage: storage,
		alerts:  alerts,
	}
}

func (s *ExportService) saveStatus(ctx context.Context, st *ExportStatus) error {
	if s.redis == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, st.Key, string(data), exportTTL); err != nil {
		return err
	}
	return s.redis.SAdd(ctx, exportSetKey, st.Key)
}

// StartRegisterExport kicks off a background export and returns its key.
func (s *ExportService) StartRegisterExport(ctx context.Context) (string, error) {
	if s.storage == nil {
		return "", errors.New("export storage not configured")
	}

	exportID := fmt.Sprintf("exports:%s", uuid.NewString())
	status := &ExportStatus{
		Key:      exportID,
		Type:     "payments_register",
		Progress: 0,
		Created:  time.Now(),
	}
	_ = s.saveStatus(ctx, status)

	go s.runRegisterExport(context.Background(), status)

	return exportID, nil
}

func (s *ExportService) runRegisterExport(ctx context.Context, status *ExportStatus) {
	fail := func(msg string) {
		log.Printf("[EXPORT] %s: %s", status.Key, msg)
		status.Error = &msg
		status.Progress = 100
		_ = s.saveStatus(ctx, status)
		if s.alerts != nil {
			_ = s.alerts.NotifyExportFailed(ctx, status.Key, msg)
		}
	}

	payments, err := s.store.ListPayments(ctx)
	if err != nil {
		fail(fmt.Sprintf("list payments failed: %v", err))
		return
	}

	f := excelize.NewFile()
	sheet := "Payments Register"
	f.SetSheetName(f.GetSheetName(0), sheet)

	for i, col := range registerColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col.Header)
	}

	total := len(payments)
	chunkSize := 500
	for i, p := range payments {
		for colIdx, col := range registerColumns {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, i+2)
			_ = f.SetCellValue(sheet, cell, col.Value(p))
		}

		if (i+1)%chunkSize == 0 || i == total-1 {
			raw := float64(i+1) / float64(total) * 100.0
			progress := math.Round(raw)
			if progress >= 100 {
				progress = 95
			}
			status.Progress = progress
			_ = s.saveStatus(ctx, status)
			if s.alerts != nil {
				_ = s.alerts.NotifyExportProgress(ctx, status.Key, progress, "generating")
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		fail(fmt.Sprintf("write workbook failed: %v", err))
		return
	}

	fileName := fmt.Sprintf("payments_register_%s.xlsx", time.Now().Format("20060102_150405"))

	status.Progress = 95
	_ = s.saveStatus(ctx, status)
	if s.alerts != nil {
		_ = s.alerts.NotifyExportProgress(ctx, status.Key, 95, "uploading")
	}

	savedName, err := s.storage.Save(ctx, fileName, buf.Bytes())
	if err != nil {
		fail(fmt.Sprintf("save register failed: %v", err))
		return
	}
	url, err := s.storage.URL(ctx, savedName)
	if err != nil {
		fail(fmt.Sprintf("resolve register url failed: %v", err))
		return
	}

	status.FileURL = &url
	status.Progress = 100
	_ = s.saveStatus(ctx, status)
	if s.alerts != nil {
		_ = s.alerts.NotifyExportProgress(ctx, status.Key, 100, "ready")
		_ = s.alerts.NotifyExportComplete(ctx, status.Key, url, fileName)
	}
	log.Printf("[EXPORT] %s ready: %d payments -> %s", status.Key, total, fileName)
}

// GetExport returns one export's status.
func (s *ExportService) GetExport(ctx context.Context, exportID string) (*ExportStatus, error) {
	if s.redis == nil {
		return nil, errors.New("redis client not configured")
	}
	data, err := s.redis.Get(ctx, exportID)
	if err != nil {
		return nil, errors.New("export not found")
	}
	var status ExportStatus
	if err := json.Unmarshal([]byte(data), &status); err != nil {
		return nil, fmt.Errorf("failed to parse export status: %w", err)
	}
	return &status, nil
}

// ListExports returns known exports, newest first.
func (s *ExportService) ListExports(ctx context.Context) ([]ExportStatus, error) {
	if s.redis == nil {
		return nil, errors.New("redis client not configured")
	}

	keys, err := s.redis.SMembers(ctx, exportSetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get export keys: %w", err)
	}

	var statuses []ExportStatus
	for _, key := range keys {
		data, err := s.redis.Get(ctx, key)
		if err != nil {
			continue
		}
		var status ExportStatus
		if err := json.Unmarshal([]byte(data), &status); err != nil {
			continue
		}
		statuses = append(statuses, status)
	}

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Created.After(statuses[j].Created)
	})
	return statuses, nil
}
