package clients

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

var (
	// ErrGatewayRejected means the gateway answered but refused the request.
	// No payment record should exist after this error.
	ErrGatewayRejected = errors.New("payment gateway rejected the request")

	// ErrGatewayUnavailable is a transport-level failure before any gateway
	// decision was made.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrTransactionPending is the retryable "not found yet" answer from a
	// status query: the gateway has the transaction but no final result.
	ErrTransactionPending = errors.New("transaction still processing at gateway")
)

type MpesaConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	ShortCode      string
	PassKey        string
	CallbackURL    string
	Timeout        time.Duration
}

// MpesaClient talks to the Daraja STK-push API. Access tokens are cached
// in-process until near expiry; concurrent refreshes are harmless beyond an
// extra token fetch. Write-side calls are never retried here, since a
// duplicate push would prompt the payer twice.
type MpesaClient struct {
	cfg  MpesaConfig
	http *resty.Client
	now  func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

func NewMpesaClient(cfg MpesaConfig) *MpesaClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &MpesaClient{
		cfg:  cfg,
		http: resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(cfg.Timeout),
		now:  time.Now,
	}
}

// SetClock overrides the client's clock. Timestamps and passwords are pure
// functions of the clock and credentials, which keeps signing testable
// without network access.
func (c *MpesaClient) SetClock(now func() time.Time) {
	c.now = now
}

// Timestamp returns the gateway's YYYYMMDDHHMMSS signing timestamp.
func (c *MpesaClient) Timestamp() string {
	return c.now().Format("20060102150405")
}

// Password builds the STK signing password: base64(shortcode+passkey+timestamp).
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// NormalizePhone converts a Kenyan phone number to the 254... international
// form the gateway expects.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	switch {
	case strings.HasPrefix(phone, "0"):
		return "254" + phone[1:]
	case strings.HasPrefix(phone, "+"):
		return phone[1:]
	default:
		return phone
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"`
}

func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(30*time.Second).Before(c.tokenExpiry) {
		return c.token, nil
	}

	var tok tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret).
		SetResult(&tok).
		Get("/oauth/v1/generate?grant_type=client_credentials")
	if err != nil {
		return "", fmt.Errorf("token request failed: %w: %v", ErrGatewayUnavailable, err)
	}
	if resp.IsError() || tok.AccessToken == "" {
		return "", fmt.Errorf("token request returned %s: %w", resp.Status(), ErrGatewayRejected)
	}

	ttl := 3600 * time.Second
	if secs, err := time.ParseDuration(tok.ExpiresIn + "s"); err == nil && secs > 0 {
		ttl = secs
	}
	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	return c.token, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type gatewayError struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type PushResult struct {
	CheckoutRequestID string
	CustomerMessage   string
}

// InitiatePush asks the gateway to display a payment prompt on the payer's
// device. The amount is rounded to whole shillings, the gateway's smallest
// chargeable unit.
func (c *MpesaClient) InitiatePush(ctx context.Context, phone string, amount decimal.Decimal, accountReference, description string) (*PushResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.Timestamp()
	req := stkPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.PassKey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   "CustomerPayBillOnline",
		Amount:            amount.Round(0).IntPart(),
		PartyA:            NormalizePhone(phone),
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       NormalizePhone(phone),
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  accountReference,
		TransactionDesc:   description,
	}

	var success stkPushResponse
	var gwErr gatewayError
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&success).
		SetError(&gwErr).
		Post("/mpesa/stkpush/v1/processrequest")
	if err != nil {
		log.Printf("[MPESA] stk push transport error for %s: %v", accountReference, err)
		return nil, fmt.Errorf("stk push: %w: %v", ErrGatewayUnavailable, err)
	}
	if resp.IsError() {
		log.Printf("[MPESA] stk push rejected for %s: status=%s code=%s msg=%s",
			accountReference, resp.Status(), gwErr.ErrorCode, gwErr.ErrorMessage)
		return nil, fmt.Errorf("stk push rejected (%s): %w", gwErr.ErrorMessage, ErrGatewayRejected)
	}
	if success.ResponseCode != "0" {
		log.Printf("[MPESA] stk push not accepted for %s: code=%s desc=%s",
			accountReference, success.ResponseCode, success.ResponseDescription)
		return nil, fmt.Errorf("stk push not accepted (%s): %w", success.ResponseDescription, ErrGatewayRejected)
	}

	return &PushResult{
		CheckoutRequestID: success.CheckoutRequestID,
		CustomerMessage:   success.CustomerMessage,
	}, nil
}

type stkQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

type StatusResult struct {
	ResultCode  string
	Description string
}

// QueryStatus re-signs a status query for one checkout. The caller may retry
// this on timeout; the query is read-only at the gateway.
func (c *MpesaClient) QueryStatus(ctx context.Context, checkoutRequestID string) (*StatusResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	timestamp := c.Timestamp()
	payload := map[string]string{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          Password(c.cfg.ShortCode, c.cfg.PassKey, timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var success stkQueryResponse
	var gwErr gatewayError
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&success).
		SetError(&gwErr).
		Post("/mpesa/stkpushquery/v1/query")
	if err != nil {
		return nil, fmt.Errorf("status query: %w: %v", ErrGatewayUnavailable, err)
	}
	if resp.IsError() {
		// The gateway answers "transaction is being processed" with an error
		// body; that is a retryable in-flight state, not a failure.
		if gwErr.ErrorCode == "500.001.1001" {
			return nil, ErrTransactionPending
		}
		return nil, fmt.Errorf("status query rejected (%s): %w", gwErr.ErrorMessage, ErrGatewayRejected)
	}

	return &StatusResult{
		ResultCode:  success.ResultCode,
		Description: success.ResultDesc,
	}, nil
}
