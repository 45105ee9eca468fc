package clients

import (
	"context"
	"log"
	"time"

	"github.com/go-resty/resty/v2"
)

type SMSConfig struct {
	APIURL    string
	APIKey    string
	PartnerID string
	ShortCode string
	Timeout   time.Duration
}

// SMSClient posts messages to a bulk-SMS provider. Delivery is
// fire-and-forget: failures are logged and never propagate to the caller.
type SMSClient struct {
	cfg  SMSConfig
	http *resty.Client
}

func NewSMSClient(cfg SMSConfig) *SMSClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &SMSClient{
		cfg:  cfg,
		http: resty.New().SetTimeout(cfg.Timeout),
	}
}

type smsRequest struct {
	APIKey     string `json:"apikey"`
	PartnerID  string `json:"partnerID"`
	ShortCode  string `json:"shortcode"`
	Mobile     string `json:"mobile"`
	Message    string `json:"message"`
	TimeToSend string `json:"timeToSend"`
}

// Send delivers one message to one recipient. It never returns an error;
// the notification sink must not block or fail ledger work.
func (c *SMSClient) Send(ctx context.Context, recipient, message string) {
	if c.cfg.APIURL == "" {
		log.Printf("[SMS] not configured, dropping message to %s", recipient)
		return
	}

	body := smsRequest{
		APIKey:     c.cfg.APIKey,
		PartnerID:  c.cfg.PartnerID,
		ShortCode:  c.cfg.ShortCode,
		Mobile:     NormalizePhone(recipient),
		Message:    message,
		TimeToSend: time.Now().Format(time.RFC3339),
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(c.cfg.APIURL)
	if err != nil {
		log.Printf("[SMS] send to %s failed: %v", recipient, err)
		return
	}
	if resp.IsError() {
		log.Printf("[SMS] provider returned %s for %s", resp.Status(), recipient)
	}
}
