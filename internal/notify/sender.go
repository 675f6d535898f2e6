// Package notify renders and delivers the clinic's notification emails.
package notify

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"go.uber.org/zap"

	"github.com/hackgods/practicum-scheduling/internal/config"
)

// Sender delivers one email. A nil error means the provider accepted it.
type Sender interface {
	Send(ctx context.Context, msg Email) error
}

type Email struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".doc":  "application/msword",
}

// NewAttachment picks the content type from the file extension.
func NewAttachment(filename string, data []byte) Attachment {
	ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]
	if !ok {
		ct = "application/octet-stream"
	}
	return Attachment{Filename: filename, ContentType: ct, Data: data}
}

// NoopSender logs and drops every message. It stands in whenever no
// provider is configured.
type NoopSender struct {
	log *zap.Logger
}

func NewNoopSender(log *zap.Logger) *NoopSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &NoopSender{log: log}
}

func (s *NoopSender) Send(_ context.Context, msg Email) error {
	s.log.Info("email disabled, dropping message",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// NewSender builds the configured provider behind a circuit breaker.
// Missing credentials or a provider that fails to initialise yield a
// NoopSender, never nil.
func NewSender(ctx context.Context, cfg config.EmailConfig, log *zap.Logger) Sender {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("notify")

	fallback := func(reason string, err error) Sender {
		log.Warn("email delivery disabled", zap.String("reason", reason), zap.Error(err))
		return NewNoopSender(log)
	}

	switch cfg.Provider {
	case "sendgrid":
		if cfg.SendGridAPIKey == "" || cfg.FromEmail == "" {
			return fallback("SENDGRID_API_KEY and EMAIL_FROM are required", nil)
		}
		s := NewSendGridSender(SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
		}, log)
		return NewBreakerSender(s, "sendgrid", BreakerSettings{}, log)

	case "ses":
		if cfg.FromEmail == "" {
			return fallback("EMAIL_FROM is required", nil)
		}
		loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		awsCfg, err := awsconfig.LoadDefaultConfig(loadCtx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return fallback("load aws config", err)
		}
		s := NewSESSender(sesv2.NewFromConfig(awsCfg), SESConfig{
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
		}, log)
		return NewBreakerSender(s, "ses", BreakerSettings{}, log)

	default:
		return NewNoopSender(log)
	}
}
