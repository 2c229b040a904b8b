// Package email, uygulama genelinde email gönderimi için soyutlama katmanı sağlar.
//
// EmailSender interface'i ile gönderim detayları soyutlanır.
// Şu anki implementasyon Resend API kullanır; API key verilmezse NewSender
// hiçbir şey göndermeyen bir sender döner.
package email

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/resend/resend-go/v3"
)

// MissedCall, cevapsız arama bildiriminin içeriği.
type MissedCall struct {
	CalleeName string
	CallerName string
	Video      bool
	At         time.Time
}

// EmailSender, email gönderimi için interface.
// Service katmanı bu interface'e bağımlıdır, concrete Resend implementasyonuna değil.
type EmailSender interface {
	// SendMissedCall, aranan kullanıcıya cevapsız arama email'i gönderir.
	SendMissedCall(ctx context.Context, toEmail string, m MissedCall) error
}

// resendSender, Resend API ile email gönderen EmailSender implementasyonu.
type resendSender struct {
	client *resend.Client
	from   string // ör: mqvi <calls@mqvi.net>
}

// NewSender, apiKey boşsa no-op sender, değilse Resend sender döner.
func NewSender(apiKey, from string) EmailSender {
	if apiKey == "" {
		return nopSender{}
	}
	return NewResendSender(apiKey, from)
}

// NewResendSender, Resend API client'ı ile yeni bir EmailSender oluşturur.
// from, Resend'de doğrulanmış domain altında olmalı.
func NewResendSender(apiKey, from string) EmailSender {
	return &resendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// SendMissedCall, cevapsız arama email'i gönderir.
func (s *resendSender) SendMissedCall(ctx context.Context, toEmail string, m MissedCall) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{toEmail},
		Subject: MissedCallSubject(m),
		Html:    RenderMissedCall(m),
	}

	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return fmt.Errorf("failed to send missed call email: %w", err)
	}
	return nil
}

// MissedCallSubject, email konusu.
func MissedCallSubject(m MissedCall) string {
	return fmt.Sprintf("Missed call from %s", m.CallerName)
}

// RenderMissedCall, email gövdesini üretir. İsimler HTML-escape edilir.
func RenderMissedCall(m MissedCall) string {
	kind := "voice"
	if m.Video {
		kind = "video"
	}
	at := m.At.UTC().Format("2 Jan 2006 15:04 MST")

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="margin:0;padding:0;background-color:#1a1a2e;font-family:Arial,Helvetica,sans-serif;">
  <table width="100%%" cellpadding="0" cellspacing="0" style="background-color:#1a1a2e;padding:40px 0;">
    <tr>
      <td align="center">
        <table width="480" cellpadding="0" cellspacing="0" style="background-color:#16213e;border-radius:8px;padding:40px;">
          <tr>
            <td>
              <h1 style="color:#e2e8f0;font-size:24px;margin:0 0 8px 0;">mqvi</h1>
              <h2 style="color:#e2e8f0;font-size:18px;margin:0 0 24px 0;">You missed a %s call</h2>
              <p style="color:#94a3b8;font-size:15px;line-height:1.6;margin:0 0 24px 0;">
                Hi %s, <strong>%s</strong> tried to reach you on %s.
              </p>
              <p style="color:#64748b;font-size:13px;line-height:1.6;margin:0;">
                You are receiving this because you were offline or did not answer.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`, kind, html.EscapeString(m.CalleeName), html.EscapeString(m.CallerName), at)
}

// nopSender, email yapılandırılmadığında kullanılır.
type nopSender struct{}

func (nopSender) SendMissedCall(context.Context, string, MissedCall) error { return nil }
