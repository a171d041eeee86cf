package email

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"mime"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"infodigest/internal/config"
	"infodigest/internal/logger"
)

// sendRetries is how many delivery attempts each recipient gets.
const sendRetries = 3

// maxSendBackoff caps the exponential backoff between attempts.
const maxSendBackoff = 30 * time.Second

// Sender delivers digest emails over SMTP. Each recipient gets a freshly
// built message so one recipient's address never leaks to another and one
// failure never voids the rest of the send.
type Sender struct {
	cfg config.Email

	// transmit is swapped in tests.
	transmit func(to string, msg []byte) error
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSender builds a sender from the email configuration.
func NewSender(cfg config.Email) *Sender {
	s := &Sender{cfg: cfg, sleep: sleepCtx}
	s.transmit = s.smtpTransmit
	return s
}

// Send delivers the HTML digest, with the optional inline chart PNG, to every
// configured recipient. It succeeds when at least one recipient was reached
// and fails only when all of them failed.
func (s *Sender) Send(ctx context.Context, subject, htmlBody string, chartPNG []byte) error {
	if len(s.cfg.ToAddrs) == 0 {
		return errors.New("no recipients configured")
	}

	delivered := 0
	var lastErr error
	for _, recipient := range s.cfg.ToAddrs {
		msg := s.buildMessage(recipient, subject, htmlBody, chartPNG)
		if err := s.deliver(ctx, recipient, msg); err != nil {
			logger.Error("delivery failed", "recipient", recipient, "error", err.Error())
			lastErr = err
			continue
		}
		delivered++
		logger.Info("digest delivered", "recipient", recipient)
	}

	if delivered == 0 {
		return fmt.Errorf("delivery failed for all %d recipients: %w", len(s.cfg.ToAddrs), lastErr)
	}
	return nil
}

// deliver retries one recipient with exponential backoff.
func (s *Sender) deliver(ctx context.Context, recipient string, msg []byte) error {
	var lastErr error
	for attempt := 0; attempt < sendRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Min(math.Pow(2, float64(attempt)), maxSendBackoff.Seconds())) * time.Second
			if err := s.sleep(ctx, backoff); err != nil {
				return err
			}
		}
		if err := s.transmit(recipient, msg); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("failed after %d attempts: %w", sendRetries, lastErr)
}

// buildMessage assembles the MIME tree for one recipient:
// multipart/related wrapping multipart/alternative (the HTML body) plus the
// inline chart image referenced by Content-ID.
func (s *Sender) buildMessage(recipient, subject, htmlBody string, chartPNG []byte) []byte {
	relatedBoundary := "rel_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	altBoundary := "alt_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	from := s.cfg.FromAddr
	if s.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.cfg.FromName), s.cfg.FromAddr)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", recipient)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/related; boundary=%q\r\n\r\n", relatedBoundary)

	fmt.Fprintf(&b, "--%s\r\n", relatedBoundary)
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", altBoundary)

	fmt.Fprintf(&b, "--%s\r\n", altBoundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	b.WriteString("Content-Transfer-Encoding: base64\r\n\r\n")
	b.WriteString(wrapBase64(base64.StdEncoding.EncodeToString([]byte(htmlBody))))
	fmt.Fprintf(&b, "\r\n--%s--\r\n", altBoundary)

	if len(chartPNG) > 0 {
		fmt.Fprintf(&b, "--%s\r\n", relatedBoundary)
		b.WriteString("Content-Type: image/png\r\n")
		b.WriteString("Content-Transfer-Encoding: base64\r\n")
		b.WriteString("Content-ID: <trend_chart>\r\n")
		b.WriteString("Content-Disposition: inline; filename=\"trend_chart.png\"\r\n\r\n")
		b.WriteString(wrapBase64(base64.StdEncoding.EncodeToString(chartPNG)))
		b.WriteString("\r\n")
	}
	fmt.Fprintf(&b, "--%s--\r\n", relatedBoundary)
	return []byte(b.String())
}

// wrapBase64 folds base64 output to 76-character lines per RFC 2045.
func wrapBase64(s string) string {
	var b strings.Builder
	for len(s) > 76 {
		b.WriteString(s[:76])
		b.WriteString("\r\n")
		s = s[76:]
	}
	b.WriteString(s)
	return b.String()
}

// smtpTransmit performs one SMTP conversation: implicit TLS when configured,
// STARTTLS otherwise.
func (s *Sender) smtpTransmit(to string, msg []byte) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	var client *smtp.Client
	var err error
	if s.cfg.UseSSL {
		conn, dialErr := tls.Dial("tcp", addr, &tls.Config{ServerName: s.cfg.SMTPHost})
		if dialErr != nil {
			return fmt.Errorf("failed to dial smtp over tls: %w", dialErr)
		}
		client, err = smtp.NewClient(conn, s.cfg.SMTPHost)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("failed to start smtp session: %w", err)
		}
	} else {
		client, err = smtp.Dial(addr)
		if err != nil {
			return fmt.Errorf("failed to dial smtp: %w", err)
		}
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.SMTPHost}); err != nil {
				_ = client.Close()
				return fmt.Errorf("starttls failed: %w", err)
			}
		}
	}
	defer func() { _ = client.Close() }()

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}
	if err := client.Mail(s.cfg.FromAddr); err != nil {
		return fmt.Errorf("smtp mail failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt failed: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close failed: %w", err)
	}
	return client.Quit()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
