package email

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"infodigest/internal/config"
)

func testSender(transmit func(to string, msg []byte) error) *Sender {
	s := NewSender(config.Email{
		SMTPHost: "smtp.example.com",
		SMTPPort: 587,
		FromAddr: "digest@example.com",
		FromName: "InfoDigest",
		ToAddrs:  []string{"alice@example.com", "bob@example.com"},
	})
	s.transmit = transmit
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

func TestSendAllRecipients(t *testing.T) {
	var sent []string
	s := testSender(func(to string, msg []byte) error {
		sent = append(sent, to)
		body := string(msg)
		// Each message is addressed to exactly one recipient.
		if !strings.Contains(body, "To: "+to+"\r\n") {
			t.Errorf("message for %s has wrong To header", to)
		}
		other := "alice@example.com"
		if to == other {
			other = "bob@example.com"
		}
		if strings.Contains(body, other) {
			t.Errorf("message for %s leaks the other recipient", to)
		}
		return nil
	})

	if err := s.Send(context.Background(), "AI Digest - 2026-03-15", "<html></html>", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(sent) != 2 {
		t.Errorf("delivered to %d recipients, want 2", len(sent))
	}
}

func TestSendPartialFailureSucceeds(t *testing.T) {
	s := testSender(func(to string, msg []byte) error {
		if to == "alice@example.com" {
			return errors.New("mailbox full")
		}
		return nil
	})
	if err := s.Send(context.Background(), "subj", "body", nil); err != nil {
		t.Errorf("Send() with one surviving recipient must succeed, got %v", err)
	}
}

func TestSendTotalFailure(t *testing.T) {
	calls := 0
	s := testSender(func(to string, msg []byte) error {
		calls++
		return errors.New("connection refused")
	})
	err := s.Send(context.Background(), "subj", "body", nil)
	if err == nil {
		t.Fatal("Send() must fail when every recipient fails")
	}
	// Each of the two recipients is retried the full number of times.
	if calls != 2*sendRetries {
		t.Errorf("transmit called %d times, want %d", calls, 2*sendRetries)
	}
}

func TestSendNoRecipients(t *testing.T) {
	s := NewSender(config.Email{})
	if err := s.Send(context.Background(), "subj", "body", nil); err == nil {
		t.Error("Send() with no recipients must fail")
	}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	s := testSender(func(to string, msg []byte) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	s.cfg.ToAddrs = []string{"alice@example.com"}

	if err := s.Send(context.Background(), "subj", "body", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("transmit called %d times, want 3", attempts)
	}
}

func TestDeliverStopsOnCancelledContext(t *testing.T) {
	s := testSender(func(to string, msg []byte) error {
		return errors.New("always fails")
	})
	s.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }
	s.cfg.ToAddrs = []string{"alice@example.com"}

	if err := s.Send(context.Background(), "subj", "body", nil); err == nil {
		t.Error("Send() must fail when backoff is interrupted")
	}
}

func TestBuildMessageMIMEStructure(t *testing.T) {
	s := testSender(nil)
	chart := []byte{0x89, 'P', 'N', 'G'}
	msg := string(s.buildMessage("alice@example.com", "The Subject", "<html>body</html>", chart))

	for _, want := range []string{
		"MIME-Version: 1.0\r\n",
		"Content-Type: multipart/related;",
		"Content-Type: multipart/alternative;",
		"Content-Type: text/html; charset=utf-8\r\n",
		"Content-Transfer-Encoding: base64\r\n",
		"Content-Type: image/png\r\n",
		"Content-ID: <trend_chart>\r\n",
		"Content-Disposition: inline;",
		"From: ",
		"To: alice@example.com\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
	if strings.Contains(msg, "<html>body</html>") {
		t.Error("HTML body must be base64 encoded, not embedded raw")
	}
}

func TestBuildMessageWithoutChart(t *testing.T) {
	s := testSender(nil)
	msg := string(s.buildMessage("alice@example.com", "subj", "<html></html>", nil))
	if strings.Contains(msg, "image/png") {
		t.Error("chart part must be absent when no PNG is supplied")
	}
}

func TestWrapBase64(t *testing.T) {
	long := strings.Repeat("A", 200)
	wrapped := wrapBase64(long)
	for i, line := range strings.Split(wrapped, "\r\n") {
		if len(line) > 76 {
			t.Errorf("line %d is %d chars, want <= 76", i, len(line))
		}
	}
	if strings.ReplaceAll(wrapped, "\r\n", "") != long {
		t.Error("wrapping must not alter the content")
	}
}
