package mail

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/elysion/user-service/internal/core/domain"
)

func TestComposer_Activation(t *testing.T) {
	c := NewComposer("https://id.example.com/")
	msg := c.Activation(
		&domain.User{Email: "alice@example.com", FirstName: "Alice"},
		&domain.Token{Value: "abc-123"},
	)

	if msg.To != "alice@example.com" {
		t.Fatalf("unexpected recipient: %s", msg.To)
	}
	if !strings.Contains(msg.Body, "https://id.example.com/users/confirm-email?token=abc-123") {
		t.Fatalf("missing confirmation link in body: %s", msg.Body)
	}
	if !strings.HasPrefix(msg.Body, "Hello Alice,") {
		t.Fatalf("expected greeting by first name: %s", msg.Body)
	}
}

func TestComposer_EmailChangeGoesToPendingAddress(t *testing.T) {
	c := NewComposer("https://id.example.com")
	pending := "new@example.com"
	msg := c.EmailChange(
		&domain.User{Email: "old@example.com", PendingEmail: &pending},
		&domain.Token{Value: "xyz"},
	)

	if msg.To != "new@example.com" {
		t.Fatalf("expected pending address, got %s", msg.To)
	}
	if !strings.Contains(msg.Body, "https://id.example.com/users/confirm-email-change?token=xyz") {
		t.Fatalf("missing link in body: %s", msg.Body)
	}
}

func TestLogMailer_Send(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(zerolog.New(&buf))

	if err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "hi", Body: "link"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.Contains(buf.String(), `"to":"a@example.com"`) {
		t.Fatalf("expected recipient in log output: %s", buf.String())
	}
}

func TestSMTPMailer_Send(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p", From: "noreply@example.com"})

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	m.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "Confirm", Body: "line1\nline2"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAddr != "smtp.example.com:587" {
		t.Fatalf("unexpected addr: %s", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "a@example.com" {
		t.Fatalf("unexpected recipients: %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Confirm\r\n") || !strings.Contains(gotMsg, "line1\r\nline2") {
		t.Fatalf("unexpected message: %q", gotMsg)
	}
}

func TestSMTPMailer_SendError(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 25})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	if err := m.Send(context.Background(), Message{To: "a@example.com"}); err == nil {
		t.Fatalf("expected error")
	}
}
