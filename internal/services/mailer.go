package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MailMessage — письмо для отправки.
type MailMessage struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	ReplyTo string   `json:"replyTo,omitempty"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

// Recipients возвращает всех получателей (To + Cc + Bcc).
func (m *MailMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}

// Mailer отправляет письма и возвращает идентификатор сообщения.
type Mailer interface {
	Send(ctx context.Context, msg *MailMessage) (string, error)
}

// SMTPConfig — параметры SMTP-сервера.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPMailer отправляет письма через net/smtp (PLAIN auth при заданном пользователе).
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer создаёт SMTPMailer. Порт по умолчанию 587.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// Send реализует Mailer.
func (m *SMTPMailer) Send(ctx context.Context, msg *MailMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), m.cfg.Host)
	body := buildMIME(msg, id)

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))

	// smtp.SendMail не принимает context — выполняем в горутине
	errCh := make(chan error, 1)
	go func() { errCh <- m.send(addr, auth, msg.From, msg.Recipients(), body) }()
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("smtp send: %w", err)
		}
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// buildMIME собирает письмо: text/plain, text/html или multipart/alternative.
// Bcc в заголовки не попадает.
func buildMIME(msg *MailMessage, messageID string) []byte {
	var b bytes.Buffer
	header := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}
	header("From", msg.From)
	header("To", strings.Join(msg.To, ", "))
	header("Cc", strings.Join(msg.Cc, ", "))
	header("Reply-To", msg.ReplyTo)
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Message-ID", messageID)
	header("Date", time.Now().UTC().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")

	switch {
	case msg.HTML != "" && msg.Text != "":
		boundary := "nf-" + strings.ReplaceAll(uuid.NewString(), "-", "")
		header("Content-Type", `multipart/alternative; boundary="`+boundary+`"`)
		b.WriteString("\r\n")
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.Text)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, msg.HTML)
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case msg.HTML != "":
		header("Content-Type", "text/html; charset=utf-8")
		b.WriteString("\r\n" + msg.HTML + "\r\n")
	default:
		header("Content-Type", "text/plain; charset=utf-8")
		b.WriteString("\r\n" + msg.Text + "\r\n")
	}
	return b.Bytes()
}

// APIMailer отправляет письма через транзакционный HTTP API:
// POST {Endpoint} с JSON MailMessage и заголовком Authorization: Bearer {APIKey}.
// Ожидается ответ 2xx с полем "id" или "messageId".
type APIMailer struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

// Send реализует Mailer.
func (m *APIMailer) Send(ctx context.Context, msg *MailMessage) (string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.APIKey)
	}

	client := m.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("mail api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out struct {
		ID        string `json:"id"`
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(body, &out)
	if out.MessageID != "" {
		return out.MessageID, nil
	}
	return out.ID, nil
}
