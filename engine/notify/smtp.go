// Package notify delivers run reports by email.
package notify

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
	"github.com/WessleyAI/reddit-monitor/engine/report"
)

// SMTPConfig holds the server and envelope settings.
type SMTPConfig struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	To            []string
	SubjectPrefix string
}

// SMTPSender sends emails via SMTP.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error // for testing
	now      func() time.Time
}

// NewSMTPSender creates a new SMTP sender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail, now: time.Now}
}

// Subject summarizes r for the mail subject line.
func Subject(prefix string, r *domain.RunResult) string {
	urgent := len(r.ByPriority(domain.Urgent))
	return strings.TrimSpace(fmt.Sprintf("%s %d new posts (%d URGENT)", prefix, len(r.Posts), urgent))
}

// SendReport mails the markdown report of r as plain text with an HTML
// alternative. Runs without new posts send nothing; sent reports whether a
// message went out.
func (s *SMTPSender) SendReport(r *domain.RunResult, markdown string) (sent bool, err error) {
	if len(r.Posts) == 0 {
		return false, nil
	}
	html, err := report.HTML(markdown)
	if err != nil {
		return false, err
	}
	if err := s.Send(Subject(s.cfg.SubjectPrefix, r), markdown, html); err != nil {
		return false, err
	}
	return true, nil
}

// Send sends one multipart/alternative message to every recipient.
func (s *SMTPSender) Send(subject, plainBody, htmlBody string) error {
	if len(s.cfg.To) == 0 {
		return fmt.Errorf("send email: no recipients")
	}
	msg, err := s.build(subject, plainBody, htmlBody)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := s.sendMail(addr, auth, s.cfg.From, s.cfg.To, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *SMTPSender) build(subject, plainBody, htmlBody string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=\"utf-8\"", plainBody},
		{"text/html; charset=\"utf-8\"", htmlBody},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(s.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}
