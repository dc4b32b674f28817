package notify

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/WessleyAI/reddit-monitor/engine/domain"
)

type captured struct {
	addr string
	auth smtp.Auth
	from string
	to   []string
	msg  string
}

func newTestSender(cfg SMTPConfig, c *captured, err error) *SMTPSender {
	s := NewSMTPSender(cfg)
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		*c = captured{addr: addr, auth: a, from: from, to: to, msg: string(msg)}
		return err
	}
	return s
}

func runResult() *domain.RunResult {
	return &domain.RunResult{Posts: []domain.ClassifiedPost{
		{Post: domain.Post{ID: "1"}, Priority: domain.Urgent},
		{Post: domain.Post{ID: "2"}, Priority: domain.Medium},
	}}
}

func TestSubject(t *testing.T) {
	if got := Subject("[Reddit Monitor]", runResult()); got != "[Reddit Monitor] 2 new posts (1 URGENT)" {
		t.Fatalf("subject = %q", got)
	}
}

func TestSendReport(t *testing.T) {
	var c captured
	s := newTestSender(SMTPConfig{
		Host: "smtp.example.com", Port: 587, Username: "u", Password: "p",
		From: "bot@example.com", To: []string{"a@example.com", "b@example.com"}, SubjectPrefix: "[RM]",
	}, &c, nil)

	sent, err := s.SendReport(runResult(), "# Report\n\n**bold**")
	if err != nil || !sent {
		t.Fatalf("sent=%v err=%v", sent, err)
	}
	if c.addr != "smtp.example.com:587" || c.from != "bot@example.com" || len(c.to) != 2 || c.auth == nil {
		t.Fatalf("unexpected envelope %+v", c)
	}
	for _, want := range []string{
		"Subject: [RM] 2 new posts (1 URGENT)",
		"To: a@example.com, b@example.com",
		"multipart/alternative",
		"text/plain",
		"# Report",
		"<strong>bold</strong>",
	} {
		if !strings.Contains(c.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendReportSkipsEmptyRun(t *testing.T) {
	var c captured
	s := newTestSender(SMTPConfig{Host: "h", Port: 25, From: "f", To: []string{"t"}}, &c, nil)
	sent, err := s.SendReport(&domain.RunResult{}, "")
	if err != nil || sent || c.msg != "" {
		t.Fatalf("empty run should not send: sent=%v err=%v", sent, err)
	}
}

func TestSendErrors(t *testing.T) {
	var c captured
	s := newTestSender(SMTPConfig{Host: "h", Port: 25, From: "f", To: []string{"t"}}, &c, errors.New("refused"))
	if err := s.Send("s", "p", "h"); err == nil || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if c.auth != nil {
		t.Fatal("no auth expected without username")
	}
	s = newTestSender(SMTPConfig{Host: "h"}, &c, nil)
	if err := s.Send("s", "p", "h"); err == nil {
		t.Fatal("expected error with no recipients")
	}
}
