package action

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/outreach-dispatcher/internal/testutil"
	"github.com/Sternrassler/outreach-dispatcher/pkg/candidate"
	"github.com/Sternrassler/outreach-dispatcher/pkg/client"
)

type captureSender struct {
	sent []Message
	err  error
}

func (s *captureSender) Send(_ context.Context, msg Message) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.sent = append(s.sent, msg)
	return "msg_local", nil
}

func testRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(Template{From: "team@example.com", Subject: "Hi {{.name}}", Text: "Hello"})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("spring", "Ann@Example.com", "")
	b := IdempotencyKey("spring", " ann@example.com", "")
	if a != b {
		t.Errorf("keys differ for normalized-equal candidates: %s vs %s", a, b)
	}
	if a == IdempotencyKey("autumn", "ann@example.com", "") {
		t.Error("campaigns must not share idempotency keys")
	}
	if a == IdempotencyKey("spring", "ann@example.com", "run-1") {
		t.Error("salt must change the key")
	}
}

func TestEmail_Perform(t *testing.T) {
	c := candidate.Candidate{
		Key:    "ann@example.com",
		Fields: map[string]string{"name": "Ann", "contact": "ann.work@example.com"},
	}

	tests := []struct {
		name        string
		opts        []EmailOption
		senderErr   error
		cand        candidate.Candidate
		wantSuccess bool
		wantTo      string
	}{
		{name: "key is recipient", cand: c, wantSuccess: true, wantTo: "ann@example.com"},
		{name: "recipient field", opts: []EmailOption{WithRecipientField("contact")}, cand: c, wantSuccess: true, wantTo: "ann.work@example.com"},
		{name: "override recipient", opts: []EmailOption{WithOverrideRecipient("qa@example.com")}, cand: c, wantSuccess: true, wantTo: "qa@example.com"},
		{name: "missing recipient field", opts: []EmailOption{WithRecipientField("phone")}, cand: c, wantSuccess: false},
		{name: "sender error", senderErr: errors.New("rejected"), cand: c, wantSuccess: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &captureSender{err: tt.senderErr}
			e := NewEmail("spring", testRenderer(t), sender, tt.opts...)

			res := e.Perform(context.Background(), tt.cand)
			if res.Success != tt.wantSuccess {
				t.Fatalf("Success = %v (%s), want %v", res.Success, res.Detail, tt.wantSuccess)
			}
			if !tt.wantSuccess {
				return
			}
			if len(sender.sent) != 1 {
				t.Fatalf("sent %d messages, want 1", len(sender.sent))
			}
			msg := sender.sent[0]
			if msg.To != tt.wantTo {
				t.Errorf("To = %q, want %q", msg.To, tt.wantTo)
			}
			if msg.Subject != "Hi Ann" {
				t.Errorf("Subject = %q", msg.Subject)
			}
			if msg.IdempotencyKey != IdempotencyKey("spring", c.Key, "") {
				t.Errorf("IdempotencyKey = %q", msg.IdempotencyKey)
			}
		})
	}
}

func TestEmail_ThroughProvider(t *testing.T) {
	mock := testutil.NewMockProvider()
	defer mock.Close()

	cfg := client.DefaultConfig("re_test")
	cfg.BaseURL = mock.URL()
	cfg.Retry = client.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, BackoffMultiplier: 1}
	cl, err := client.New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	e := NewEmail("spring", testRenderer(t), ProviderSender{Client: cl})
	mock.Script("bad@example.com", testutil.NewRejectedResponse("invalid to"))

	good := e.Perform(context.Background(), candidate.Candidate{Key: "ann@example.com", Fields: map[string]string{"name": "Ann"}})
	if !good.Success || good.Detail != "msg_1" {
		t.Errorf("good = %+v", good)
	}
	bad := e.Perform(context.Background(), candidate.Candidate{Key: "bad@example.com"})
	if bad.Success || !strings.Contains(bad.Detail, "invalid to") {
		t.Errorf("bad = %+v", bad)
	}
	if got := mock.GetLastHeader().Get("Idempotency-Key"); got != IdempotencyKey("spring", "bad@example.com", "") {
		t.Errorf("Idempotency-Key = %q", got)
	}
}
