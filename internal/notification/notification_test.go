package notification

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Prosniperv2/V2.0/internal/platform/resilience"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

type fakeTopic struct {
	topic string
	msg   any
	attrs map[string]string
	err   error
}

func (f *fakeTopic) Publish(_ context.Context, topicARN string, message any, attributes map[string]string) error {
	f.topic, f.msg, f.attrs = topicARN, message, attributes
	return f.err
}

type recordingNotifier struct {
	events []TradeEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, e TradeEvent) error {
	r.events = append(r.events, e)
	return r.err
}

func testLimiter() *resilience.RateLimiter {
	return resilience.NewRateLimiter(resilience.RateLimiterConfig{
		Name:        "test-notify",
		Window:      time.Minute,
		MaxRequests: 20,
		BaseBackoff: time.Millisecond,
		Multiplier:  2,
		MaxBackoff:  10 * time.Millisecond,
	})
}

func TestNewEvent(t *testing.T) {
	a := NewEvent(KindBuy, "0xabc")
	b := NewEvent(KindBuy, "0xabc")

	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("expected unique non-empty ids, got %q and %q", a.ID, b.ID)
	}
	if a.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}

	data, err := a.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	if !strings.Contains(string(data), `"kind":"BUY"`) {
		t.Errorf("unexpected JSON: %s", data)
	}
}

func TestFormatHTML(t *testing.T) {
	tests := []struct {
		name     string
		event    TradeEvent
		contains []string
		excludes []string
	}{
		{
			name:     "buy with tx",
			event:    TradeEvent{Kind: KindBuy, Token: "0xabc", Symbol: "PEPE", DEX: "aerodrome", TxHash: "0x123", Status: StatusConfirmed},
			contains: []string{"<b>🟢 Buy executed</b>", "PEPE (0xabc)", "DEX: aerodrome", "basescan.org/tx/0x123", "Status: confirmed"},
		},
		{
			name:     "escapes reason",
			event:    TradeEvent{Kind: KindFailed, Token: "0xabc", Reason: "balance < required"},
			contains: []string{"balance &lt; required"},
			excludes: []string{"View transaction"},
		},
		{
			name:     "sell pnl",
			event:    TradeEvent{Kind: KindSell, Token: "0xabc", PnLPercent: 12.5},
			contains: []string{"PnL: +12.50%"},
		},
		{
			name:     "unknown kind falls back to name",
			event:    TradeEvent{Kind: "CUSTOM", Token: "0xabc"},
			contains: []string{"<b>CUSTOM</b>"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatHTML(tt.event)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("expected %q in:\n%s", want, got)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("did not expect %q in:\n%s", bad, got)
				}
			}
		})
	}
}

func TestTelegramNotifierValidation(t *testing.T) {
	if _, err := NewTelegramNotifier(TelegramConfig{ChatID: 1}); err == nil {
		t.Error("expected error without bot")
	}
	if _, err := NewTelegramNotifier(TelegramConfig{Bot: &fakeSender{}}); err == nil {
		t.Error("expected error without chat id")
	}
}

func TestTelegramNotifierSendsHTML(t *testing.T) {
	sender := &fakeSender{}
	n, err := NewTelegramNotifier(TelegramConfig{Bot: sender, ChatID: 42, Limiter: testLimiter()})
	if err != nil {
		t.Fatalf("NewTelegramNotifier: %v", err)
	}

	if err := n.Notify(context.Background(), TradeEvent{Kind: KindDetected, Token: "0xabc"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sender.sent))
	}
	msg := sender.sent[0]
	if msg.ChatID != 42 {
		t.Errorf("chat id = %d, want 42", msg.ChatID)
	}
	if msg.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("parse mode = %q, want HTML", msg.ParseMode)
	}
	if !strings.Contains(msg.Text, "New token detected") {
		t.Errorf("unexpected text: %s", msg.Text)
	}
}

func TestTelegramNotifierRateLimited(t *testing.T) {
	limiter := testLimiter()
	sender := &fakeSender{err: errors.New("Too Many Requests: retry after 5")}
	n, err := NewTelegramNotifier(TelegramConfig{Bot: sender, ChatID: 42, Limiter: limiter})
	if err != nil {
		t.Fatalf("NewTelegramNotifier: %v", err)
	}

	if err := n.SendHTML(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if got := limiter.State().Consecutive429; got != 1 {
		t.Errorf("Consecutive429 = %d, want 1", got)
	}
}

func TestPublisherNotify(t *testing.T) {
	topic := &fakeTopic{}
	p, err := NewPublisher(PublisherConfig{Client: topic, TopicARN: "arn:aws:sns:us-east-1:000000000000:trades"})
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}

	event := TradeEvent{ID: "e1", Kind: KindSell, Token: "0xabc", DEX: "baseswap", Status: StatusConfirmed}
	if err := p.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if topic.topic != "arn:aws:sns:us-east-1:000000000000:trades" {
		t.Errorf("topic = %q", topic.topic)
	}
	if got, ok := topic.msg.(TradeEvent); !ok || got.ID != "e1" {
		t.Errorf("unexpected message %#v", topic.msg)
	}
	want := map[string]string{"kind": "SELL", "token": "0xabc", "status": "confirmed", "dex": "baseswap"}
	for k, v := range want {
		if topic.attrs[k] != v {
			t.Errorf("attribute %s = %q, want %q", k, topic.attrs[k], v)
		}
	}

	topic.err = errors.New("boom")
	if err := p.Notify(context.Background(), event); err == nil {
		t.Error("expected publish error")
	}
}

func TestPublisherValidation(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{TopicARN: "arn"}); err == nil {
		t.Error("expected error without client")
	}
	if _, err := NewPublisher(PublisherConfig{Client: &fakeTopic{}}); err == nil {
		t.Error("expected error without topic")
	}
}

func TestMultiDeliversToAll(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	m := Multi{failing, nil, ok, NewLogNotifier(nil), Nop{}}

	err := m.Notify(context.Background(), TradeEvent{Kind: KindBuy, Token: "0xabc"})
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(failing.events) != 1 || len(ok.events) != 1 {
		t.Errorf("expected both notifiers to receive the event, got %d and %d", len(failing.events), len(ok.events))
	}
}
