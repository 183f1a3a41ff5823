package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/compose"
	"gold-rate-alerts/internal/config"
	"gold-rate-alerts/internal/dispatch"
	"gold-rate-alerts/internal/fetcher"
	"gold-rate-alerts/internal/ingest"
	"gold-rate-alerts/internal/rates"
)

type scriptedProvider struct {
	mu    sync.Mutex
	gold  []decimal.Decimal
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Fetch(ctx context.Context, city string) (fetcher.Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := p.calls
	if idx >= len(p.gold) {
		idx = len(p.gold) - 1
	}
	p.calls++
	return fetcher.Quote{
		City:    city,
		Gold24K: p.gold[idx],
		Silver:  decimal.NewFromInt(92),
		Source:  "scripted",
		AsOf:    time.Now().UTC(),
	}, nil
}

type recordingGateway struct {
	mu    sync.Mutex
	sends []string
}

func (g *recordingGateway) Send(ctx context.Context, recipient, content, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sends = append(g.sends, recipient+"|"+content)
	return nil
}

func (g *recordingGateway) contents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sends...)
}

type fixedRecipients []compose.Recipient

func (f fixedRecipients) List(ctx context.Context) ([]compose.Recipient, error) {
	return f, nil
}

type fixedSection struct {
	title string
	body  string
}

func (f fixedSection) Name() string { return f.title }

func (f fixedSection) Section(ctx context.Context) (compose.Section, error) {
	return compose.Section{Title: f.title, Body: f.body}, nil
}

func newTestService(t *testing.T, provider fetcher.Provider, gateway dispatch.Gateway, external []ExternalSource) (*Service, *alerts.Store) {
	t.Helper()
	logger := zerolog.Nop()
	cache := rates.NewCache()
	alertStore := alerts.NewStore(nil, logger)
	evaluator := alerts.NewEvaluator(alertStore, logger)
	pipeline := ingest.New([]fetcher.Provider{provider}, cache, nil, ingest.Options{}, logger)
	dispatcher := dispatch.New(gateway, dispatch.Options{MaxAttempts: 1}, logger)

	cfg := &config.Config{}
	cfg.Rates.Cities = []string{"Mumbai"}
	cfg.Scheduler.IngestSpec = "@every 15m"
	cfg.Scheduler.EvaluateSpec = "@every 15m"
	cfg.Scheduler.BriefSpec = "@daily"

	recipients := fixedRecipients{{ID: "chat-1", Name: "Priya", PreferredCity: "Mumbai"}}
	svc := New(cfg, cache, pipeline, alertStore, evaluator, dispatcher, recipients, external, nil, logger)
	return svc, alertStore
}

func TestIngestThenEvaluateDeliversCrossing(t *testing.T) {
	provider := &scriptedProvider{gold: []decimal.Decimal{
		decimal.NewFromInt(15800),
		decimal.NewFromInt(15489),
	}}
	gateway := &recordingGateway{}
	svc, alertStore := newTestService(t, provider, gateway, nil)

	ctx := context.Background()
	_, err := alertStore.Create(ctx, alerts.Alert{
		Owner:     "chat-1",
		City:      "Mumbai",
		Metal:     rates.Gold,
		Condition: alerts.Below,
		Target:    decimal.NewFromInt(15500),
	})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}

	// First cycle seeds the baseline; no crossing can fire yet.
	if err := svc.RunIngest(ctx); err != nil {
		t.Fatalf("ingest 1: %v", err)
	}
	if err := svc.RunEvaluate(ctx); err != nil {
		t.Fatalf("evaluate 1: %v", err)
	}
	if got := len(gateway.contents()); got != 0 {
		t.Fatalf("expected no deliveries on baseline cycle, got %d", got)
	}

	if err := svc.RunIngest(ctx); err != nil {
		t.Fatalf("ingest 2: %v", err)
	}
	if err := svc.RunEvaluate(ctx); err != nil {
		t.Fatalf("evaluate 2: %v", err)
	}

	sends := gateway.contents()
	if len(sends) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(sends))
	}
	if !strings.Contains(sends[0], "chat-1|") {
		t.Fatalf("expected delivery to chat-1, got %q", sends[0])
	}
	if !strings.Contains(sends[0], "15489") {
		t.Fatalf("expected crossing rate in message, got %q", sends[0])
	}

	if svc.Cycle() != 2 {
		t.Fatalf("expected cycle counter 2, got %d", svc.Cycle())
	}
}

func TestBriefIncludesSummaryAndExternalSections(t *testing.T) {
	provider := &scriptedProvider{gold: []decimal.Decimal{decimal.NewFromInt(15804)}}
	gateway := &recordingGateway{}
	external := []ExternalSource{fixedSection{title: "Festival Watch", body: "Dhanteras in 12 days."}}
	svc, _ := newTestService(t, provider, gateway, external)

	ctx := context.Background()
	if err := svc.RunIngest(ctx); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if err := svc.RunBrief(ctx); err != nil {
		t.Fatalf("brief: %v", err)
	}

	sends := gateway.contents()
	if len(sends) != 1 {
		t.Fatalf("expected 1 brief, got %d", len(sends))
	}
	if !strings.Contains(sends[0], "Mumbai") {
		t.Fatalf("expected market summary in brief, got %q", sends[0])
	}
	if !strings.Contains(sends[0], "Festival Watch") {
		t.Fatalf("expected external section in brief, got %q", sends[0])
	}
}

func TestBriefWithEmptyCacheIsNoop(t *testing.T) {
	provider := &scriptedProvider{gold: []decimal.Decimal{decimal.NewFromInt(15804)}}
	gateway := &recordingGateway{}
	svc, _ := newTestService(t, provider, gateway, nil)

	if err := svc.RunBrief(context.Background()); err != nil {
		t.Fatalf("brief: %v", err)
	}
	if got := len(gateway.contents()); got != 0 {
		t.Fatalf("expected no deliveries, got %d", got)
	}
}
