package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

func TestShouldResolve(t *testing.T) {
	target := 100.0

	tests := []struct {
		name    string
		holding models.Holding
		force   bool
		want    bool
	}{
		{"empty record resolves", models.Holding{}, false, true},
		{"manual override skipped", models.Holding{PriceTargetRecord: models.PriceTargetRecord{Target: &target, ManualOverride: true}}, false, false},
		{"manual override forced", models.Holding{PriceTargetRecord: models.PriceTargetRecord{Target: &target, ManualOverride: true}}, true, true},
		{"csv with target skipped", models.Holding{PriceTargetRecord: models.PriceTargetRecord{Target: &target, SourceTag: models.TargetSourceCSV}}, false, false},
		{"csv with target forced", models.Holding{PriceTargetRecord: models.PriceTargetRecord{Target: &target, SourceTag: models.TargetSourceCSV}}, true, true},
		{"csv tag without target resolves", models.Holding{PriceTargetRecord: models.PriceTargetRecord{SourceTag: models.TargetSourceCSV}}, false, true},
		{"api-sourced target resolves again", models.Holding{PriceTargetRecord: models.PriceTargetRecord{Target: &target, SourceTag: models.TargetSourceAPI}}, false, true},
	}

	for _, tt := range tests {
		if got := ShouldResolve(&tt.holding, tt.force); got != tt.want {
			t.Errorf("%s: ShouldResolve = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// quietResolver builds a resolver with every source disabled, so only the
// bulk-result path and the clearing policy are reachable.
func quietResolver() *Resolver {
	return NewResolver(nil, nil, nil, nil, NewFXRateService(""))
}

func TestResolveAcceptsRealisticBulkResult(t *testing.T) {
	Trace().Clear()

	ref := 100.0
	high := 150.0
	low := 110.0
	count := 5
	h := &models.Holding{SecurityName: "Siemens AG", CurrentPrice: &ref}
	bulk := &TargetCandidate{
		Target:       130,
		Currency:     "EUR",
		High:         &high,
		Low:          &low,
		AnalystCount: &count,
		Date:         time.Now(),
		Source:       models.TargetSourceAPI,
	}

	changed := quietResolver().Resolve(context.Background(), h, bulk, ResolveOptions{Arbitration: BatchArbitration()})
	if !changed {
		t.Fatal("expected the record to change")
	}
	if h.Target == nil || *h.Target != 130 {
		t.Errorf("expected target 130, got %v", h.Target)
	}
	if h.SourceTag != models.TargetSourceAPI {
		t.Errorf("expected api source tag, got %q", h.SourceTag)
	}
	if h.TargetCurrency == nil || *h.TargetCurrency != "EUR" {
		t.Errorf("expected EUR target currency, got %v", h.TargetCurrency)
	}
	if h.ManualOverride {
		t.Error("automatic write must clear the manual override flag")
	}
	if h.TargetHigh == nil || *h.TargetHigh != 150 || h.TargetLow == nil || *h.TargetLow != 110 {
		t.Errorf("expected high/low 150/110, got %v/%v", h.TargetHigh, h.TargetLow)
	}
}

func TestResolveConvertsBulkCurrency(t *testing.T) {
	Trace().Clear()

	fx := NewFXRateService("")
	usd := 0.9
	fx.SetRates(&FXRates{USDToEUR: &usd})
	resolver := NewResolver(nil, nil, nil, nil, fx)

	ref := 100.0
	h := &models.Holding{SecurityName: "Apple Inc", CurrentPrice: &ref}
	bulk := &TargetCandidate{Target: 200, Currency: "USD", Date: time.Now(), Source: models.TargetSourceAPI}

	if !resolver.Resolve(context.Background(), h, bulk, ResolveOptions{}) {
		t.Fatal("expected the record to change")
	}
	if h.Target == nil || *h.Target != 180 {
		t.Errorf("expected 200 USD converted to 180 EUR, got %v", h.Target)
	}
	if h.TargetCurrency == nil || *h.TargetCurrency != "EUR" {
		t.Errorf("stored currency should always be EUR, got %v", h.TargetCurrency)
	}
}

func TestResolveClearsStaleAutomaticTarget(t *testing.T) {
	Trace().Clear()

	ref := 100.0
	old := 180.0
	h := &models.Holding{
		SecurityName: "Siemens AG",
		CurrentPrice: &ref,
		PriceTargetRecord: models.PriceTargetRecord{
			Target:    &old,
			SourceTag: models.TargetSourceAPI,
		},
	}

	// No bulk result and no sources: nothing acceptable, stale api target
	// is cleared down to an empty record
	changed := quietResolver().Resolve(context.Background(), h, nil, ResolveOptions{})
	if !changed {
		t.Fatal("expected the record to change")
	}
	if h.HasTarget() {
		t.Error("stale automatic target should be cleared")
	}
	if h.SourceTag != models.TargetSourceNone {
		t.Errorf("source tag should be cleared, got %q", h.SourceTag)
	}
}

func TestResolvePreservesCSVTargetOnFailure(t *testing.T) {
	Trace().Clear()

	ref := 100.0
	csvTarget := 140.0
	h := &models.Holding{
		SecurityName: "Siemens AG",
		CurrentPrice: &ref,
		PriceTargetRecord: models.PriceTargetRecord{
			Target:    &csvTarget,
			SourceTag: models.TargetSourceCSV,
		},
	}

	// Force bypasses the eligibility gate, but a failed pass must still not
	// clear a CSV-sourced value
	changed := quietResolver().Resolve(context.Background(), h, nil, ResolveOptions{ForceOverwrite: true})
	if changed {
		t.Error("record should be untouched")
	}
	if h.Target == nil || *h.Target != 140 {
		t.Errorf("csv target should survive, got %v", h.Target)
	}
}

func TestResolveSkipsManualOverride(t *testing.T) {
	Trace().Clear()

	manual := 99.0
	h := &models.Holding{
		SecurityName: "Siemens AG",
		PriceTargetRecord: models.PriceTargetRecord{
			Target:         &manual,
			ManualOverride: true,
		},
	}

	bulk := &TargetCandidate{Target: 130, Currency: "EUR", Date: time.Now(), Source: models.TargetSourceAPI}
	if quietResolver().Resolve(context.Background(), h, bulk, ResolveOptions{}) {
		t.Error("manual override must not be touched without force")
	}
	if *h.Target != 99 || !h.ManualOverride {
		t.Error("manual target should be untouched")
	}
}

// llmStubCounting serves a fixed model reply and counts upstream requests
func llmStubCounting(t *testing.T, reply string) (*LLMQueryService, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"` + reply + `"}]}}]}`))
	}))
	t.Cleanup(server.Close)

	svc := NewLLMQueryService()
	svc.SetAPIKey("test-key")
	svc.SetAPIURL(server.URL)
	return svc, &calls
}

// llmStub serves a fixed model reply for arbitration tests
func llmStub(t *testing.T, reply string) *LLMQueryService {
	svc, _ := llmStubCounting(t, reply)
	return svc
}

func TestResolveBatchDeclineFallsThroughToChain(t *testing.T) {
	Trace().Clear()

	llm, calls := llmStubCounting(t, "120.00")
	resolver := NewResolver(nil, llm, nil, nil, NewFXRateService(""))

	ref := 100.0
	h := &models.Holding{SecurityName: "Siemens AG", ISIN: "DE0007236101", CurrentPrice: &ref, Currency: "EUR"}

	// Bulk target way beyond +200%: batch mode declines the swap, but the
	// replacement is realistic on its own, so the fallback chain accepts it
	// without a second query
	bulk := &TargetCandidate{Target: 900, Currency: "EUR", Date: time.Now(), Source: models.TargetSourceAPI}
	changed := resolver.Resolve(context.Background(), h, bulk, ResolveOptions{Arbitration: BatchArbitration()})

	if !changed {
		t.Fatal("expected the realistic replacement to be accepted through the chain")
	}
	if h.Target == nil || *h.Target != 120 {
		t.Errorf("expected 120, got %v", h.Target)
	}
	if h.SourceTag != models.TargetSourceLLM {
		t.Errorf("expected llm source tag, got %q", h.SourceTag)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("llm queried %d times, want 1", n)
	}
}

func TestResolveBatchRejectsUnrealisticReplacement(t *testing.T) {
	Trace().Clear()

	llm, calls := llmStubCounting(t, "2.50")
	resolver := NewResolver(nil, llm, nil, nil, NewFXRateService(""))

	ref := 100.0
	h := &models.Holding{SecurityName: "Siemens AG", ISIN: "DE0007236101", CurrentPrice: &ref, Currency: "EUR"}

	// Both the bulk value (+800%) and the replacement (-97.5%) fail the
	// realism check: nothing is accepted anywhere
	bulk := &TargetCandidate{Target: 900, Currency: "EUR", Date: time.Now(), Source: models.TargetSourceAPI}
	changed := resolver.Resolve(context.Background(), h, bulk, ResolveOptions{Arbitration: BatchArbitration()})

	if h.HasTarget() {
		t.Errorf("unrealistic replacement must not be accepted, got %v", *h.Target)
	}
	if changed {
		t.Error("empty record should stay unchanged")
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("llm queried %d times, want 1", n)
	}
}

func TestResolveInteractiveAcceptsConfirmedSwap(t *testing.T) {
	Trace().Clear()

	resolver := NewResolver(nil, llmStub(t, "120.00"), nil, nil, NewFXRateService(""))

	ref := 100.0
	h := &models.Holding{SecurityName: "Siemens AG", ISIN: "DE0007236101", CurrentPrice: &ref, Currency: "EUR"}

	var askedOriginal, askedReplacement float64
	confirm := func(original, replacement float64) bool {
		askedOriginal, askedReplacement = original, replacement
		return true
	}

	bulk := &TargetCandidate{Target: 900, Currency: "EUR", Date: time.Now(), Source: models.TargetSourceAPI}
	changed := resolver.Resolve(context.Background(), h, bulk, ResolveOptions{Arbitration: InteractiveArbitration(confirm)})

	if !changed {
		t.Fatal("expected the confirmed swap to be applied")
	}
	if askedOriginal != 900 || askedReplacement != 120 {
		t.Errorf("confirmation saw %v/%v, want 900/120", askedOriginal, askedReplacement)
	}
	if h.Target == nil || *h.Target != 120 {
		t.Errorf("expected replacement 120, got %v", h.Target)
	}
	if h.SourceTag != models.TargetSourceLLM {
		t.Errorf("expected llm source tag, got %q", h.SourceTag)
	}
}

func TestResolveInteractiveDeclinedSwap(t *testing.T) {
	Trace().Clear()

	llm, calls := llmStubCounting(t, "120.00")
	resolver := NewResolver(nil, llm, nil, nil, NewFXRateService(""))

	ref := 100.0
	h := &models.Holding{SecurityName: "Siemens AG", ISIN: "DE0007236101", CurrentPrice: &ref, Currency: "EUR"}

	confirm := func(original, replacement float64) bool { return false }

	bulk := &TargetCandidate{Target: 900, Currency: "EUR", Date: time.Now(), Source: models.TargetSourceAPI}
	resolver.Resolve(context.Background(), h, bulk, ResolveOptions{Arbitration: InteractiveArbitration(confirm)})

	// An explicit decline refuses the value itself: the chain must not hand
	// the same number back
	if h.HasTarget() {
		t.Errorf("declined swap must not be applied, got %v", *h.Target)
	}
	if n := atomic.LoadInt32(calls); n != 1 {
		t.Errorf("llm queried %d times, want 1", n)
	}
}

func TestResolveChainFallsBackToLLM(t *testing.T) {
	Trace().Clear()

	resolver := NewResolver(nil, llmStub(t, "130.00"), nil, nil, NewFXRateService(""))

	ref := 100.0
	h := &models.Holding{SecurityName: "Siemens AG", ISIN: "DE0007236101", CurrentPrice: &ref, Currency: "EUR"}

	// No bulk result: the chain runs and the LLM answer is realistic
	changed := resolver.Resolve(context.Background(), h, nil, ResolveOptions{})
	if !changed {
		t.Fatal("expected the llm candidate to be accepted")
	}
	if h.Target == nil || *h.Target != 130 {
		t.Errorf("expected 130, got %v", h.Target)
	}
	if h.SourceTag != models.TargetSourceLLM {
		t.Errorf("expected llm source tag, got %q", h.SourceTag)
	}
}

func TestResolveRejectsUnrealisticChainCandidate(t *testing.T) {
	Trace().Clear()

	resolver := NewResolver(nil, llmStub(t, "2.50"), nil, nil, NewFXRateService(""))

	ref := 100.0
	h := &models.Holding{SecurityName: "Siemens AG", ISIN: "DE0007236101", CurrentPrice: &ref, Currency: "EUR"}

	// 2.50 is a -97.5% target, far past the downside limit
	resolver.Resolve(context.Background(), h, nil, ResolveOptions{})
	if h.HasTarget() {
		t.Errorf("unrealistic chain candidate must be rejected, got %v", *h.Target)
	}

	entries := Trace().Entries()
	if len(entries) == 0 {
		t.Error("rejection should be traced")
	}
}

func TestTraceBuffer(t *testing.T) {
	Trace().Clear()

	Trace().Append("test", "Siemens AG", true, "value %v", 42)
	entries := Trace().Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Detail != "value 42" {
		t.Errorf("unexpected detail %q", entries[0].Detail)
	}
	if entries[0].ID == "" {
		t.Error("entries should carry an id")
	}

	Trace().Clear()
	if len(Trace().Entries()) != 0 {
		t.Error("Clear should empty the buffer")
	}
	if Trace().Dropped() != 0 {
		t.Error("Clear should reset the dropped counter")
	}
}
