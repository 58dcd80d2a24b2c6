package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestToEUR(t *testing.T) {
	svc := NewFXRateService("")

	// Before any fetch everything passes through unconverted
	if got := svc.ToEUR(100, "USD"); got != 100 {
		t.Errorf("expected pass-through before fetch, got %v", got)
	}

	usd := 0.92
	gbp := 1.17
	svc.SetRates(&FXRates{USDToEUR: &usd, GBPToEUR: &gbp})

	if got := svc.ToEUR(100, "USD"); got != 92 {
		t.Errorf("USD conversion: expected 92, got %v", got)
	}
	if got := svc.ToEUR(100, "$"); got != 92 {
		t.Errorf("$ marker should convert like USD, got %v", got)
	}
	if got := svc.ToEUR(100, "GBP"); got != 117 {
		t.Errorf("GBP conversion: expected 117, got %v", got)
	}
	if got := svc.ToEUR(100, "EUR"); got != 100 {
		t.Errorf("EUR should be identity, got %v", got)
	}
	if got := svc.ToEUR(100, " usd "); got != 92 {
		t.Errorf("currency matching should trim and uppercase, got %v", got)
	}

	// Unknown currency passes through
	if got := svc.ToEUR(100, "JPY"); got != 100 {
		t.Errorf("unknown currency should pass through, got %v", got)
	}

	// Broken zero rate falls back to identity instead of producing garbage
	broken := 0.0
	svc.SetRates(&FXRates{USDToEUR: &broken})
	if got := svc.ToEUR(100, "USD"); got != 100 {
		t.Errorf("zero rate should pass through, got %v", got)
	}
}

func TestFetchRates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"base":"EUR","date":"2024-03-15","rates":{"USD":1.25,"GBP":0.8}}`))
	}))
	defer server.Close()

	svc := NewFXRateService(server.URL)
	if err := svc.FetchRates(context.Background()); err != nil {
		t.Fatalf("FetchRates failed: %v", err)
	}

	rates := svc.Rates()
	if rates == nil {
		t.Fatal("rates should be cached after fetch")
	}
	if rates.AsOf != "2024-03-15" {
		t.Errorf("expected as-of date 2024-03-15, got %s", rates.AsOf)
	}

	// The feed quotes EUR->X, stored inverted
	if got := svc.ToEUR(125, "USD"); got != 100 {
		t.Errorf("expected 125 USD = 100 EUR, got %v", got)
	}
	if got := svc.ToEUR(80, "GBP"); got != 100 {
		t.Errorf("expected 80 GBP = 100 EUR, got %v", got)
	}
}

func TestFetchRatesErrorKeepsCacheEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	svc := NewFXRateService(server.URL)
	if err := svc.FetchRates(context.Background()); err == nil {
		t.Fatal("expected error on server failure")
	}
	if svc.Rates() != nil {
		t.Error("failed fetch should leave the cache empty")
	}
}
