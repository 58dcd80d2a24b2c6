package models

import (
	"testing"
	"time"
)

func TestSameIdentity(t *testing.T) {
	base := Holding{AccountID: "depot-1", NationalSecurityID: "840400", ISIN: "DE0008404005"}

	tests := []struct {
		name  string
		other Holding
		want  bool
	}{
		{"both identifiers match", Holding{AccountID: "depot-1", NationalSecurityID: "840400", ISIN: "DE0008404005"}, true},
		{"national id only", Holding{AccountID: "depot-1", NationalSecurityID: "840400"}, true},
		{"isin only", Holding{AccountID: "depot-1", ISIN: "DE0008404005"}, true},
		{"different account", Holding{AccountID: "depot-2", NationalSecurityID: "840400", ISIN: "DE0008404005"}, false},
		{"no identifier overlap", Holding{AccountID: "depot-1", NationalSecurityID: "710000", ISIN: "DE0007100000"}, false},
		{"empty identifiers never match", Holding{AccountID: "depot-1"}, false},
	}

	for _, tt := range tests {
		if got := base.SameIdentity(&tt.other); got != tt.want {
			t.Errorf("%s: SameIdentity = %v, want %v", tt.name, got, tt.want)
		}
	}

	// Two holdings with both identifiers empty must not match even in the
	// same account
	a := Holding{AccountID: "depot-1"}
	b := Holding{AccountID: "depot-1"}
	if a.SameIdentity(&b) {
		t.Error("holdings without identifiers should never match")
	}
}

func TestReferencePrice(t *testing.T) {
	current := 42.0
	cost := 38.5

	h := Holding{CurrentPrice: &current, CostBasisPrice: &cost}
	if got := h.ReferencePrice(); got == nil || *got != current {
		t.Errorf("expected current price %v, got %v", current, got)
	}

	h = Holding{CostBasisPrice: &cost}
	if got := h.ReferencePrice(); got == nil || *got != cost {
		t.Errorf("expected cost basis %v, got %v", cost, got)
	}

	h = Holding{}
	if h.ReferencePrice() != nil {
		t.Error("expected nil reference price when neither price is set")
	}
}

func TestIsFundOrETF(t *testing.T) {
	tests := []struct {
		name           string
		instrumentType string
		securityName   string
		want           bool
	}{
		{"etf by type", "ETF", "iShares Core MSCI World", true},
		{"fonds by name", "", "DWS Top Dividende Fonds", true},
		{"index in name", "", "Xtrackers DAX Index", true},
		{"plain stock", "Aktie", "Siemens AG", false},
		{"etc commodity", "", "WisdomTree Physical Gold ETC", true},
		{"case insensitive", "", "LYXOR etf cac 40", true},
	}

	for _, tt := range tests {
		h := Holding{InstrumentType: tt.instrumentType, SecurityName: tt.securityName}
		if got := h.IsFundOrETF(); got != tt.want {
			t.Errorf("%s: IsFundOrETF = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPriceTargetRecordClear(t *testing.T) {
	target := 120.0
	high := 150.0
	low := 90.0
	spread := 12.5
	count := 8
	currency := "EUR"
	date := time.Now()

	r := PriceTargetRecord{
		Target:           &target,
		TargetDate:       &date,
		AnalystSpreadPct: &spread,
		SourceTag:        TargetSourceAPI,
		TargetCurrency:   &currency,
		TargetHigh:       &high,
		TargetLow:        &low,
		AnalystCount:     &count,
		ManualOverride:   true,
	}

	if !r.HasTarget() {
		t.Fatal("record should have a target before Clear")
	}

	r.Clear()

	if r.HasTarget() {
		t.Error("target should be gone after Clear")
	}
	if r.TargetDate != nil || r.AnalystSpreadPct != nil || r.TargetCurrency != nil ||
		r.TargetHigh != nil || r.TargetLow != nil || r.AnalystCount != nil {
		t.Error("all dependent fields should be nil after Clear")
	}
	if r.SourceTag != TargetSourceNone {
		t.Errorf("source tag should be empty after Clear, got %q", r.SourceTag)
	}
	if r.ManualOverride {
		t.Error("manual override flag should be reset by Clear")
	}
}
