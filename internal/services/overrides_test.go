package services

import (
	"testing"

	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

func TestOverrideStoreRoundTrip(t *testing.T) {
	db := testDB(t)
	store := NewOverrideStore(db)

	currency := "EUR"
	holdings := []models.Holding{
		{
			AccountID: "depot-1", ISIN: "DE0007236101", NationalSecurityID: "723610",
			PriceTargetRecord: models.PriceTargetRecord{
				Target:         ptr(200),
				SourceTag:      models.TargetSourceOther1,
				TargetCurrency: &currency,
				ManualOverride: true,
			},
		},
		{
			// Not manual, must not be backed up
			AccountID: "depot-1", ISIN: "DE0008404005",
			PriceTargetRecord: models.PriceTargetRecord{Target: ptr(120), SourceTag: models.TargetSourceAPI},
		},
	}

	if err := store.Snapshot(holdings); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	backups, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup, got %d", len(backups))
	}
	if backups[0].ISIN != "DE0007236101" || backups[0].Target != 200 {
		t.Errorf("unexpected backup %+v", backups[0])
	}

	// Restore onto a fresh import where only the national id matches
	restored := []*models.Holding{
		{AccountID: "depot-1", NationalSecurityID: "723610"},
		{AccountID: "depot-1", ISIN: "DE0008404005"},
	}
	count, err := store.Restore(restored)
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 restored target, got %d", count)
	}

	h := restored[0]
	if h.Target == nil || *h.Target != 200 {
		t.Errorf("expected restored target 200, got %v", h.Target)
	}
	if !h.ManualOverride {
		t.Error("restored target must be flagged manual")
	}
	if h.SourceTag != models.TargetSourceOther1 {
		t.Errorf("expected original source tag, got %q", h.SourceTag)
	}
	if restored[1].HasTarget() {
		t.Error("non-manual holding must stay empty")
	}

	// Restore clears the slot
	backups, err = store.Load()
	if err != nil {
		t.Fatalf("Load after restore failed: %v", err)
	}
	if backups != nil {
		t.Error("store should be empty after restore")
	}
}

func TestOverrideStoreSnapshotWithoutManualTargetsClears(t *testing.T) {
	db := testDB(t)
	store := NewOverrideStore(db)

	// Seed a stale backup
	manual := []models.Holding{{
		ISIN:              "DE0007236101",
		PriceTargetRecord: models.PriceTargetRecord{Target: ptr(200), ManualOverride: true},
	}}
	if err := store.Snapshot(manual); err != nil {
		t.Fatalf("seed Snapshot failed: %v", err)
	}

	// A snapshot of holdings without manual targets must clear the slot, not
	// leave the stale blob behind
	if err := store.Snapshot([]models.Holding{{ISIN: "DE0008404005"}}); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	backups, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if backups != nil {
		t.Error("slot should be cleared when no manual targets exist")
	}
}

func TestOverrideStoreRestoreWithoutMatch(t *testing.T) {
	db := testDB(t)
	store := NewOverrideStore(db)

	manual := []models.Holding{{
		ISIN:              "DE0007236101",
		PriceTargetRecord: models.PriceTargetRecord{Target: ptr(200), ManualOverride: true},
	}}
	if err := store.Snapshot(manual); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	// No holding matches; the store is still cleared afterwards
	count, err := store.Restore([]*models.Holding{{AccountID: "depot-1", ISIN: "FR0000120271"}})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 restored, got %d", count)
	}

	backups, err := store.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if backups != nil {
		t.Error("store should be cleared even when nothing matched")
	}
}
