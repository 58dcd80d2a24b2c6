package services

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/codyseavey/portfolio-tracker/backend/internal/metrics"
	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

// ResolveWorker runs resolution passes over the stored holdings. One logical
// worker processes holdings strictly sequentially, in input order: the
// ordering keeps the debug trace deterministic and respects the source APIs'
// rate limits. There is no mid-batch cancellation; a started pass runs to
// completion (per-request timeouts inside the clients keep it bounded).
type ResolveWorker struct {
	resolver  *Resolver
	api       *StructuredAPIService
	db        *gorm.DB
	saveFn    func(*models.Holding) error
	batchLock sync.Mutex // one batch pass at a time

	mu             sync.RWMutex
	running        bool
	lastHolding    string
	lastBatchStart time.Time
	lastBatchEnd   time.Time
	resolvedCount  int
	clearedCount   int
	failedSaves    int

	// Priority queue for user-requested single-holding refreshes
	urgentMu    sync.Mutex
	urgentQueue []uint
}

// ResolveStatus reports batch progress and API quota for the UI
type ResolveStatus struct {
	Running        bool      `json:"running"`
	LastHolding    string    `json:"last_holding"`
	LastBatchStart time.Time `json:"last_batch_start"`
	LastBatchEnd   time.Time `json:"last_batch_end"`
	ResolvedCount  int       `json:"resolved_count"`
	ClearedCount   int       `json:"cleared_count"`
	FailedSaves    int       `json:"failed_saves"`
	QueueSize      int       `json:"queue_size"`

	// Structured API quota info
	DailyLimit int       `json:"daily_limit"`
	Remaining  int       `json:"remaining"`
	ResetsAt   time.Time `json:"resets_at,omitempty"`
}

// NewResolveWorker creates a new resolution worker. saveFn is the single
// serialization point for holding mutations: the worker never writes storage
// directly. Passing nil uses a default that saves through db.
func NewResolveWorker(resolver *Resolver, api *StructuredAPIService, db *gorm.DB, saveFn func(*models.Holding) error) *ResolveWorker {
	w := &ResolveWorker{
		resolver: resolver,
		api:      api,
		db:       db,
		saveFn:   saveFn,
	}
	if w.saveFn == nil {
		w.saveFn = func(h *models.Holding) error {
			return db.Save(h).Error
		}
	}
	return w
}

// QueueRefresh adds a holding to the high-priority refresh queue and returns
// its position
func (w *ResolveWorker) QueueRefresh(holdingID uint) int {
	w.urgentMu.Lock()
	defer w.urgentMu.Unlock()

	for i, id := range w.urgentQueue {
		if id == holdingID {
			return i + 1
		}
	}
	w.urgentQueue = append(w.urgentQueue, holdingID)
	metrics.ResolutionQueueSize.Set(float64(len(w.urgentQueue)))
	log.Printf("Resolve worker: queued refresh for holding %d (queue size: %d)", holdingID, len(w.urgentQueue))
	return len(w.urgentQueue)
}

// Start begins the background worker loop: it drains the urgent queue every
// few seconds. Full batch passes only run when requested.
func (w *ResolveWorker) Start(ctx context.Context) {
	log.Println("Resolve worker started")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Resolve worker stopping...")
			return
		case <-ticker.C:
			w.drainUrgentQueue(ctx)
		}
	}
}

// drainUrgentQueue resolves user-requested holdings one at a time
func (w *ResolveWorker) drainUrgentQueue(ctx context.Context) {
	for {
		w.urgentMu.Lock()
		if len(w.urgentQueue) == 0 {
			w.urgentMu.Unlock()
			return
		}
		id := w.urgentQueue[0]
		w.urgentQueue = w.urgentQueue[1:]
		metrics.ResolutionQueueSize.Set(float64(len(w.urgentQueue)))
		w.urgentMu.Unlock()

		if _, err := w.ResolveOne(ctx, id, true); err != nil {
			log.Printf("Resolve worker: urgent refresh of holding %d failed: %v", id, err)
		}
	}
}

// ResolveOne resolves a single holding by id. force bypasses the CSV/manual
// eligibility gate (a user-requested refresh is an explicit overwrite).
func (w *ResolveWorker) ResolveOne(ctx context.Context, holdingID uint, force bool) (*models.Holding, error) {
	var holding models.Holding
	if err := w.db.First(&holding, holdingID).Error; err != nil {
		return nil, err
	}

	if !ShouldResolve(&holding, force) {
		return &holding, nil
	}

	opts := ResolveOptions{ForceOverwrite: force, Arbitration: BatchArbitration()}
	if w.resolver.Resolve(ctx, &holding, nil, opts) {
		if err := w.saveFn(&holding); err != nil {
			return nil, err
		}
	}
	return &holding, nil
}

// RunBatch resolves every eligible stored holding sequentially, in storage
// order. Holdings are fetched in bulk from the structured API first; the
// per-holding chain covers the rest. Individual failures degrade to "no
// target found" and never abort peers; storage failures are counted and the
// batch continues with in-memory state.
func (w *ResolveWorker) RunBatch(ctx context.Context, force bool) (resolved int, err error) {
	w.batchLock.Lock()
	defer w.batchLock.Unlock()

	Trace().Clear()
	start := time.Now()

	w.mu.Lock()
	w.running = true
	w.lastBatchStart = start
	w.resolvedCount = 0
	w.clearedCount = 0
	w.failedSaves = 0
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.lastBatchEnd = time.Now()
		w.mu.Unlock()
		metrics.ResolutionBatchDuration.Observe(time.Since(start).Seconds())
	}()

	var holdings []models.Holding
	if err := w.db.Order("id ASC").Find(&holdings).Error; err != nil {
		return 0, err
	}

	// Eligible set, preserving iteration order. Funds and ETFs are excluded
	// from automatic passes; the snippet source is only reachable through an
	// explicit per-holding refresh.
	var eligible []*models.Holding
	for i := range holdings {
		h := &holdings[i]
		if !ShouldResolve(h, force) {
			Trace().Append("resolver", h.SecurityName, false, "skipped (source %s, manual %v)", h.SourceTag, h.ManualOverride)
			continue
		}
		if h.IsFundOrETF() {
			continue
		}
		eligible = append(eligible, h)
	}

	if len(eligible) == 0 {
		log.Println("Resolve worker: no holdings need resolution")
		return 0, nil
	}

	log.Printf("Resolve worker: resolving %d of %d holdings", len(eligible), len(holdings))

	var bulk map[string]*TargetCandidate
	if w.api != nil {
		bulk = w.api.FetchBulk(ctx, eligible)
	}

	opts := ResolveOptions{ForceOverwrite: force, Arbitration: BatchArbitration()}
	for _, h := range eligible {
		w.mu.Lock()
		w.lastHolding = h.SecurityName
		w.mu.Unlock()

		changed := w.resolver.Resolve(ctx, h, bulk[h.NationalSecurityID], opts)
		if !changed {
			continue
		}

		if h.HasTarget() {
			resolved++
			w.mu.Lock()
			w.resolvedCount++
			w.mu.Unlock()
		} else {
			w.mu.Lock()
			w.clearedCount++
			w.mu.Unlock()
		}

		if err := w.saveFn(h); err != nil {
			// The holding's stored state is now inconsistent with memory;
			// report it and keep going for the remaining holdings
			log.Printf("Resolve worker: failed to save holding %s: %v", h.SecurityName, err)
			w.mu.Lock()
			w.failedSaves++
			w.mu.Unlock()
		}
	}

	log.Printf("Resolve worker: batch done, %d resolved, %d cleared in %v", resolved, w.clearedCountSnapshot(), time.Since(start))
	return resolved, nil
}

func (w *ResolveWorker) clearedCountSnapshot() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.clearedCount
}

// GetStatus returns current worker progress and quota info
func (w *ResolveWorker) GetStatus() ResolveStatus {
	w.mu.RLock()
	status := ResolveStatus{
		Running:        w.running,
		LastHolding:    w.lastHolding,
		LastBatchStart: w.lastBatchStart,
		LastBatchEnd:   w.lastBatchEnd,
		ResolvedCount:  w.resolvedCount,
		ClearedCount:   w.clearedCount,
		FailedSaves:    w.failedSaves,
	}
	w.mu.RUnlock()

	w.urgentMu.Lock()
	status.QueueSize = len(w.urgentQueue)
	w.urgentMu.Unlock()

	if w.api != nil {
		status.DailyLimit = w.api.GetDailyLimit()
		status.Remaining = w.api.GetRequestsRemaining()
		status.ResetsAt = w.api.GetResetTime()
	}

	return status
}
