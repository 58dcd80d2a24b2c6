package services

import (
	"context"

	"github.com/codyseavey/portfolio-tracker/backend/internal/metrics"
	"github.com/codyseavey/portfolio-tracker/backend/internal/models"
)

// ConfirmFunc decides an unrealistic-replacement swap: original is the value
// the primary source produced, replacement the secondary candidate. Returning
// true accepts the replacement.
type ConfirmFunc func(original, replacement float64) bool

// Arbitration selects the unrealistic-replacement policy for one resolution
// call. It is an explicit parameter rather than process state so overlapping
// resolution passes cannot leak each other's policy.
type Arbitration struct {
	interactive bool
	confirm     ConfirmFunc
}

// BatchArbitration auto-declines every swap: only values that are realistic
// outright are accepted during unattended passes.
func BatchArbitration() Arbitration {
	return Arbitration{}
}

// InteractiveArbitration defers the swap decision to the given confirmation
// collaborator.
func InteractiveArbitration(confirm ConfirmFunc) Arbitration {
	return Arbitration{interactive: true, confirm: confirm}
}

// ResolveOptions configures one resolution call
type ResolveOptions struct {
	ForceOverwrite bool
	Arbitration    Arbitration
}

// Resolver orchestrates the ordered source fallback for a single holding and
// applies the plausibility and arbitration policy.
type Resolver struct {
	api     *StructuredAPIService
	llm     *LLMQueryService
	scrape  *HtmlScrapeService
	snippet *SearchSnippetService
	fx      *FXRateService
}

// NewResolver creates a resolver over the four source clients
func NewResolver(api *StructuredAPIService, llm *LLMQueryService, scrape *HtmlScrapeService, snippet *SearchSnippetService, fx *FXRateService) *Resolver {
	return &Resolver{
		api:     api,
		llm:     llm,
		scrape:  scrape,
		snippet: snippet,
		fx:      fx,
	}
}

// ShouldResolve is the eligibility gate applied before a resolution pass:
// manually overridden records and CSV-sourced records that already carry a
// target are skipped unless the caller forces an overwrite. Holdings with no
// target at all always proceed, whatever their prior source tag.
func ShouldResolve(holding *models.Holding, forceOverwrite bool) bool {
	if forceOverwrite {
		return true
	}
	if holding.ManualOverride {
		return false
	}
	if holding.SourceTag == models.TargetSourceCSV && holding.HasTarget() {
		return false
	}
	return true
}

// Resolve determines a price target for one holding. bulkResult is the
// holding's entry from a preceding bulk API call, nil when the bulk response
// did not include it. Returns true when the record was changed.
//
// Order: bulk result (with unrealistic-replacement arbitration), then the
// per-holding chain API -> LLM -> HTML scrape -> search snippet. The snippet
// source is consulted only for fund/ETF-type instruments. The first candidate
// that passes the realism gate wins; if nothing does, the record is cleared
// unless it came from CSV or is manually overridden.
func (r *Resolver) Resolve(ctx context.Context, holding *models.Holding, bulkResult *TargetCandidate, opts ResolveOptions) bool {
	if holding.ManualOverride && !opts.ForceOverwrite {
		return false
	}

	ref := holding.ReferencePrice()

	// The LLM is queried at most once per call. When arbitration already
	// fetched a replacement, the chain's LLM slot reuses that answer.
	llmQueried := false
	var llmAnswer *TargetCandidate

	// Step 1: bulk result, if the batch response covered this holding
	if bulkResult != nil && bulkResult.Target > 0 {
		if IsRealisticEnough(bulkResult.Target, ref) {
			r.accept(holding, bulkResult)
			return true
		}

		// Present but unrealistic: arbitrate against an LLM replacement
		// before falling through to the per-holding chain
		llmQueried = true
		llmAnswer = r.fetchReplacement(ctx, holding)
		if llmAnswer != nil {
			if r.arbitrate(holding, bulkResult, llmAnswer, opts.Arbitration) {
				r.accept(holding, llmAnswer)
				return true
			}
			if opts.Arbitration.interactive {
				// A user decline refuses the value itself, not just the
				// swap; do not offer it again through the chain
				llmAnswer = nil
			}
		}
	}

	// Step 2: full fallback chain, first acceptable candidate wins. A batch
	// auto-decline only blocks the swap protocol: the replacement still
	// competes here, gated by the realism check like any other candidate.
	for _, client := range r.chain(holding) {
		var candidate *TargetCandidate
		if llmQueried && client == SourceClient(r.llm) {
			candidate = llmAnswer
		} else {
			candidate = client.FetchTarget(ctx, holding)
		}
		if candidate == nil || candidate.Target <= 0 {
			continue
		}
		if !IsRealisticEnough(candidate.Target, ref) {
			Trace().Append(client.Name(), holding.SecurityName, false,
				"candidate %.2f rejected against reference %v", candidate.Target, deref(ref))
			metrics.SourceAttemptsTotal.WithLabelValues(client.Name(), "rejected").Inc()
			continue
		}
		r.accept(holding, candidate)
		return true
	}

	// Step 3: nothing acceptable. CSV and manual records survive, anything
	// else is cleared down to an empty record.
	if holding.SourceTag == models.TargetSourceCSV || holding.ManualOverride {
		return false
	}
	if holding.HasTarget() || holding.SourceTag != models.TargetSourceNone {
		holding.PriceTargetRecord.Clear()
		metrics.TargetsClearedTotal.Inc()
		Trace().Append("resolver", holding.SecurityName, false, "no acceptable candidate, record cleared")
		return true
	}
	return false
}

// chain builds the ordered per-holding client list. The snippet source only
// applies to funds/ETFs.
func (r *Resolver) chain(holding *models.Holding) []SourceClient {
	var clients []SourceClient
	if r.api != nil && r.api.IsEnabled() {
		clients = append(clients, r.api)
	}
	if r.llm != nil && r.llm.IsEnabled() {
		clients = append(clients, r.llm)
	}
	if r.scrape != nil {
		clients = append(clients, r.scrape)
	}
	if r.snippet != nil && holding.IsFundOrETF() {
		clients = append(clients, r.snippet)
	}
	return clients
}

// fetchReplacement queries the LLM for an arbitration replacement candidate.
func (r *Resolver) fetchReplacement(ctx context.Context, holding *models.Holding) *TargetCandidate {
	if r.llm == nil || !r.llm.IsEnabled() {
		return nil
	}
	replacement := r.llm.FetchTarget(ctx, holding)
	if replacement == nil || replacement.Target <= 0 {
		metrics.ArbitrationSwapsTotal.WithLabelValues("no_replacement").Inc()
		return nil
	}
	return replacement
}

// arbitrate runs the unrealistic-replacement protocol over an already fetched
// replacement. Batch passes auto-decline the swap; the interactive path defers
// to the confirmation collaborator.
func (r *Resolver) arbitrate(holding *models.Holding, original, replacement *TargetCandidate, policy Arbitration) bool {
	if !policy.interactive || policy.confirm == nil {
		Trace().Append("resolver", holding.SecurityName, false,
			"unrealistic %.2f: swap to %.2f auto-declined in batch mode", original.Target, replacement.Target)
		metrics.ArbitrationSwapsTotal.WithLabelValues("declined").Inc()
		return false
	}

	if !policy.confirm(original.Target, replacement.Target) {
		Trace().Append("resolver", holding.SecurityName, false,
			"unrealistic %.2f: replacement %.2f declined by user", original.Target, replacement.Target)
		metrics.ArbitrationSwapsTotal.WithLabelValues("declined").Inc()
		return false
	}

	Trace().Append("resolver", holding.SecurityName, true,
		"unrealistic %.2f replaced by %.2f after confirmation", original.Target, replacement.Target)
	metrics.ArbitrationSwapsTotal.WithLabelValues("accepted").Inc()
	return true
}

// accept normalizes a candidate to EUR and writes it into the record. An
// automatic write always clears the manual-override flag.
func (r *Resolver) accept(holding *models.Holding, candidate *TargetCandidate) {
	target := r.fx.ToEUR(candidate.Target, candidate.Currency)
	eur := "EUR"

	holding.Target = &target
	holding.TargetDate = &candidate.Date
	holding.AnalystSpreadPct = candidate.SpreadPct
	holding.SourceTag = candidate.Source
	holding.TargetCurrency = &eur
	holding.AnalystCount = candidate.AnalystCount
	holding.ManualOverride = false

	holding.TargetHigh = nil
	if candidate.High != nil {
		high := r.fx.ToEUR(*candidate.High, candidate.Currency)
		holding.TargetHigh = &high
	}
	holding.TargetLow = nil
	if candidate.Low != nil {
		low := r.fx.ToEUR(*candidate.Low, candidate.Currency)
		holding.TargetLow = &low
	}

	metrics.TargetsResolvedTotal.WithLabelValues(string(candidate.Source)).Inc()
	Trace().Append("resolver", holding.SecurityName, true,
		"accepted %.2f EUR from %s", target, candidate.Source)
}
