// Package orchestrator implements C6: fans disassembly facts out to
// per-function, per-import, per-string translation calls plus one final
// overall summary, under a bounded worker pool and circuit-breaker
// protection (spec.md §4.6).
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/bin2nlp/bin2nlp/pkg/apperr"
	"github.com/bin2nlp/bin2nlp/pkg/breaker"
	"github.com/bin2nlp/bin2nlp/pkg/log"
	"github.com/bin2nlp/bin2nlp/pkg/models"
	"github.com/bin2nlp/bin2nlp/pkg/provider"
)

// Orchestrator drives one job's translation fan-out.
type Orchestrator struct {
	breakers    *breaker.Registry
	concurrency int64
}

// NewOrchestrator builds an Orchestrator whose translation calls are
// bounded to concurrency in flight and protected by breakers, keyed per
// provider (spec §4.6 "bounded worker pool ... wrapped by the circuit
// breaker for the chosen provider key").
func NewOrchestrator(breakers *breaker.Registry, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Orchestrator{breakers: breakers, concurrency: int64(concurrency)}
}

// ProgressFunc reports how many of total translation units are done (the
// last call has done == total), used by C7 to update
// Job.progress_percentage within 60-95%.
type ProgressFunc func(done, total int)

// Translate produces a TranslatedResult for d using p, respecting detail
// and cancellation requests surfaced through isCancelled. It never invokes
// p for a function whose Assembly listing is empty (spec invariant 7).
func (o *Orchestrator) Translate(ctx context.Context, d *models.Disassembly, p provider.Provider, providerKey string, detail models.TranslationDetail, isCancelled func() bool, onProgress ProgressFunc) (*models.TranslatedResult, error) {
	sem := semaphore.NewWeighted(o.concurrency)
	result := &models.TranslatedResult{}

	eligible := make([]models.Function, 0, len(d.Functions))
	for _, fn := range d.Functions {
		if fn.HasAssembly() {
			eligible = append(eligible, fn)
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("function %q at 0x%x has an empty assembly listing and was not translated", fn.Name, fn.Address))
		}
	}

	calleesOf, callersOf := buildCallGraph(d.Functions)
	importCallers := buildImportReferences(d.Functions, d.Imports)

	total := len(eligible) + len(d.Imports) + len(d.Strings) + 1 // +1 for the summary
	var done int64
	progress := func() {
		if onProgress != nil {
			n := int(atomic.AddInt64(&done, 1))
			onProgress(n, total)
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var tokensIn, tokensOut int64

	recordAccounting := func(a *provider.Accounting) {
		atomic.AddInt64(&tokensIn, int64(a.TokensIn))
		atomic.AddInt64(&tokensOut, int64(a.TokensOut))
	}

	for _, fn := range eligible {
		fn := fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer progress()
			if isCancelled != nil && isCancelled() {
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			acct := &provider.Accounting{}
			ft, err := o.translateFunctionWithRetry(ctx, providerKey, p, fn, callersOf[fn.Address], calleesOf[fn.Address], detail, acct)
			recordAccounting(acct)
			mu.Lock()
			if err != nil {
				ft = models.FunctionTranslation{FunctionAddress: fn.Address, Error: err.Error()}
				log.WithProviderKey(providerKey).Warn().Uint64("address", fn.Address).Err(err).Msg("function translation failed")
			}
			result.FunctionTranslations = append(result.FunctionTranslations, ft)
			mu.Unlock()
		}()
	}

	seenImport := make(map[string]bool)
	for _, imp := range d.Imports {
		imp := imp
		if seenImport[imp.Key()] {
			progress()
			continue
		}
		seenImport[imp.Key()] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer progress()
			if isCancelled != nil && isCancelled() {
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			acct := &provider.Accounting{}
			it, err := o.translateImportWithRetry(ctx, providerKey, p, imp, importCallers[imp.Key()], detail, acct)
			recordAccounting(acct)
			mu.Lock()
			if err != nil {
				it = models.ImportTranslation{Library: imp.Library, Name: imp.Name, Error: err.Error()}
			}
			result.ImportTranslations = append(result.ImportTranslations, it)
			mu.Unlock()
		}()
	}

	for _, s := range d.Strings {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer progress()
			if isCancelled != nil && isCancelled() {
				return
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			acct := &provider.Accounting{}
			st, err := o.translateStringWithRetry(ctx, providerKey, p, s, detail, acct)
			recordAccounting(acct)
			mu.Lock()
			if err != nil {
				st = models.StringTranslation{Address: s.Address, Error: err.Error()}
			}
			result.StringTranslations = append(result.StringTranslations, st)
			mu.Unlock()
		}()
	}

	wg.Wait()

	if isCancelled != nil && isCancelled() {
		return result, apperr.New(apperr.KindCancelled, "translation cancelled")
	}

	// overall_summary happens-after every per-item translation (spec §5).
	acct := &provider.Accounting{}
	summary, err := o.translateSummaryWithRetry(ctx, providerKey, p, *d, d.Strings, detail, acct)
	recordAccounting(acct)
	progress()
	summaryOK := err == nil
	if !summaryOK {
		result.Warnings = append(result.Warnings, "overall summary failed: "+err.Error())
	}
	result.OverallSummary = summary

	result.Accounting = models.Accounting{
		ProviderID:     providerIDFromKey(providerKey),
		TotalTokensIn:  atomic.LoadInt64(&tokensIn),
		TotalTokensOut: atomic.LoadInt64(&tokensOut),
	}

	if !meetsPartialFailureFloor(result, summaryOK) {
		return result, apperr.New(apperr.KindProviderFailure, "fewer than 50% of function translations succeeded and overall summary failed")
	}
	return result, nil
}

// meetsPartialFailureFloor implements spec §4.6's acceptance rule: the job
// reaches completed as long as >=50% of function translations succeeded OR
// the overall summary succeeded.
func meetsPartialFailureFloor(r *models.TranslatedResult, summaryOK bool) bool {
	if summaryOK {
		return true
	}
	if len(r.FunctionTranslations) == 0 {
		return true
	}
	succeeded := 0
	for _, ft := range r.FunctionTranslations {
		if ft.Error == "" {
			succeeded++
		}
	}
	return float64(succeeded)/float64(len(r.FunctionTranslations)) >= 0.5
}

func (o *Orchestrator) translateFunctionWithRetry(ctx context.Context, key string, p provider.Provider, fn models.Function, callers, callees []string, detail models.TranslationDetail, acct *provider.Accounting) (models.FunctionTranslation, error) {
	var out models.FunctionTranslation
	err := o.breakers.Execute(ctx, key, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = p.TranslateFunction(ctx, fn, callers, callees, detail, false, acct)
		if errors.Is(innerErr, provider.ErrMalformedJSON) {
			out, innerErr = p.TranslateFunction(ctx, fn, callers, callees, detail, true, acct)
		}
		return innerErr
	})
	return out, err
}

func (o *Orchestrator) translateImportWithRetry(ctx context.Context, key string, p provider.Provider, imp models.Import, referencedBy []string, detail models.TranslationDetail, acct *provider.Accounting) (models.ImportTranslation, error) {
	var out models.ImportTranslation
	err := o.breakers.Execute(ctx, key, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = p.TranslateImport(ctx, imp, referencedBy, detail, false, acct)
		if errors.Is(innerErr, provider.ErrMalformedJSON) {
			out, innerErr = p.TranslateImport(ctx, imp, referencedBy, detail, true, acct)
		}
		return innerErr
	})
	return out, err
}

func (o *Orchestrator) translateStringWithRetry(ctx context.Context, key string, p provider.Provider, s models.StringFact, detail models.TranslationDetail, acct *provider.Accounting) (models.StringTranslation, error) {
	var out models.StringTranslation
	err := o.breakers.Execute(ctx, key, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = p.TranslateString(ctx, s, detail, false, acct)
		if errors.Is(innerErr, provider.ErrMalformedJSON) {
			out, innerErr = p.TranslateString(ctx, s, detail, true, acct)
		}
		return innerErr
	})
	return out, err
}

func (o *Orchestrator) translateSummaryWithRetry(ctx context.Context, key string, p provider.Provider, d models.Disassembly, strings []models.StringFact, detail models.TranslationDetail, acct *provider.Accounting) (models.OverallSummary, error) {
	var out models.OverallSummary
	err := o.breakers.Execute(ctx, key, func(ctx context.Context) error {
		var innerErr error
		out, innerErr = p.TranslateSummary(ctx, d, strings, detail, false, acct)
		if errors.Is(innerErr, provider.ErrMalformedJSON) {
			out, innerErr = p.TranslateSummary(ctx, d, strings, detail, true, acct)
		}
		return innerErr
	})
	return out, err
}

func buildCallGraph(fns []models.Function) (calleesOf, callersOf map[uint64][]string) {
	calleesOf = make(map[uint64][]string, len(fns))
	callersOf = make(map[uint64][]string, len(fns))
	byName := make(map[string]uint64, len(fns))
	for _, fn := range fns {
		byName[fn.Name] = fn.Address
	}
	for _, fn := range fns {
		calleesOf[fn.Address] = fn.CallsTo
		for _, calleeName := range fn.CallsTo {
			if addr, ok := byName[calleeName]; ok {
				callersOf[addr] = append(callersOf[addr], fn.Name)
			}
		}
	}
	return calleesOf, callersOf
}

func buildImportReferences(fns []models.Function, imports []models.Import) map[string][]string {
	byAddr := make(map[uint64]string, len(imports))
	for _, imp := range imports {
		byAddr[imp.Address] = imp.Key()
	}
	refs := make(map[string][]string)
	for _, fn := range fns {
		for _, insn := range fn.Assembly {
			for _, target := range insn.XrefsTo {
				if key, ok := byAddr[target]; ok {
					refs[key] = append(refs[key], fn.Name)
				}
			}
		}
	}
	return refs
}

func providerIDFromKey(key string) string {
	for i, r := range key {
		if r == '|' {
			return key[:i]
		}
	}
	return key
}
