package testing

import (
	"context"
	"sync"

	"github.com/aristath/gapfill/internal/domain"
)

// StubProvider is a scripted provider for testing. Results are looked up by
// symbol, then by gap type, then fall back to the default result.
type StubProvider struct {
	mu        sync.RWMutex
	name      string
	bySymbol  map[string]domain.FetchResult
	byType    map[domain.GapType]domain.FetchResult
	fallback  domain.FetchResult
	calls     []domain.Gap
	onFetched func(gap domain.Gap)
}

// NewStubProvider creates a stub that returns an empty success by default.
func NewStubProvider(name string) *StubProvider {
	return &StubProvider{
		name:     name,
		bySymbol: make(map[string]domain.FetchResult),
		byType:   make(map[domain.GapType]domain.FetchResult),
		fallback: domain.Found(name, "stub", domain.Dataset{}),
	}
}

// Name returns the provider name
func (m *StubProvider) Name() string {
	return m.name
}

// SetDefault sets the result returned when nothing more specific matches
func (m *StubProvider) SetDefault(result domain.FetchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = result
}

// SetSymbolResult sets the result returned for one symbol
func (m *StubProvider) SetSymbolResult(symbol string, result domain.FetchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bySymbol[symbol] = result
}

// SetTypeResult sets the result returned for one gap type
func (m *StubProvider) SetTypeResult(gapType domain.GapType, result domain.FetchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byType[gapType] = result
}

// OnFetch registers a hook called after every fetch
func (m *StubProvider) OnFetch(fn func(gap domain.Gap)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFetched = fn
}

// Fetch returns the scripted result and records the call
func (m *StubProvider) Fetch(ctx context.Context, gap domain.Gap) domain.FetchResult {
	m.mu.Lock()
	m.calls = append(m.calls, gap)
	result, ok := m.bySymbol[gap.Symbol]
	if !ok {
		result, ok = m.byType[gap.Type]
	}
	if !ok {
		result = m.fallback
	}
	hook := m.onFetched
	m.mu.Unlock()

	if hook != nil {
		hook(gap)
	}
	return result
}

// Calls returns the gaps fetched so far, in order
func (m *StubProvider) Calls() []domain.Gap {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Gap, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of fetches
func (m *StubProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// StubDetector returns a fixed gap map
type StubDetector struct {
	mu    sync.RWMutex
	gaps  domain.GapsByType
	err   error
	calls int
}

// NewStubDetector creates a detector stub returning gaps
func NewStubDetector(gaps domain.GapsByType) *StubDetector {
	return &StubDetector{gaps: gaps}
}

// SetGaps replaces the gaps to return
func (m *StubDetector) SetGaps(gaps domain.GapsByType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gaps = gaps
}

// SetError sets the error to return
func (m *StubDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// DetectAllGaps returns the configured gaps
func (m *StubDetector) DetectAllGaps(ctx context.Context) (domain.GapsByType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.gaps, nil
}

// CallCount returns the number of detections
func (m *StubDetector) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}
