// Package testutil provides shared test helpers for unit tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/revharvest/revharvest/internal/provider"
	"github.com/revharvest/revharvest/internal/store"
)

// NopLogger returns a logger that discards all output.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewStore opens an in-memory store and closes it when the test ends.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// MockProvider implements provider.Client for testing. Each field is a
// function so tests can set only the methods they need.
type MockProvider struct {
	NameFn         func() string
	CapabilitiesFn func() provider.Capabilities
	FetchPageFn    func(ctx context.Context, q provider.Query, cur provider.Cursor) (*provider.Page, error)
}

var _ provider.Client = (*MockProvider)(nil)

// Name implements provider.Client.
func (m *MockProvider) Name() string {
	if m.NameFn != nil {
		return m.NameFn()
	}
	return "mock"
}

// Capabilities implements provider.Client.
func (m *MockProvider) Capabilities() provider.Capabilities {
	if m.CapabilitiesFn != nil {
		return m.CapabilitiesFn()
	}
	return provider.Capabilities{RequestsPerSecond: 1000}
}

// FetchPage implements provider.Client.
func (m *MockProvider) FetchPage(ctx context.Context, q provider.Query, cur provider.Cursor) (*provider.Page, error) {
	if m.FetchPageFn != nil {
		return m.FetchPageFn(ctx, q, cur)
	}
	return &provider.Page{End: true}, nil
}

// ScriptedProvider serves a fixed sequence of pages keyed by cursor page
// number, the way an unlimited-pagination provider would. Pages beyond the
// script come back empty.
type ScriptedProvider struct {
	ProviderName string
	Caps         provider.Capabilities
	Pages        [][]string

	// Fetches counts FetchPage calls, including ones that returned errors.
	Fetches int

	// FailAt injects FailWith on the fetch of the given 1-based page number.
	FailAt   int
	FailWith error
}

var _ provider.Client = (*ScriptedProvider)(nil)

// Name implements provider.Client.
func (s *ScriptedProvider) Name() string {
	if s.ProviderName != "" {
		return s.ProviderName
	}
	return "scripted"
}

// Capabilities implements provider.Client.
func (s *ScriptedProvider) Capabilities() provider.Capabilities {
	caps := s.Caps
	if caps.RequestsPerSecond <= 0 {
		caps.RequestsPerSecond = 1000
	}
	return caps
}

// FetchPage implements provider.Client.
func (s *ScriptedProvider) FetchPage(_ context.Context, _ provider.Query, cur provider.Cursor) (*provider.Page, error) {
	s.Fetches++
	pageNum := cur.Page + 1
	if s.FailAt > 0 && pageNum == s.FailAt && s.FailWith != nil {
		return nil, s.FailWith
	}
	page := &provider.Page{Next: provider.Cursor{Page: pageNum}}
	if pageNum > len(s.Pages) {
		page.End = true
		return page, nil
	}
	page.Records = append(page.Records, s.Pages[pageNum-1]...)
	if pageNum == len(s.Pages) {
		page.End = true
	}
	return page, nil
}
