// Package provider contains the reverse-lookup API clients. Each client maps
// one HTTP response to one Page and classifies failures into the error
// taxonomy in apperr; pacing, retries and cross-page bookkeeping belong to the
// caller.
package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/store"
)

// Provider names.
const (
	NameViewDNS        = "viewdns"
	NameSecurityTrails = "securitytrails"
)

// Available returns all provider names, suitable for flag validation and
// shell completion.
func Available() []string {
	return []string{NameViewDNS, NameSecurityTrails}
}

// Query identifies what to harvest: every domain whose lookupKind record
// points at LookupKey.
type Query struct {
	LookupKey  string
	LookupKind store.Kind
}

// Capabilities describes a provider's pagination and pacing contract.
type Capabilities struct {
	// MaxPages is the deepest page the provider serves. 0 means unbounded.
	MaxPages int

	// RequestsPerSecond is the provider's request budget.
	RequestsPerSecond float64

	// EmptyPageTolerance is how many consecutive empty pages the harvest
	// engine should probe past before concluding end-of-results. 0 means the
	// provider marks the end explicitly and empty pages are final.
	EmptyPageTolerance int
}

// Page is one fetch unit: the sanitized subject domains of a single provider
// response plus continuation state.
type Page struct {
	// Records holds the valid subject domains, in provider order.
	Records []string

	// Dropped counts malformed rows skipped while parsing.
	Dropped int

	// Next continues the harvest after this page.
	Next Cursor

	// End is set when the provider explicitly reported no further pages.
	End bool
}

// Cursor is the provider-opaque continuation state. Page counts pages already
// fetched; Token carries scroll-style continuation ids for providers that use
// them. The zero Cursor starts a harvest from the beginning.
type Cursor struct {
	Page  int
	Token string
}

// IsZero reports whether c starts from the beginning.
func (c Cursor) IsZero() bool {
	return c.Page == 0 && c.Token == ""
}

// String serializes c for durable session storage. Inverse of ParseCursor.
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	s := "page=" + strconv.Itoa(c.Page)
	if c.Token != "" {
		s += ";scroll=" + c.Token
	}
	return s
}

// ParseCursor restores a cursor serialized by String.
func ParseCursor(s string) (Cursor, error) {
	if s == "" {
		return Cursor{}, nil
	}
	var c Cursor
	pagePart, tokenPart, hasToken := strings.Cut(s, ";scroll=")
	numStr, ok := strings.CutPrefix(pagePart, "page=")
	if !ok {
		return Cursor{}, fmt.Errorf("%w: malformed cursor %q", apperr.ErrInvalidInput, s)
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n < 0 {
		return Cursor{}, fmt.Errorf("%w: malformed cursor %q", apperr.ErrInvalidInput, s)
	}
	c.Page = n
	if hasToken {
		c.Token = tokenPart
	}
	return c, nil
}

// Client is a reverse-lookup provider. FetchPage fetches the page after cur
// and never retries or sleeps on its own.
type Client interface {
	Name() string
	Capabilities() Capabilities
	FetchPage(ctx context.Context, q Query, cur Cursor) (*Page, error)
}

// Options carries the resolved per-provider settings a client is built with.
// Zero values fall back to the provider's defaults.
type Options struct {
	APIKey            string
	RequestsPerSecond float64
	MaxPages          int
}

// New builds the named provider client on top of httpClient.
func New(name string, httpClient *req.Client, opts Options, logger *slog.Logger) (Client, error) {
	switch name {
	case NameViewDNS:
		return NewViewDNS(httpClient, opts, logger), nil
	case NameSecurityTrails:
		return NewSecurityTrails(httpClient, opts, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (want viewdns or securitytrails)", apperr.ErrInvalidInput, name)
	}
}

// effectiveRate applies a user rate override to a provider default.
func effectiveRate(def, override float64) float64 {
	if override > 0 {
		return override
	}
	return def
}

// effectiveMaxPages applies a user page-cap override to a provider default.
// A capped provider's cap can be lowered but never raised.
func effectiveMaxPages(def, override int) int {
	if override <= 0 {
		return def
	}
	if def > 0 && override > def {
		return def
	}
	return override
}

// retryAfter durations for HTTP 429 responses.
const (
	// retryAfterFallback is used when Retry-After is absent or unparseable.
	retryAfterFallback = 5 * time.Second
	// retryAfterCap is the maximum wait honoured from a Retry-After header.
	retryAfterCap = 60 * time.Second
)
