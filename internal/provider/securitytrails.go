package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/imroc/req/v3"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/output"
	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/validate"
)

const (
	securitytrailsBaseURL = "https://api.securitytrails.com/v1"
	stDomainsListURL      = securitytrailsBaseURL + "/domains/list"
	stScrollURL           = securitytrailsBaseURL + "/scroll/"

	// SecurityTrailsDefaultRPS is the target request rate for the
	// SecurityTrails API.
	SecurityTrailsDefaultRPS float64 = 5.0
	// SecurityTrailsMaxPages is the deepest scroll batch the API serves on
	// standard plans. Overrides can lower it but never raise it.
	SecurityTrailsMaxPages = 50
)

// stListResponse is the JSON body of both the DSL search response and the
// scroll continuation response. The scroll id normally lives under meta but
// some responses carry it at the top level, so both are decoded.
type stListResponse struct {
	Records  []stRecord `json:"records"`
	Meta     stMeta     `json:"meta"`
	ScrollID string     `json:"scroll_id"`
}

type stRecord struct {
	Hostname string `json:"hostname"`
}

type stMeta struct {
	ScrollID     string `json:"scroll_id"`
	TotalRecords int    `json:"total_records"`
}

// SecurityTrails queries the SecurityTrails domains DSL API. The first page
// is a POST search that opens a scroll; later pages follow the scroll id, so
// pages can only be fetched in order. The API reports end-of-results
// explicitly by omitting the scroll id.
type SecurityTrails struct {
	client   *req.Client
	logger   *slog.Logger
	apiKey   string
	rps      float64
	maxPages int
}

// NewSecurityTrails creates a SecurityTrails provider client.
func NewSecurityTrails(client *req.Client, opts Options, logger *slog.Logger) *SecurityTrails {
	return &SecurityTrails{
		client:   client,
		logger:   logger,
		apiKey:   opts.APIKey,
		rps:      effectiveRate(SecurityTrailsDefaultRPS, opts.RequestsPerSecond),
		maxPages: effectiveMaxPages(SecurityTrailsMaxPages, opts.MaxPages),
	}
}

// Name returns the provider identifier.
func (c *SecurityTrails) Name() string { return NameSecurityTrails }

// Capabilities returns the SecurityTrails pagination and pacing contract.
func (c *SecurityTrails) Capabilities() Capabilities {
	return Capabilities{
		MaxPages:           c.maxPages,
		RequestsPerSecond:  c.rps,
		EmptyPageTolerance: 0,
	}
}

// FetchPage fetches the page after cur for the given lookup.
func (c *SecurityTrails) FetchPage(ctx context.Context, q Query, cur Cursor) (*Page, error) {
	key := validate.NormalizeDomain(output.StripANSI(q.LookupKey))
	if !validate.IsDomain(key) {
		return nil, fmt.Errorf("%w: must be a valid host name: %q", apperr.ErrInvalidInput, q.LookupKey)
	}
	if q.LookupKind != store.KindMX && q.LookupKind != store.KindNS {
		return nil, fmt.Errorf("%w: unknown lookup kind %q", apperr.ErrInvalidInput, q.LookupKind)
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: securitytrails API key is not configured", apperr.ErrUnauthorized)
	}
	if c.maxPages > 0 && cur.Page >= c.maxPages {
		return nil, fmt.Errorf("%w: securitytrails serves at most %d pages", apperr.ErrPageLimit, c.maxPages)
	}
	if cur.Page > 0 && cur.Token == "" {
		// A mid-stream cursor without a scroll id means the previous page
		// already closed the scroll. There is nothing left to fetch.
		return nil, fmt.Errorf("%w: scroll already consumed", apperr.ErrEndOfResults)
	}

	var body stListResponse
	var resp *req.Response
	var err error
	if cur.Token == "" {
		resp, err = c.client.R().
			SetContext(ctx).
			SetHeader("APIKEY", c.apiKey).
			SetQueryParam("include_ips", "false").
			SetQueryParam("scroll", "true").
			SetBody(map[string]string{"query": fmt.Sprintf("%s = '%s'", q.LookupKind, key)}).
			SetSuccessResult(&body).
			Post(stDomainsListURL)
	} else {
		resp, err = c.client.R().
			SetContext(ctx).
			SetHeader("APIKEY", c.apiKey).
			SetSuccessResult(&body).
			Get(stScrollURL + cur.Token)
	}
	if err != nil {
		return nil, classifyRequestError(c.Name(), err)
	}
	if !resp.IsSuccessState() {
		return nil, classifyStatus(c.Name(), resp)
	}

	scrollID := body.Meta.ScrollID
	if scrollID == "" {
		scrollID = body.ScrollID
	}

	page := &Page{Next: Cursor{Page: cur.Page + 1, Token: scrollID}}
	for _, rec := range body.Records {
		name := validate.NormalizeDomain(output.StripANSI(rec.Hostname))
		if !validate.IsDomain(name) {
			c.logger.Debug("securitytrails: skipping invalid hostname", "hostname", rec.Hostname)
			page.Dropped++
			continue
		}
		page.Records = append(page.Records, name)
	}
	if len(body.Records) == 0 || scrollID == "" {
		page.End = true
		page.Next.Token = ""
	}
	return page, nil
}
