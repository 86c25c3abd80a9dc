package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/imroc/req/v3"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/output"
	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/validate"
)

const (
	viewdnsBaseURL   = "https://api.viewdns.info"
	viewdnsReverseMX = viewdnsBaseURL + "/reversemx/"
	viewdnsReverseNS = viewdnsBaseURL + "/reversens/"

	// ViewDNSDefaultRPS is the target request rate for the ViewDNS API.
	ViewDNSDefaultRPS float64 = 1.0
	// ViewDNSEmptyPageTolerance is how many consecutive empty pages to probe
	// past before concluding the result set is exhausted. ViewDNS has no
	// explicit end-of-results marker and occasionally serves a blank page in
	// the middle of a result set.
	ViewDNSEmptyPageTolerance = 3
)

// viewdnsEnvelope is the JSON envelope returned by ViewDNS.
type viewdnsEnvelope struct {
	Response *viewdnsResponse `json:"response"`
}

// viewdnsResponse holds the payload section of a reverse lookup response.
// Domains rows are usually bare strings but some endpoints emit objects, so
// they are decoded per row.
type viewdnsResponse struct {
	Domains []json.RawMessage `json:"domains"`
}

// ViewDNS queries the ViewDNS reverse MX / reverse NS API. Pagination is by
// numeric page parameter with no end-of-results marker, so FetchPage never
// sets Page.End; the harvest loop applies the empty page tolerance instead.
type ViewDNS struct {
	client   *req.Client
	logger   *slog.Logger
	apiKey   string
	rps      float64
	maxPages int
}

// NewViewDNS creates a ViewDNS provider client.
func NewViewDNS(client *req.Client, opts Options, logger *slog.Logger) *ViewDNS {
	return &ViewDNS{
		client:   client,
		logger:   logger,
		apiKey:   opts.APIKey,
		rps:      effectiveRate(ViewDNSDefaultRPS, opts.RequestsPerSecond),
		maxPages: effectiveMaxPages(0, opts.MaxPages),
	}
}

// Name returns the provider identifier.
func (c *ViewDNS) Name() string { return NameViewDNS }

// Capabilities returns the ViewDNS pagination and pacing contract. MaxPages
// is unbounded unless the configuration caps it.
func (c *ViewDNS) Capabilities() Capabilities {
	return Capabilities{
		MaxPages:           c.maxPages,
		RequestsPerSecond:  c.rps,
		EmptyPageTolerance: ViewDNSEmptyPageTolerance,
	}
}

// FetchPage fetches the page after cur for the given lookup.
func (c *ViewDNS) FetchPage(ctx context.Context, q Query, cur Cursor) (*Page, error) {
	key := validate.NormalizeDomain(output.StripANSI(q.LookupKey))
	if !validate.IsDomain(key) {
		return nil, fmt.Errorf("%w: must be a valid host name: %q", apperr.ErrInvalidInput, q.LookupKey)
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: viewdns API key is not configured", apperr.ErrUnauthorized)
	}
	if c.maxPages > 0 && cur.Page >= c.maxPages {
		return nil, fmt.Errorf("%w: configured page cap of %d reached", apperr.ErrPageLimit, c.maxPages)
	}

	endpoint := viewdnsReverseMX
	keyParam := "mx"
	if q.LookupKind == store.KindNS {
		endpoint = viewdnsReverseNS
		keyParam = "ns"
	}
	pageNum := cur.Page + 1

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam(keyParam, key).
		SetQueryParam("apikey", c.apiKey).
		SetQueryParam("output", "json").
		SetQueryParam("page", strconv.Itoa(pageNum)).
		Get(endpoint)
	if err != nil {
		return nil, classifyRequestError(c.Name(), err)
	}
	if !resp.IsSuccessState() {
		return nil, classifyStatus(c.Name(), resp)
	}

	raw := resp.Bytes()

	// The API reports some failures (bad key, quota exhausted) as a bare JSON
	// string with HTTP 200.
	var apiError string
	if err := json.Unmarshal(raw, &apiError); err == nil {
		return nil, fmt.Errorf("viewdns API error: %s", apiError)
	}

	var envelope viewdnsEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: viewdns: decoding response: %w", apperr.ErrTransient, err)
	}

	page := &Page{Next: Cursor{Page: pageNum}}
	if envelope.Response == nil {
		// No payload section means no results for this page.
		return page, nil
	}

	for _, row := range envelope.Response.Domains {
		name, ok := decodeDomainRow(row)
		if !ok {
			c.logger.Debug("viewdns: skipping malformed row", "row", string(row))
			page.Dropped++
			continue
		}
		name = validate.NormalizeDomain(output.StripANSI(name))
		if !validate.IsDomain(name) {
			c.logger.Debug("viewdns: skipping invalid domain", "domain", name)
			page.Dropped++
			continue
		}
		page.Records = append(page.Records, name)
	}
	return page, nil
}

// decodeDomainRow accepts the two row shapes the API emits: a bare string or
// an object with a "domain" field.
func decodeDomainRow(row json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(row, &s); err == nil {
		return s, true
	}
	var obj struct {
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal(row, &obj); err == nil && obj.Domain != "" {
		return obj.Domain, true
	}
	return "", false
}
