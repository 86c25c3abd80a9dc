package provider_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revharvest/revharvest/internal/apperr"
	"github.com/revharvest/revharvest/internal/provider"
	"github.com/revharvest/revharvest/internal/store"
	"github.com/revharvest/revharvest/internal/testutil"
)

const (
	stListURL   = "https://api.securitytrails.com/v1/domains/list?include_ips=false&scroll=true"
	stScrollURL = "https://api.securitytrails.com/v1/scroll/c2Nyb2xsLXRva2VuLTAwMQ"
)

func newSecurityTrails(t *testing.T, opts provider.Options) *provider.SecurityTrails {
	t.Helper()
	client := newTestClient(t)
	if opts.APIKey == "" {
		opts.APIKey = "testkey"
	}
	return provider.NewSecurityTrails(client, opts, testutil.NopLogger())
}

func TestSecurityTrails_FetchPage_FirstPage(t *testing.T) {
	fixture, err := os.ReadFile("testdata/securitytrails_page1.json")
	require.NoError(t, err)

	var gotBody []byte
	var gotKey string
	svc := newSecurityTrails(t, provider.Options{})
	httpmock.RegisterResponder(http.MethodPost, stListURL,
		func(r *http.Request) (*http.Response, error) {
			gotKey = r.Header.Get("APIKEY")
			gotBody, _ = io.ReadAll(r.Body)
			return httpmock.NewBytesResponse(http.StatusOK, fixture), nil
		},
	)

	page, err := svc.FetchPage(context.Background(), mxQuery("mx01.ionos.de"), provider.Cursor{})
	require.NoError(t, err)

	assert.Equal(t, "testkey", gotKey)
	var body map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, "mx = 'mx01.ionos.de'", body["query"])

	assert.Equal(t, []string{"beispiel-shop.de", "kanzlei-schmidt.de", "ferienhaus-ostsee.de"}, page.Records)
	assert.Equal(t, provider.Cursor{Page: 1, Token: "c2Nyb2xsLXRva2VuLTAwMQ"}, page.Next)
	assert.False(t, page.End)
}

func TestSecurityTrails_FetchPage_NSQuery(t *testing.T) {
	var gotBody []byte
	svc := newSecurityTrails(t, provider.Options{})
	httpmock.RegisterResponder(http.MethodPost, stListURL,
		func(r *http.Request) (*http.Response, error) {
			gotBody, _ = io.ReadAll(r.Body)
			return httpmock.NewStringResponse(http.StatusOK, `{"records":[]}`), nil
		},
	)

	q := provider.Query{LookupKey: "NS1.Example.NET.", LookupKind: store.KindNS}
	_, err := svc.FetchPage(context.Background(), q, provider.Cursor{})
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal(gotBody, &body))
	assert.Equal(t, "ns = 'ns1.example.net'", body["query"], "lookup key should be normalized before querying")
}

func TestSecurityTrails_FetchPage_ScrollContinuation(t *testing.T) {
	fixture, err := os.ReadFile("testdata/securitytrails_final.json")
	require.NoError(t, err)

	svc := newSecurityTrails(t, provider.Options{})
	httpmock.RegisterResponder(http.MethodGet, stScrollURL,
		httpmock.NewBytesResponder(http.StatusOK, fixture),
	)

	cur := provider.Cursor{Page: 1, Token: "c2Nyb2xsLXRva2VuLTAwMQ"}
	page, err := svc.FetchPage(context.Background(), mxQuery("mx01.ionos.de"), cur)
	require.NoError(t, err)

	assert.Equal(t, []string{"stadtwerke-musterstadt.de"}, page.Records)
	assert.True(t, page.End, "missing scroll_id ends the stream")
	assert.Equal(t, provider.Cursor{Page: 2}, page.Next)
}

func TestSecurityTrails_FetchPage_EmptyRecordsEndsStream(t *testing.T) {
	svc := newSecurityTrails(t, provider.Options{})
	httpmock.RegisterResponder(http.MethodGet, stScrollURL,
		httpmock.NewStringResponder(http.StatusOK, `{"records":[],"meta":{"scroll_id":"c2Nyb2xsLXRva2VuLTAwMQ"}}`),
	)

	cur := provider.Cursor{Page: 1, Token: "c2Nyb2xsLXRva2VuLTAwMQ"}
	page, err := svc.FetchPage(context.Background(), mxQuery("mx01.ionos.de"), cur)
	require.NoError(t, err)
	assert.Empty(t, page.Records)
	assert.True(t, page.End)
	assert.Empty(t, page.Next.Token)
}

func TestSecurityTrails_FetchPage_TopLevelScrollID(t *testing.T) {
	svc := newSecurityTrails(t, provider.Options{})
	httpmock.RegisterResponder(http.MethodPost, stListURL,
		httpmock.NewStringResponder(http.StatusOK,
			`{"records":[{"hostname":"hosted-one.org"}],"scroll_id":"dG9wbGV2ZWw","meta":{"total_records":50}}`),
	)

	page, err := svc.FetchPage(context.Background(), mxQuery("mx01.ionos.de"), provider.Cursor{})
	require.NoError(t, err)
	assert.Equal(t, provider.Cursor{Page: 1, Token: "dG9wbGV2ZWw"}, page.Next)
	assert.False(t, page.End)
}

func TestSecurityTrails_FetchPage_DroppedHostnames(t *testing.T) {
	svc := newSecurityTrails(t, provider.Options{})
	httpmock.RegisterResponder(http.MethodPost, stListURL,
		httpmock.NewStringResponder(http.StatusOK,
			`{"records":[{"hostname":"good.de"},{"hostname":""},{"hostname":"bad host.de"}],"meta":{"scroll_id":"x"}}`),
	)

	page, err := svc.FetchPage(context.Background(), mxQuery("mx01.ionos.de"), provider.Cursor{})
	require.NoError(t, err)
	assert.Equal(t, []string{"good.de"}, page.Records)
	assert.Equal(t, 2, page.Dropped)
}

func TestSecurityTrails_FetchPage_PageLimit(t *testing.T) {
	svc := newSecurityTrails(t, provider.Options{MaxPages: 2})

	_, err := svc.FetchPage(context.Background(), mxQuery("mx01.ionos.de"), provider.Cursor{Page: 2, Token: "tok"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrPageLimit)
	assert.Zero(t, httpmock.GetTotalCallCount(), "capped fetch must never reach the wire")
}

func TestSecurityTrails_FetchPage_StaleCursorWithoutToken(t *testing.T) {
	svc := newSecurityTrails(t, provider.Options{})

	_, err := svc.FetchPage(context.Background(), mxQuery("mx01.ionos.de"), provider.Cursor{Page: 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrEndOfResults)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestSecurityTrails_FetchPage_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, apperr.ErrUnauthorized},
		{http.StatusForbidden, apperr.ErrUnauthorized},
		{http.StatusTooManyRequests, apperr.ErrRateLimited},
		{http.StatusInternalServerError, apperr.ErrTransient},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			svc := newSecurityTrails(t, provider.Options{})
			httpmock.RegisterResponder(http.MethodPost, stListURL,
				httpmock.NewStringResponder(tc.status, `{"message":"nope"}`),
			)

			_, err := svc.FetchPage(context.Background(), mxQuery("mx01.ionos.de"), provider.Cursor{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestSecurityTrails_FetchPage_MissingAPIKey(t *testing.T) {
	client := newTestClient(t)
	svc := provider.NewSecurityTrails(client, provider.Options{}, testutil.NopLogger())

	_, err := svc.FetchPage(context.Background(), mxQuery("mx01.ionos.de"), provider.Cursor{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrUnauthorized)
}

func TestSecurityTrails_Capabilities(t *testing.T) {
	svc := newSecurityTrails(t, provider.Options{})
	caps := svc.Capabilities()
	assert.Equal(t, provider.SecurityTrailsMaxPages, caps.MaxPages)
	assert.Equal(t, provider.SecurityTrailsDefaultRPS, caps.RequestsPerSecond)
	assert.Zero(t, caps.EmptyPageTolerance)

	// A user cap can lower the page limit but never raise it.
	svc = newSecurityTrails(t, provider.Options{MaxPages: 10})
	assert.Equal(t, 10, svc.Capabilities().MaxPages)
	svc = newSecurityTrails(t, provider.Options{MaxPages: 500})
	assert.Equal(t, provider.SecurityTrailsMaxPages, svc.Capabilities().MaxPages)
}
