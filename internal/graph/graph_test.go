package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opsbridge.org/internal/config"
	"opsbridge.org/internal/dispatch"
	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/remote"
	"opsbridge.org/internal/token"
)

type seen struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Type   string
	Body   []byte
}

// fakeGraph serves both the token issuer and the Graph API.
type fakeGraph struct {
	t        *testing.T
	srv      *httptest.Server
	mu       sync.Mutex
	tokens   int
	requests []seen
	handle   func(w http.ResponseWriter, r *http.Request)
}

func newFakeGraph(t *testing.T) *fakeGraph {
	f := &fakeGraph{t: t}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		if strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") {
			f.tokens++
			n := f.tokens
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{"access_token":"T`+strings.Repeat("'", n-1)+`","expires_in":3600}`)
			return
		}
		f.requests = append(f.requests, seen{
			Method: r.Method,
			Path:   r.URL.EscapedPath(),
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Type:   r.Header.Get("Content-Type"),
			Body:   body,
		})
		handle := f.handle
		f.mu.Unlock()
		if handle != nil {
			handle(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"site-1"}`)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGraph) Requests() []seen {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]seen(nil), f.requests...)
}

func (f *fakeGraph) Tokens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens
}

func (f *fakeGraph) config() config.Graph {
	return config.Graph{
		TenantID:     "tenant",
		ClientID:     "client",
		ClientSecret: "secret",
		Scope:        "https://graph.microsoft.com/.default",
		TokenURL:     f.srv.URL,
		BaseURL:      f.srv.URL,
		SiteURL:      "https://contoso.sharepoint.com/sites/Ops",
		MailFrom:     "updates@onwards.network",
	}
}

func (f *fakeGraph) client(now func() time.Time) *Client {
	caller := remote.NewHTTPCaller(f.srv.Client())
	reg := token.NewRegistry(token.Config{TokenURL: f.srv.URL, Caller: caller, Now: now})
	return New(f.config(), Options{Tokens: reg, Caller: caller})
}

func TestGetSiteIDReusesTokenUntilMargin(t *testing.T) {
	f := newFakeGraph(t)
	var mu sync.Mutex
	now := time.Unix(0, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = time.Unix(0, 0).Add(d)
		mu.Unlock()
	}
	c := f.client(clock)
	ctx := context.Background()

	_, err := c.Documents.Dispatch(ctx, GetSiteID, dispatch.Payload{})
	require.NoError(t, err)

	advance(3500 * time.Second)
	_, err = c.Documents.Dispatch(ctx, GetSiteID, dispatch.Payload{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.Tokens())

	advance(3545 * time.Second)
	_, err = c.Documents.Dispatch(ctx, GetSiteID, dispatch.Payload{})
	require.NoError(t, err)
	assert.Equal(t, 2, f.Tokens())

	reqs := f.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "/v1.0/sites/contoso.sharepoint.com:/sites/Ops", reqs[0].Path)
	assert.Equal(t, "Bearer T", reqs[1].Auth)
	assert.Equal(t, "Bearer T'", reqs[2].Auth)
}

func TestDispatchersShareOneToken(t *testing.T) {
	f := newFakeGraph(t)
	c := f.client(nil)
	ctx := context.Background()

	_, err := c.Documents.Dispatch(ctx, GetSiteID, nil)
	require.NoError(t, err)
	_, err = c.Calendar.Dispatch(ctx, DeleteCalendarEvent, dispatch.Payload{"eventId": "e1"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.Tokens())
}

func TestUploadFileEncodesEachSegment(t *testing.T) {
	f := newFakeGraph(t)
	c := f.client(nil)

	_, err := c.Documents.Dispatch(context.Background(), UploadFile, dispatch.Payload{
		"siteId":      "contoso.sharepoint.com,abc,def",
		"driveId":     "b!drive/1",
		"filePath":    "Client Docs/Packing List.pdf",
		"fileContent": base64.StdEncoding.EncodeToString([]byte("pdf-bytes")),
	})
	require.NoError(t, err)

	req := f.Requests()[0]
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/v1.0/sites/contoso.sharepoint.com%2Cabc%2Cdef/drives/b%21drive%2F1/root:/Client%20Docs/Packing%20List.pdf:/content", req.Path)
	assert.Equal(t, "application/octet-stream", req.Type)
	assert.Equal(t, "pdf-bytes", string(req.Body))
}

func TestCreateFolderAndListFolder(t *testing.T) {
	f := newFakeGraph(t)
	c := f.client(nil)
	ctx := context.Background()

	_, err := c.Documents.Dispatch(ctx, CreateFolder, dispatch.Payload{
		"siteId": "s", "driveId": "d", "parentPath": "/Jobs/2024", "folderName": "MJ-100",
	})
	require.NoError(t, err)
	_, err = c.Documents.Dispatch(ctx, ListFolder, dispatch.Payload{"siteId": "s", "driveId": "d", "folderPath": ""})
	require.NoError(t, err)

	reqs := f.Requests()
	assert.Equal(t, "/v1.0/sites/s/drives/d/root:/Jobs/2024:/children", reqs[0].Path)
	assert.JSONEq(t, `{"name":"MJ-100","folder":{},"@microsoft.graph.conflictBehavior":"rename"}`, string(reqs[0].Body))
	assert.Equal(t, "/v1.0/sites/s/drives/d/root/children", reqs[1].Path)
	assert.Equal(t, "$orderby=name&$top=200", reqs[1].Query)
}

func TestItemActions(t *testing.T) {
	f := newFakeGraph(t)
	c := f.client(nil)
	ctx := context.Background()
	item := dispatch.Payload{"siteId": "s", "driveId": "d", "itemId": "01ABC"}

	_, err := c.Documents.Dispatch(ctx, GetDownloadURL, item)
	require.NoError(t, err)
	_, err = c.Documents.Dispatch(ctx, DeleteItem, item)
	require.NoError(t, err)
	_, err = c.Documents.Dispatch(ctx, UpdateMetadata, dispatch.Payload{"siteId": "s", "driveId": "d", "itemId": "01ABC", "metadata": map[string]any{"DocType": "Insurance"}})
	require.NoError(t, err)

	reqs := f.Requests()
	assert.Equal(t, "GET /v1.0/sites/s/drives/d/items/01ABC", reqs[0].Method+" "+reqs[0].Path)
	assert.Equal(t, "select=id,name,@microsoft.graph.downloadUrl", reqs[0].Query)
	assert.Equal(t, "DELETE /v1.0/sites/s/drives/d/items/01ABC", reqs[1].Method+" "+reqs[1].Path)
	assert.Equal(t, "PATCH /v1.0/sites/s/drives/d/items/01ABC/listItem/fields", reqs[2].Method+" "+reqs[2].Path)
	assert.JSONEq(t, `{"DocType":"Insurance"}`, string(reqs[2].Body))
}

func TestCreateShareLinkExpiresInNinetyDays(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	catalog := DocumentCatalog("https://contoso.sharepoint.com/sites/Ops", func() time.Time { return fixed })

	call, err := catalog[CreateShareLink].Build(dispatch.Payload{"siteId": "s", "driveId": "d", "itemId": "i"})
	require.NoError(t, err)
	assert.Equal(t, "/v1.0/sites/s/drives/d/items/i/createLink", call.Path)
	assert.JSONEq(t, `{"type":"view","scope":"anonymous","expirationDateTime":"2024-05-30T09:30:00.000Z"}`, string(call.Body))
}

func TestSearchFilesEscapesQuery(t *testing.T) {
	catalog := DocumentCatalog("https://contoso.sharepoint.com/sites/Ops", nil)
	call, err := catalog[SearchFiles].Build(dispatch.Payload{"siteId": "s", "driveId": "d", "query": "O'Brien/insurance"})
	require.NoError(t, err)
	assert.Equal(t, "/v1.0/sites/s/drives/d/root/search(q='O%27%27Brien%2Finsurance')", call.Path)
	assert.Equal(t, "$top=50", call.RawQuery)
}

func TestDocumentValidation(t *testing.T) {
	f := newFakeGraph(t)
	c := f.client(nil)

	_, err := c.Documents.Dispatch(context.Background(), UploadFile, dispatch.Payload{"siteId": "s"})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.ErrValidation))
	assert.Equal(t, "missing payload fields: driveId, filePath", err.Error())
	assert.Zero(t, f.Tokens())
}

func TestMissingSiteURLIsConfiguration(t *testing.T) {
	f := newFakeGraph(t)
	cfg := f.config()
	cfg.SiteURL = ""
	caller := remote.NewHTTPCaller(f.srv.Client())
	c := New(cfg, Options{Tokens: token.NewRegistry(token.Config{TokenURL: f.srv.URL, Caller: caller}), Caller: caller})

	_, err := c.Documents.Dispatch(context.Background(), GetSiteID, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, errs.HTTPStatus(err))
	assert.Contains(t, err.Error(), "graph.site_url")
	assert.Zero(t, f.Tokens())
}

func TestTestConnectionReportsSiteAnswer(t *testing.T) {
	f := newFakeGraph(t)
	f.handle = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"code":"itemNotFound"}}`)
	}
	c := f.client(nil)

	res, err := c.Documents.Dispatch(context.Background(), TestConnection, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.JSONEq(t, `{
		"tokenOk": true,
		"siteUrl": "https://contoso.sharepoint.com/sites/Ops",
		"siteIdPath": "/v1.0/sites/contoso.sharepoint.com:/sites/Ops",
		"siteStatus": 404,
		"siteResponse": {"error":{"code":"itemNotFound"}}
	}`, string(res.Body))
}

func TestUpstreamErrorMessageFromEnvelope(t *testing.T) {
	f := newFakeGraph(t)
	f.handle = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"error":{"code":"accessDenied","message":"Access denied"}}`)
	}
	c := f.client(nil)

	_, err := c.Documents.Dispatch(context.Background(), GetDriveID, dispatch.Payload{"siteId": "s"})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, errs.HTTPStatus(err))
	assert.Equal(t, "Access denied", errs.Message(err))
}

func TestCalendarActions(t *testing.T) {
	f := newFakeGraph(t)
	c := f.client(nil)
	ctx := context.Background()

	_, err := c.Calendar.Dispatch(ctx, CreateCalendarEvent, dispatch.Payload{"subject": "Survey", "start": map[string]any{"dateTime": "2024-05-01T09:00:00"}})
	require.NoError(t, err)
	_, err = c.Calendar.Dispatch(ctx, UpdateCalendarEvent, dispatch.Payload{"eventId": "AAMk=", "updates": map[string]any{"subject": "Moved"}})
	require.NoError(t, err)
	_, err = c.Calendar.Dispatch(ctx, UpdateCalendarEvent, dispatch.Payload{"eventId": "AAMk="})
	require.Error(t, err)

	reqs := f.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/v1.0/users/updates@onwards.network/events", reqs[0].Path)
	assert.JSONEq(t, `{"subject":"Survey","start":{"dateTime":"2024-05-01T09:00:00"}}`, string(reqs[0].Body))
	assert.Equal(t, "PATCH", reqs[1].Method)
	assert.Equal(t, "/v1.0/users/updates@onwards.network/events/AAMk=", reqs[1].Path)
	assert.JSONEq(t, `{"subject":"Moved"}`, string(reqs[1].Body))
}

func TestUpsertContactUpdatesExisting(t *testing.T) {
	f := newFakeGraph(t)
	f.handle = func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `{"value":[{"id":"c-1"}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"c-1"}`)
	}
	c := f.client(nil)

	_, err := c.Calendar.Dispatch(context.Background(), UpsertContact, dispatch.Payload{
		"email": "ann@partner.test", "displayName": "Ann", "phone": "+441234", "company": "Partner",
	})
	require.NoError(t, err)

	reqs := f.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "/v1.0/users/updates@onwards.network/contacts", reqs[0].Path)
	assert.Equal(t, "$filter=emailAddresses%2Fany%28e%3Ae%2Faddress%20eq%20%27ann%40partner.test%27%29&$top=1", reqs[0].Query)
	assert.Equal(t, "PATCH /v1.0/users/updates@onwards.network/contacts/c-1", reqs[1].Method+" "+reqs[1].Path)
	assert.JSONEq(t, `{
		"displayName":"Ann",
		"emailAddresses":[{"address":"ann@partner.test","name":"Ann"}],
		"businessPhones":["+441234"],
		"companyName":"Partner",
		"personalNotes":""
	}`, string(reqs[1].Body))
}

func TestUpsertContactCreatesWhenMissing(t *testing.T) {
	f := newFakeGraph(t)
	f.handle = func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, `{"value":[]}`)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"c-2"}`)
	}
	c := f.client(nil)

	res, err := c.Calendar.Dispatch(context.Background(), UpsertContact, dispatch.Payload{"email": "bob@partner.test"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.Status)

	reqs := f.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "POST /v1.0/users/updates@onwards.network/contacts", reqs[1].Method+" "+reqs[1].Path)
}

func TestSendMailBuildsGraphMessage(t *testing.T) {
	f := newFakeGraph(t)
	f.handle = func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }
	c := f.client(nil)

	res, err := c.Mail.Dispatch(context.Background(), SendMail, dispatch.Payload{
		"to":      []any{"a@x.test", "", "b@x.test"},
		"cc":      "c@x.test",
		"subject": "Hello",
		"html":    "<p>Hi</p>",
		"replyTo": "ops@x.test",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.Status)

	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.Requests()[0].Body, &sent))
	assert.JSONEq(t, `{
		"message": {
			"subject": "Hello",
			"body": {"contentType":"HTML","content":"<p>Hi</p>"},
			"toRecipients": [{"emailAddress":{"address":"a@x.test"}},{"emailAddress":{"address":"b@x.test"}}],
			"ccRecipients": [{"emailAddress":{"address":"c@x.test"}}],
			"replyTo": [{"emailAddress":{"address":"ops@x.test"}}],
			"from": {"emailAddress":{"address":"updates@onwards.network"}}
		},
		"saveToSentItems": true
	}`, string(f.Requests()[0].Body))
	assert.Equal(t, "/v1.0/users/updates@onwards.network/sendMail", f.Requests()[0].Path)
}

func TestSendMailRequiresFields(t *testing.T) {
	f := newFakeGraph(t)
	c := f.client(nil)

	_, err := c.Mail.Dispatch(context.Background(), SendMail, dispatch.Payload{"to": "a@x.test", "subject": "No body"})
	require.Error(t, err)
	assert.Equal(t, "missing required fields: to, subject, html or text", err.Error())
	assert.Zero(t, f.Tokens())
}

func TestMessagePayloadRoundTrip(t *testing.T) {
	m := Message{To: []string{"a@x.test"}, Subject: "S", Text: "plain"}
	assert.Equal(t, m, MessageFromPayload(m.Payload()))
}

func TestSitePath(t *testing.T) {
	p, err := SitePath("https://contoso.sharepoint.com/")
	require.NoError(t, err)
	assert.Equal(t, "/v1.0/sites/contoso.sharepoint.com", p)

	p, err = SitePath("https://contoso.sharepoint.com/sites/Ops Team")
	require.NoError(t, err)
	assert.Equal(t, "/v1.0/sites/contoso.sharepoint.com:/sites/Ops%20Team", p)

	_, err = SitePath("contoso")
	assert.True(t, errs.Is(err, errs.ErrConfiguration))
}
