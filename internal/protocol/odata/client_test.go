package odata

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/internal/protocol/httpapi"
	"erpmigrate/pkg/circuitbreaker"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/pool"
	"erpmigrate/pkg/retry"
)

func newClient(t *testing.T, baseURL string, version Version) *Client {
	t.Helper()
	hc, err := httpapi.New(httpapi.Config{
		Name:      "odata-test",
		BaseURL:   baseURL,
		Timeout:   2 * time.Second,
		CSRFPath:  "/",
		Pool:      pool.Config{Size: 1, AcquireTimeout: time.Second},
		Breaker:   circuitbreaker.Config{FailureThreshold: 5, ResetTimeout: time.Minute},
		Retry:     retry.Policy{MaxRetries: 0, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 2},
		ErrorBase: errors.ErrOData,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(hc.Close)
	return New(hc, version, nil)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestQueryAllV2FollowsNextLinks(t *testing.T) {
	var (
		srvURL     string
		firstPages atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("$format"))
		if r.URL.Query().Get("$skiptoken") == "" {
			n := firstPages.Add(1)
			assert.Equal(t, "BusinessPartner,BusinessPartnerName", r.URL.Query().Get("$select"))
			assert.Equal(t, "BusinessPartner desc", r.URL.Query().Get("$orderby"))
			// only the first Query asks for a count
			if n == 1 {
				assert.Equal(t, "allpages", r.URL.Query().Get("$inlinecount"))
			} else {
				assert.Empty(t, r.URL.Query().Get("$inlinecount"))
			}
			writeJSON(w, map[string]interface{}{"d": map[string]interface{}{
				"__count": "3",
				"results": []interface{}{
					map[string]interface{}{"__metadata": map[string]interface{}{"uri": "x"}, "BusinessPartner": "1"},
					map[string]interface{}{"BusinessPartner": "2"},
				},
				"__next": srvURL + "/A_BusinessPartner?$skiptoken=2",
			}})
			return
		}
		writeJSON(w, map[string]interface{}{"d": map[string]interface{}{
			"results": []interface{}{map[string]interface{}{"BusinessPartner": "3"}},
		}})
	}))
	defer srv.Close()
	srvURL = srv.URL

	c := newClient(t, srv.URL, V2)
	page, err := c.Query(context.Background(), "A_BusinessPartner", QueryOptions{
		Select:  []string{"BusinessPartner", "BusinessPartnerName"},
		OrderBy: []string{"BusinessPartner desc"},
		Count:   true,
	})
	require.NoError(t, err)
	require.NotNil(t, page.Count)
	assert.Equal(t, int64(3), *page.Count)
	assert.NotContains(t, page.Results[0], "__metadata")

	opts := QueryOptions{
		Select:  []string{"BusinessPartner", "BusinessPartnerName"},
		OrderBy: []string{"BusinessPartner desc"},
	}
	all, err := c.QueryAll(context.Background(), "A_BusinessPartner", opts, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[2]["BusinessPartner"])

	limited, err := c.QueryAll(context.Background(), "A_BusinessPartner", opts, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
	assert.Equal(t, int32(3), firstPages.Load())
}

func TestQueryV4RelativeNextLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("$format"))
		if r.URL.Query().Get("$skiptoken") == "" {
			assert.Equal(t, "true", r.URL.Query().Get("$count"))
			assert.Equal(t, "Plant eq '1000'", r.URL.Query().Get("$filter"))
			writeJSON(w, map[string]interface{}{
				"@odata.count":    5,
				"@odata.nextLink": "Products?$skiptoken=1",
				"value":           []interface{}{map[string]interface{}{"@odata.etag": "W/1", "Product": "A"}},
			})
			return
		}
		assert.Equal(t, "/service/Products", r.URL.Path)
		writeJSON(w, map[string]interface{}{"value": []interface{}{map[string]interface{}{"Product": "B"}}})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/service", V4)
	all, err := c.QueryAll(context.Background(), "Products", QueryOptions{Filter: "Plant eq '1000'", Count: true}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotContains(t, all[0], "@odata.etag")
	assert.Equal(t, "B", all[1]["Product"])
}

func TestGetCreateUpdateDelete(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(httpapi.HeaderCSRFToken) == "Fetch" {
			w.Header().Set(httpapi.HeaderCSRFToken, "tok")
			return
		}
		methods = append(methods, r.Method+" "+r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, map[string]interface{}{"d": map[string]interface{}{"__metadata": map[string]interface{}{}, "Customer": "100"}})
		case http.MethodPost:
			assert.Equal(t, "tok", r.Header.Get(httpapi.HeaderCSRFToken))
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, map[string]interface{}{"d": body})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, V2)
	ctx := context.Background()

	entity, err := c.Get(ctx, "A_Customer", "'100'")
	require.NoError(t, err)
	assert.Equal(t, "100", entity["Customer"])
	assert.NotContains(t, entity, "__metadata")

	created, err := c.Create(ctx, "A_Customer", map[string]interface{}{"Customer": "200"})
	require.NoError(t, err)
	assert.Equal(t, "200", created["Customer"])

	require.NoError(t, c.Update(ctx, "A_Customer", "'200'", map[string]interface{}{"CustomerName": "ACME"}))
	require.NoError(t, c.Delete(ctx, "A_Customer", "'200'"))

	assert.Equal(t, []string{
		"GET /A_Customer('100')",
		"POST /A_Customer",
		"PATCH /A_Customer('200')",
		"DELETE /A_Customer('200')",
	}, methods)
}

func TestProbeAndMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.WriteHeader(http.StatusOK)
		case strings.HasSuffix(r.URL.Path, "$metadata"):
			w.Header().Set("Content-Type", "application/xml")
			_, _ = w.Write([]byte(`<edmx:Edmx Version="1.0"/>`))
		default:
			w.WriteHeader(http.StatusNotFound)
			writeJSON(w, map[string]interface{}{"error": map[string]interface{}{"message": map[string]interface{}{"value": "Resource not found"}}})
		}
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, V2)
	status, err := c.Probe(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	doc, err := c.Metadata(context.Background())
	require.NoError(t, err)
	assert.Contains(t, doc, "Edmx")

	_, err = c.Query(context.Background(), "Missing", QueryOptions{})
	require.Error(t, err)
	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.KindOData, appErr.Kind)
	assert.Equal(t, http.StatusNotFound, appErr.StatusCode)
	assert.Contains(t, appErr.Message, "Resource not found")
}

func TestBatchMapsPerOperationErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(httpapi.HeaderCSRFToken) == "Fetch" {
			w.Header().Set(httpapi.HeaderCSRFToken, "tok")
			return
		}
		assert.Equal(t, "/$batch", r.URL.Path)
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		assert.Equal(t, "multipart/mixed", mediaType)

		// The request holds one read part and one changeset with two writes.
		reader := multipart.NewReader(r.Body, params["boundary"])
		parts := 0
		for {
			part, err := reader.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			_, _ = io.ReadAll(part)
			parts++
		}
		assert.Equal(t, 2, parts)

		var buf bytes.Buffer
		outer := multipart.NewWriter(&buf)
		writeHTTPPart(t, outer, "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\n\r\n{\"d\":{\"Customer\":\"1\"}}")

		var csBuf bytes.Buffer
		cs := multipart.NewWriter(&csBuf)
		writeHTTPPart(t, cs, "HTTP/1.1 201 Created\r\nContent-Type: application/json\r\n\r\n{\"d\":{\"Customer\":\"2\"}}")
		writeHTTPPart(t, cs, "HTTP/1.1 400 Bad Request\r\nContent-Type: application/json\r\n\r\n{\"error\":{\"message\":{\"value\":\"Name missing\"}}}")
		require.NoError(t, cs.Close())

		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "multipart/mixed; boundary="+cs.Boundary())
		p, err := outer.CreatePart(h)
		require.NoError(t, err)
		_, _ = p.Write(csBuf.Bytes())
		require.NoError(t, outer.Close())

		w.Header().Set("Content-Type", "multipart/mixed; boundary="+outer.Boundary())
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, V2)
	results, err := c.Batch(context.Background(), []BatchRequest{
		{Method: http.MethodGet, Path: "A_Customer('1')"},
		{Method: http.MethodPost, Path: "A_Customer", Body: map[string]interface{}{"Customer": "2"}},
		{Method: http.MethodPost, Path: "A_Customer", Body: map[string]interface{}{}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, http.StatusOK, results[0].StatusCode)
	assert.Equal(t, "1", results[0].Body["Customer"])
	assert.NoError(t, results[1].Err)
	assert.Equal(t, "2", results[1].Body["Customer"])

	require.Error(t, results[2].Err)
	appErr, ok := errors.As(results[2].Err)
	require.True(t, ok)
	assert.Equal(t, errors.KindOData, appErr.Kind)
	assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
	assert.Contains(t, appErr.Message, "Name missing")
}

func TestBatchMatchesResponsesByContentID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(httpapi.HeaderCSRFToken) == "Fetch" {
			w.Header().Set(httpapi.HeaderCSRFToken, "tok")
			return
		}
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		outerReader := multipart.NewReader(r.Body, params["boundary"])
		outerPart, err := outerReader.NextPart()
		require.NoError(t, err)
		_, csParams, err := mime.ParseMediaType(outerPart.Header.Get("Content-Type"))
		require.NoError(t, err)

		var ids []string
		csReader := multipart.NewReader(outerPart, csParams["boundary"])
		for {
			part, err := csReader.NextPart()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			ids = append(ids, part.Header.Get("Content-ID"))
		}
		assert.Equal(t, []string{"1", "2", "3"}, ids)

		// answered out of order, the third operation gets no response
		var csBuf bytes.Buffer
		cs := multipart.NewWriter(&csBuf)
		writeHTTPPartWithID(t, cs, "2", "HTTP/1.1 400 Bad Request\r\nContent-Type: application/json\r\n\r\n{\"error\":{\"message\":{\"value\":\"Name missing\"}}}")
		writeHTTPPartWithID(t, cs, "<1>", "HTTP/1.1 201 Created\r\nContent-Type: application/json\r\n\r\n{\"d\":{\"Customer\":\"1\"}}")
		require.NoError(t, cs.Close())

		var buf bytes.Buffer
		outer := multipart.NewWriter(&buf)
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "multipart/mixed; boundary="+cs.Boundary())
		p, err := outer.CreatePart(h)
		require.NoError(t, err)
		_, _ = p.Write(csBuf.Bytes())
		require.NoError(t, outer.Close())

		w.Header().Set("Content-Type", "multipart/mixed; boundary="+outer.Boundary())
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, V2)
	results, err := c.Batch(context.Background(), []BatchRequest{
		{Method: http.MethodPost, Path: "A_Customer", Body: map[string]interface{}{"Customer": "1"}},
		{Method: http.MethodPost, Path: "A_Customer", Body: map[string]interface{}{}},
		{Method: http.MethodPost, Path: "A_Customer", Body: map[string]interface{}{"Customer": "3"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, http.StatusCreated, results[0].StatusCode)
	assert.Equal(t, "1", results[0].Body["Customer"])

	require.Error(t, results[1].Err)
	assert.Equal(t, http.StatusBadRequest, results[1].StatusCode)
	assert.Contains(t, results[1].Err.Error(), "Name missing")

	require.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "no response for batch operation 2")
}

func TestMatchBatchFallsBackToPosition(t *testing.T) {
	out, filled := matchBatch(3, []BatchResponse{
		{StatusCode: 204, ContentID: "3"},
		{StatusCode: 201},
		{StatusCode: 400, ContentID: "bogus"},
		{StatusCode: 500},
	})
	assert.Equal(t, []bool{true, true, true}, filled)
	assert.Equal(t, 201, out[0].StatusCode)
	assert.Equal(t, 400, out[1].StatusCode)
	assert.Equal(t, 204, out[2].StatusCode)
}

func writeHTTPPart(t *testing.T, w *multipart.Writer, raw string) {
	t.Helper()
	writeHTTPPartWithID(t, w, "", raw)
}

func writeHTTPPartWithID(t *testing.T, w *multipart.Writer, contentID, raw string) {
	t.Helper()
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", "application/http")
	h.Set("Content-Transfer-Encoding", "binary")
	if contentID != "" {
		h.Set("Content-ID", contentID)
	}
	p, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = fmt.Fprint(p, raw)
	require.NoError(t, err)
}

func TestParseVersion(t *testing.T) {
	assert.Equal(t, V2, ParseVersion(""))
	assert.Equal(t, V2, ParseVersion("v2"))
	assert.Equal(t, V4, ParseVersion("4"))
	assert.Equal(t, V4, ParseVersion("V4"))
	assert.Equal(t, V4, ParseVersion("4.0"))
}
