package odata

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"erpmigrate/internal/logger"
	"erpmigrate/internal/protocol/httpapi"
	"erpmigrate/pkg/errors"
)

type Version string

const (
	V2 Version = "v2"
	V4 Version = "v4"
)

// ParseVersion accepts "2", "v2", "4", "v4" and defaults to V2.
func ParseVersion(s string) Version {
	switch strings.ToLower(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v")) {
	case "4", "4.0", "4.01":
		return V4
	default:
		return V2
	}
}

// QueryOptions maps onto OData system query options.
type QueryOptions struct {
	Select  []string
	Filter  string
	Expand  []string
	OrderBy []string
	Top     int
	Skip    int
	Count   bool
}

func (o QueryOptions) values(version Version) url.Values {
	q := url.Values{}
	if len(o.Select) > 0 {
		q.Set("$select", strings.Join(o.Select, ","))
	}
	if o.Filter != "" {
		q.Set("$filter", o.Filter)
	}
	if len(o.Expand) > 0 {
		q.Set("$expand", strings.Join(o.Expand, ","))
	}
	if len(o.OrderBy) > 0 {
		q.Set("$orderby", strings.Join(o.OrderBy, ","))
	}
	if o.Top > 0 {
		q.Set("$top", strconv.Itoa(o.Top))
	}
	if o.Skip > 0 {
		q.Set("$skip", strconv.Itoa(o.Skip))
	}
	if o.Count {
		if version == V4 {
			q.Set("$count", "true")
		} else {
			q.Set("$inlinecount", "allpages")
		}
	}
	if version == V2 {
		q.Set("$format", "json")
	}
	return q
}

// Page is one server page of an entity-set query.
type Page struct {
	Results  []map[string]interface{}
	NextLink string
	Count    *int64
}

// Client speaks OData V2 or V4 to one service root.
type Client struct {
	http    *httpapi.Client
	version Version
	logger  logger.Logger
}

// New wraps an httpapi client whose BaseURL is the service root. The http client's
// ErrorBase should be errors.ErrOData or a product-specific kind.
func New(httpClient *httpapi.Client, version Version, log logger.Logger) *Client {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Client{http: httpClient, version: version, logger: log.Named("odata")}
}

func (c *Client) Version() Version {
	return c.version
}

// Probe issues a HEAD against path (the service root when empty) and returns the status.
func (c *Client) Probe(ctx context.Context, path string) (int, error) {
	resp, err := c.http.Do(ctx, httpapi.Request{Method: http.MethodHead, Path: path})
	if err != nil {
		if appErr, ok := errors.As(err); ok && appErr.StatusCode > 0 {
			return appErr.StatusCode, err
		}
		return 0, err
	}
	return resp.StatusCode, nil
}

// Metadata returns the raw $metadata EDMX document.
func (c *Client) Metadata(ctx context.Context) (string, error) {
	resp, err := c.http.Do(ctx, httpapi.Request{
		Method: http.MethodGet,
		Path:   "/$metadata",
		Header: http.Header{"Accept": {"application/xml"}},
	})
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// Close releases the pooled sessions of the underlying http client.
func (c *Client) Close() {
	c.http.Close()
}

func (c *Client) FetchCSRFToken(ctx context.Context) (string, error) {
	return c.http.FetchCSRFToken(ctx)
}

// Query fetches a single page.
func (c *Client) Query(ctx context.Context, entitySet string, opts QueryOptions) (*Page, error) {
	resp, err := c.http.Do(ctx, httpapi.Request{
		Method: http.MethodGet,
		Path:   "/" + strings.TrimPrefix(entitySet, "/"),
		Query:  opts.values(c.version),
	})
	if err != nil {
		return nil, err
	}
	return c.decodePage(resp.Body)
}

// NextPage follows a server-provided continuation link, absolute or relative to the
// service root.
func (c *Client) NextPage(ctx context.Context, nextLink string) (*Page, error) {
	link := nextLink
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		link = strings.TrimRight(c.http.BaseURL(), "/") + "/" + strings.TrimPrefix(link, "/")
	}
	if c.version == V2 && !strings.Contains(link, "$format") {
		if u, err := url.Parse(link); err == nil {
			q := u.Query()
			q.Set("$format", "json")
			u.RawQuery = q.Encode()
			link = u.String()
		}
	}

	resp, err := c.http.Do(ctx, httpapi.Request{Method: http.MethodGet, Absolute: link})
	if err != nil {
		return nil, err
	}
	return c.decodePage(resp.Body)
}

// QueryAll follows next links until exhausted or until maxRecords results were
// collected (0 means no limit).
func (c *Client) QueryAll(ctx context.Context, entitySet string, opts QueryOptions, maxRecords int) ([]map[string]interface{}, error) {
	page, err := c.Query(ctx, entitySet, opts)
	if err != nil {
		return nil, err
	}

	results := page.Results
	for page.NextLink != "" && (maxRecords <= 0 || len(results) < maxRecords) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err = c.NextPage(ctx, page.NextLink)
		if err != nil {
			return nil, err
		}
		results = append(results, page.Results...)
	}

	if maxRecords > 0 && len(results) > maxRecords {
		results = results[:maxRecords]
	}
	return results, nil
}

// Get reads one entity by its key predicate, e.g. "'1000'" or "BusinessPartner='1'".
func (c *Client) Get(ctx context.Context, entitySet, key string) (map[string]interface{}, error) {
	q := url.Values{}
	if c.version == V2 {
		q.Set("$format", "json")
	}
	resp, err := c.http.Do(ctx, httpapi.Request{Method: http.MethodGet, Path: entityPath(entitySet, key), Query: q})
	if err != nil {
		return nil, err
	}
	return c.decodeEntity(resp.Body)
}

func (c *Client) Create(ctx context.Context, entitySet string, entity map[string]interface{}) (map[string]interface{}, error) {
	resp, err := c.http.Do(ctx, httpapi.Request{Method: http.MethodPost, Path: "/" + entitySet, Body: entity})
	if err != nil {
		return nil, err
	}
	if len(resp.Body) == 0 {
		return map[string]interface{}{}, nil
	}
	return c.decodeEntity(resp.Body)
}

func (c *Client) Update(ctx context.Context, entitySet, key string, patch map[string]interface{}) error {
	_, err := c.http.Do(ctx, httpapi.Request{Method: http.MethodPatch, Path: entityPath(entitySet, key), Body: patch})
	return err
}

func (c *Client) Delete(ctx context.Context, entitySet, key string) error {
	_, err := c.http.Do(ctx, httpapi.Request{Method: http.MethodDelete, Path: entityPath(entitySet, key)})
	return err
}

func entityPath(entitySet, key string) string {
	return fmt.Sprintf("/%s(%s)", strings.TrimPrefix(entitySet, "/"), key)
}

func (c *Client) decodePage(body []byte) (*Page, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.ErrOData.New("failed to decode OData response").WithCause(err)
	}

	page := &Page{}
	if c.version == V4 {
		page.Results = toRecords(raw["value"])
		page.NextLink, _ = raw["@odata.nextLink"].(string)
		page.Count = toCount(raw["@odata.count"])
		return page, nil
	}

	d, ok := raw["d"].(map[string]interface{})
	if !ok {
		// Some V2 services answer collections without the results wrapper.
		if arr, ok := raw["d"].([]interface{}); ok {
			page.Results = toRecords(arr)
			return page, nil
		}
		return nil, errors.ErrOData.New("unexpected OData V2 payload: missing d")
	}
	if results, ok := d["results"]; ok {
		page.Results = toRecords(results)
	} else {
		page.Results = []map[string]interface{}{stripMetadata(d)}
	}
	page.NextLink, _ = d["__next"].(string)
	page.Count = toCount(d["__count"])
	return page, nil
}

func (c *Client) decodeEntity(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.ErrOData.New("failed to decode OData entity").WithCause(err)
	}
	if c.version == V2 {
		if d, ok := raw["d"].(map[string]interface{}); ok {
			return stripMetadata(d), nil
		}
	}
	return stripMetadata(raw), nil
}

func toRecords(v interface{}) []map[string]interface{} {
	arr, _ := v.([]interface{})
	out := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if m, ok := item.(map[string]interface{}); ok {
			out = append(out, stripMetadata(m))
		}
	}
	return out
}

func stripMetadata(m map[string]interface{}) map[string]interface{} {
	delete(m, "__metadata")
	for k := range m {
		if strings.HasPrefix(k, "@odata.") {
			delete(m, k)
		}
	}
	return m
}

func toCount(v interface{}) *int64 {
	switch n := v.(type) {
	case float64:
		i := int64(n)
		return &i
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

// BatchRequest is one operation inside a $batch call.
type BatchRequest struct {
	Method string
	Path   string
	Body   map[string]interface{}
}

// BatchResponse carries the outcome of one batch operation. Err is an OData error for
// non-2xx operations; the batch call itself still succeeds.
type BatchResponse struct {
	StatusCode int
	ContentID  string
	Body       map[string]interface{}
	Err        error
}

// Batch sends operations in a single $batch request. Mutating operations are grouped
// in one changeset; reads go as individual parts. Every part carries Content-ID i+1,
// and the result slice is indexed like requests.
func (c *Client) Batch(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	body, contentType, err := encodeBatch(requests)
	if err != nil {
		return nil, errors.ErrOData.New("failed to encode batch").WithCause(err)
	}

	resp, err := c.http.Do(ctx, httpapi.Request{
		Method: http.MethodPost,
		Path:   "/$batch",
		Header: http.Header{"Content-Type": {contentType}, "Accept": {"multipart/mixed"}},
		Body:   body,
	})
	if err != nil {
		return nil, err
	}

	decoded, err := decodeBatch(resp.Header.Get("Content-Type"), resp.Body)
	if err != nil {
		return nil, errors.ErrOData.New("failed to decode batch response").WithCause(err).
			WithResponse(resp.StatusCode, string(resp.Body))
	}
	results, filled := matchBatch(len(requests), decoded)
	for i := range results {
		op := requests[i].Method + " " + requests[i].Path
		if !filled[i] {
			results[i].Err = errors.ErrOData.Newf("no response for batch operation %d (%s)", i, op).
				WithDetail("operation", i)
			continue
		}
		if results[i].StatusCode >= 400 {
			results[i].Err = errors.ErrOData.Newf("batch operation %d (%s) failed with HTTP %d: %s",
				i, op, results[i].StatusCode, httpapi.ExtractMessage(toInterface(results[i].Body))).
				WithResponse(results[i].StatusCode, results[i].Body).
				WithDetail("operation", i)
		}
	}
	return results, nil
}

// matchBatch places decoded parts by Content-ID. Parts without a usable ID fill the
// remaining slots in order; extra parts are dropped.
func matchBatch(n int, decoded []BatchResponse) ([]BatchResponse, []bool) {
	out := make([]BatchResponse, n)
	filled := make([]bool, n)
	var rest []BatchResponse
	for _, d := range decoded {
		id, err := strconv.Atoi(strings.Trim(strings.TrimSpace(d.ContentID), "<>"))
		if err == nil && id >= 1 && id <= n && !filled[id-1] {
			out[id-1], filled[id-1] = d, true
			continue
		}
		rest = append(rest, d)
	}
	next := 0
	for _, d := range rest {
		for next < n && filled[next] {
			next++
		}
		if next == n {
			break
		}
		out[next], filled[next] = d, true
	}
	return out, filled
}

func toInterface(m map[string]interface{}) interface{} {
	if m == nil {
		return nil
	}
	return m
}

func encodeBatch(requests []BatchRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	batch := multipart.NewWriter(&buf)
	changesetBoundary := "changeset_" + uuid.NewString()

	var changeset *multipart.Writer
	var changesetBuf bytes.Buffer

	flushChangeset := func() error {
		if changeset == nil {
			return nil
		}
		if err := changeset.Close(); err != nil {
			return err
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "multipart/mixed; boundary="+changesetBoundary)
		part, err := batch.CreatePart(h)
		if err != nil {
			return err
		}
		if _, err := part.Write(changesetBuf.Bytes()); err != nil {
			return err
		}
		changeset = nil
		changesetBuf.Reset()
		changesetBoundary = "changeset_" + uuid.NewString()
		return nil
	}

	for i, r := range requests {
		raw, err := encodeOperation(r, i)
		if err != nil {
			return nil, "", err
		}
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "application/http")
		h.Set("Content-Transfer-Encoding", "binary")
		h.Set("Content-ID", strconv.Itoa(i+1))

		if r.Method == http.MethodGet {
			if err := flushChangeset(); err != nil {
				return nil, "", err
			}
			part, err := batch.CreatePart(h)
			if err != nil {
				return nil, "", err
			}
			if _, err := part.Write(raw); err != nil {
				return nil, "", err
			}
			continue
		}

		if changeset == nil {
			changeset = multipart.NewWriter(&changesetBuf)
			if err := changeset.SetBoundary(changesetBoundary); err != nil {
				return nil, "", err
			}
		}
		part, err := changeset.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(raw); err != nil {
			return nil, "", err
		}
	}
	if err := flushChangeset(); err != nil {
		return nil, "", err
	}
	if err := batch.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + batch.Boundary(), nil
}

func encodeOperation(r BatchRequest, index int) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.Method, strings.TrimPrefix(r.Path, "/"))
	b.WriteString("Accept: application/json\r\n")
	if r.Body != nil {
		payload, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", index, err)
		}
		b.WriteString("Content-Type: application/json\r\n")
		fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(payload))
		b.Write(payload)
		b.WriteString("\r\n")
		return b.Bytes(), nil
	}
	b.WriteString("\r\n")
	return b.Bytes(), nil
}

func decodeBatch(contentType string, body []byte) ([]BatchResponse, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("unexpected batch content type %q", contentType)
	}

	var out []BatchResponse
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		partType, partParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if strings.HasPrefix(partType, "multipart/") {
			data, err := io.ReadAll(part)
			if err != nil {
				return nil, err
			}
			nested, err := decodeBatch("multipart/mixed; boundary="+partParams["boundary"], data)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}

		resp, err := http.ReadResponse(bufio.NewReader(part), nil)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		// the ID sits on the MIME part or, for some gateways, on the inner response
		br := BatchResponse{StatusCode: resp.StatusCode, ContentID: part.Header.Get("Content-ID")}
		if br.ContentID == "" {
			br.ContentID = resp.Header.Get("Content-ID")
		}
		if len(bytes.TrimSpace(data)) > 0 {
			var m map[string]interface{}
			if err := json.Unmarshal(data, &m); err == nil {
				if d, ok := m["d"].(map[string]interface{}); ok {
					m = d
				}
				br.Body = m
			}
		}
		out = append(out, br)
	}
	return out, nil
}
