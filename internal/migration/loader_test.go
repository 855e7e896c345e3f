package migration

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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/internal/protocol/httpapi"
	"erpmigrate/internal/protocol/odata"
	"erpmigrate/pkg/circuitbreaker"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/pool"
	"erpmigrate/pkg/retry"
)

type staticServices struct {
	client *odata.Client
	asked  []string
}

func (s *staticServices) Service(name string) (*odata.Client, error) {
	s.asked = append(s.asked, name)
	return s.client, nil
}

// batchTarget accepts every POST in a changeset except those without a NAME.
type batchTarget struct {
	mu      sync.Mutex
	batches int
	lines   []string
}

func (b *batchTarget) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(httpapi.HeaderCSRFToken) == "Fetch" {
		w.Header().Set(httpapi.HeaderCSRFToken, "tok")
		return
	}
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var statuses []string
	outer := multipart.NewReader(r.Body, params["boundary"])
	for {
		part, err := outer.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, csParams, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		changeset := multipart.NewReader(part, csParams["boundary"])
		for {
			op, err := changeset.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			raw, _ := io.ReadAll(op)
			head, body, _ := strings.Cut(string(raw), "\r\n\r\n")
			line, _, _ := strings.Cut(head, "\r\n")

			var entity map[string]interface{}
			_ = json.Unmarshal([]byte(strings.TrimSpace(body)), &entity)

			b.mu.Lock()
			b.lines = append(b.lines, line)
			b.mu.Unlock()

			if name, _ := entity["NAME"].(string); name == "" {
				statuses = append(statuses, "HTTP/1.1 400 Bad Request\r\nContent-Type: application/json\r\n\r\n{\"error\":{\"message\":{\"value\":\"NAME is mandatory\"}}}")
				continue
			}
			payload, _ := json.Marshal(map[string]interface{}{"d": entity})
			statuses = append(statuses, "HTTP/1.1 201 Created\r\nContent-Type: application/json\r\n\r\n"+string(payload))
		}
	}
	b.mu.Lock()
	b.batches++
	b.mu.Unlock()

	var csBuf bytes.Buffer
	cs := multipart.NewWriter(&csBuf)
	for _, s := range statuses {
		h := textproto.MIMEHeader{}
		h.Set("Content-Type", "application/http")
		h.Set("Content-Transfer-Encoding", "binary")
		p, _ := cs.CreatePart(h)
		_, _ = fmt.Fprint(p, s)
	}
	_ = cs.Close()

	var buf bytes.Buffer
	resp := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", "multipart/mixed; boundary="+cs.Boundary())
	p, _ := resp.CreatePart(h)
	_, _ = p.Write(csBuf.Bytes())
	_ = resp.Close()

	w.Header().Set("Content-Type", "multipart/mixed; boundary="+resp.Boundary())
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write(buf.Bytes())
}

func newODataClient(t *testing.T, baseURL string) *odata.Client {
	t.Helper()
	hc, err := httpapi.New(httpapi.Config{
		Name:      "loader-test",
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
	return odata.New(hc, odata.V2, nil)
}

func TestODataLoaderBatches(t *testing.T) {
	target := &batchTarget{}
	srv := httptest.NewServer(target)
	defer srv.Close()

	services := &staticServices{client: newODataClient(t, srv.URL)}
	loader := NewODataLoader(services, 2, nil)

	records := []map[string]interface{}{
		{"ID": "1", "NAME": "Acme"},
		{"ID": "2", "NAME": ""},
		{"ID": "3", "NAME": "Globex"},
		{"ID": "4", "NAME": "Initech"},
		{"ID": "5"},
	}
	res, err := loader.Load(context.Background(), Target{
		ObjectID:  "PARTNER",
		Service:   "API_BUSINESS_PARTNER",
		EntitySet: "A_BusinessPartner",
	}, records)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Loaded)
	require.Len(t, res.Rejections, 2)
	assert.Equal(t, 1, res.Rejections[0].Index)
	assert.Equal(t, 4, res.Rejections[1].Index)
	assert.Contains(t, res.Rejections[0].Reason, "NAME is mandatory")

	assert.Equal(t, 3, target.batches)
	assert.Equal(t, "POST A_BusinessPartner HTTP/1.1", target.lines[0])
	assert.Equal(t, []string{"API_BUSINESS_PARTNER"}, services.asked)
}

func TestODataLoaderNeedsService(t *testing.T) {
	loader := NewODataLoader(&staticServices{}, 0, nil)
	_, err := loader.Load(context.Background(), Target{ObjectID: "X"}, []map[string]interface{}{{"A": 1}})
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}
