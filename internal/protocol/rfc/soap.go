package rfc

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"erpmigrate/pkg/errors"
)

const (
	soapPath      = "/sap/bc/soap/rfc"
	rfcNamespace  = "urn:sap-com:document:sap:rfc:functions"
	soapEnvelope  = "http://schemas.xmlsoap.org/soap/envelope/"
	maxSOAPBody   = 256 << 20
	soapUserAgent = "erpmigrate-rfc/1.0"
)

type SOAPConfig struct {
	BaseURL  string
	Client   string
	Language string
	Username string
	Password string
	Timeout  time.Duration
	// HTTPTransport overrides the default round tripper, mainly for tests.
	HTTPTransport http.RoundTripper
}

// SOAPTransport invokes function modules through the ICF SOAP-RFC handler. Each
// transport keeps its own cookie jar, so it maps to one stateful backend session.
type SOAPTransport struct {
	cfg      SOAPConfig
	endpoint string
	http     *http.Client
}

func NewSOAPTransport(cfg SOAPConfig) (*SOAPTransport, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.ErrConfiguration.Newf("invalid RFC base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	base.Path += soapPath
	q := base.Query()
	if cfg.Client != "" {
		q.Set("sap-client", cfg.Client)
	}
	if cfg.Language != "" {
		q.Set("sap-language", cfg.Language)
	}
	base.RawQuery = q.Encode()

	return &SOAPTransport{cfg: cfg, endpoint: base.String()}, nil
}

// ConnectionParams describes the endpoint for error details.
func (t *SOAPTransport) ConnectionParams() map[string]string {
	return map[string]string{
		"ashost":   t.cfg.BaseURL,
		"client":   t.cfg.Client,
		"user":     t.cfg.Username,
		"passwd":   t.cfg.Password,
		"language": t.cfg.Language,
	}
}

// Open starts a fresh session and validates the logon with RFC_PING.
func (t *SOAPTransport) Open(ctx context.Context) error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	rt := t.cfg.HTTPTransport
	if rt == nil {
		rt = http.DefaultTransport.(*http.Transport).Clone()
	}
	t.http = &http.Client{Timeout: t.cfg.Timeout, Jar: jar, Transport: rt}

	_, err = t.Invoke(ctx, FunctionPing, nil)
	return err
}

func (t *SOAPTransport) Invoke(ctx context.Context, function string, params Params) (Result, error) {
	if t.http == nil {
		return nil, fmt.Errorf("RFC session not open: connection closed")
	}

	body, err := encodeEnvelope(function, params)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", rfcNamespace)
	req.Header.Set("User-Agent", soapUserAgent)
	if t.cfg.Username != "" {
		req.SetBasicAuth(t.cfg.Username, t.cfg.Password)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSOAPBody))
	if err != nil {
		return nil, fmt.Errorf("reading RFC response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errors.ErrAuthentication.Newf("RFC logon rejected with HTTP %d", resp.StatusCode).
			WithResponse(resp.StatusCode, string(data))
	}

	result, fault, err := decodeEnvelope(data)
	if err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("RFC endpoint returned HTTP %d", resp.StatusCode)
		}
		return nil, err
	}
	if fault != nil {
		return nil, fault
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("RFC endpoint returned HTTP %d", resp.StatusCode)
	}
	return result, nil
}

func (t *SOAPTransport) Close() error {
	if t.http != nil {
		t.http.CloseIdleConnections()
		t.http = nil
	}
	return nil
}

// Fault is a SOAP fault raised by the function module, e.g. an ABAP exception.
type Fault struct {
	Code      string
	Message   string
	Exception string
}

func (f *Fault) Error() string {
	if f.Exception != "" {
		return fmt.Sprintf("%s: %s", f.Exception, f.Message)
	}
	return f.Message
}

func encodeEnvelope(function string, params Params) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<soap-env:Envelope xmlns:soap-env="` + soapEnvelope + `"><soap-env:Body>`)
	fmt.Fprintf(&b, `<urn:%s xmlns:urn="%s">`, escapeName(function), rfcNamespace)

	for _, k := range sortedKeys(params) {
		if err := encodeValue(&b, k, params[k]); err != nil {
			return nil, fmt.Errorf("encoding parameter %s: %w", k, err)
		}
	}

	fmt.Fprintf(&b, `</urn:%s>`, escapeName(function))
	b.WriteString(`</soap-env:Body></soap-env:Envelope>`)
	return b.Bytes(), nil
}

func encodeValue(b *bytes.Buffer, name string, v interface{}) error {
	tag := escapeName(name)
	b.WriteString("<" + tag + ">")
	switch val := v.(type) {
	case nil:
	case map[string]interface{}:
		for _, k := range sortedKeys(val) {
			if err := encodeValue(b, k, val[k]); err != nil {
				return err
			}
		}
	case map[string]string:
		for _, k := range sortedKeys(val) {
			if err := encodeValue(b, k, val[k]); err != nil {
				return err
			}
		}
	case []map[string]interface{}:
		for _, row := range val {
			if err := encodeValue(b, "item", row); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, row := range val {
			if err := encodeValue(b, "item", row); err != nil {
				return err
			}
		}
	default:
		s, err := cast.ToStringE(val)
		if err != nil {
			return err
		}
		if err := xml.EscapeText(b, []byte(s)); err != nil {
			return err
		}
	}
	b.WriteString("</" + tag + ">")
	return nil
}

// escapeName maps namespaced ABAP names such as /SAPDS/RFC_READ_TABLE onto the
// SOAP-RFC element encoding.
func escapeName(name string) string {
	return strings.ReplaceAll(name, "/", "_-")
}

func unescapeName(name string) string {
	return strings.ReplaceAll(name, "_-", "/")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type xmlNode struct {
	name     string
	text     strings.Builder
	children []*xmlNode
}

func parseXML(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	root := &xmlNode{}
	stack := []*xmlNode{root}

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding RFC response: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: unescapeName(t.Name.Local)}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, n)
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		}
	}
	return root, nil
}

func (n *xmlNode) child(name string) *xmlNode {
	for _, c := range n.children {
		if c.name == name {
			return c
		}
	}
	return nil
}

// value converts a node: leaves keep their raw text (fixed-width rows are
// whitespace-significant), item lists become tables, other elements structures.
func (n *xmlNode) value() interface{} {
	if len(n.children) == 0 {
		return n.text.String()
	}
	if n.children[0].name == "item" {
		rows := make([]interface{}, 0, len(n.children))
		for _, c := range n.children {
			if len(c.children) == 0 {
				rows = append(rows, c.text.String())
				continue
			}
			rows = append(rows, c.structure())
		}
		return rows
	}
	return n.structure()
}

func (n *xmlNode) structure() map[string]interface{} {
	m := make(map[string]interface{}, len(n.children))
	for _, c := range n.children {
		m[c.name] = c.value()
	}
	return m
}

func decodeEnvelope(data []byte) (Result, *Fault, error) {
	root, err := parseXML(data)
	if err != nil {
		return nil, nil, err
	}
	envelope := root.child("Envelope")
	if envelope == nil {
		return nil, nil, fmt.Errorf("decoding RFC response: missing SOAP envelope")
	}
	body := envelope.child("Body")
	if body == nil || len(body.children) == 0 {
		return nil, nil, fmt.Errorf("decoding RFC response: empty SOAP body")
	}

	first := body.children[0]
	if first.name == "Fault" {
		f := &Fault{Message: "SOAP fault"}
		if c := first.child("faultcode"); c != nil {
			f.Code = strings.TrimSpace(c.text.String())
		}
		if c := first.child("faultstring"); c != nil {
			f.Message = strings.TrimSpace(c.text.String())
		}
		if detail := first.child("detail"); detail != nil && len(detail.children) > 0 {
			exc := detail.children[0]
			if name := exc.child("Name"); name != nil {
				f.Exception = strings.TrimSpace(name.text.String())
			} else {
				f.Exception = exc.name
			}
			if msg := exc.child("Message"); msg != nil && strings.TrimSpace(msg.text.String()) != "" {
				f.Message = strings.TrimSpace(msg.text.String())
			}
		}
		return nil, f, nil
	}

	return Result(first.structure()), nil, nil
}
