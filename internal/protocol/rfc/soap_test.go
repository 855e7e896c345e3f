package rfc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/pkg/errors"
)

const readTableResponse = `<?xml version="1.0" encoding="utf-8"?>
<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/">
<soap-env:Body>
<urn:RFC_READ_TABLE.Response xmlns:urn="urn:sap-com:document:sap:rfc:functions">
<DATA><item><WA>100 Production   </WA></item><item><WA>200 Test         </WA></item></DATA>
<FIELDS><item><FIELDNAME>MANDT</FIELDNAME><OFFSET>000000</OFFSET><LENGTH>000003</LENGTH><TYPE>C</TYPE></item></FIELDS>
<OPTIONS/>
</urn:RFC_READ_TABLE.Response>
</soap-env:Body>
</soap-env:Envelope>`

const faultResponse = `<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/">
<soap-env:Body><soap-env:Fault>
<faultcode>soap-env:Client</faultcode>
<faultstring>TABLE_NOT_AVAILABLE</faultstring>
<detail><rfc:RFC_READ_TABLE.Exception xmlns:rfc="urn:sap-com:document:sap:rfc:functions">
<Name>TABLE_NOT_AVAILABLE</Name><Text>Table ZZZ is not available</Text>
</rfc:RFC_READ_TABLE.Exception></detail>
</soap-env:Fault></soap-env:Body></soap-env:Envelope>`

const pingResponse = `<soap-env:Envelope xmlns:soap-env="http://schemas.xmlsoap.org/soap/envelope/"><soap-env:Body><urn:RFC_PING.Response xmlns:urn="urn:sap-com:document:sap:rfc:functions"/></soap-env:Body></soap-env:Envelope>`

func TestSOAPTransportRoundTrip(t *testing.T) {
	var lastBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sap/bc/soap/rfc", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("sap-client"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "RFCUSER", user)
		assert.Equal(t, "secret", pass)

		body, _ := io.ReadAll(r.Body)
		lastBody = string(body)
		w.Header().Set("Content-Type", "text/xml")
		switch {
		case strings.Contains(lastBody, "RFC_PING"):
			_, _ = w.Write([]byte(pingResponse))
		case strings.Contains(lastBody, "ZZZ"):
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(faultResponse))
		default:
			_, _ = w.Write([]byte(readTableResponse))
		}
	}))
	defer srv.Close()

	transport, err := NewSOAPTransport(SOAPConfig{BaseURL: srv.URL, Client: "100", Username: "RFCUSER", Password: "secret"})
	require.NoError(t, err)
	require.NoError(t, transport.Open(context.Background()))
	defer transport.Close()

	res, err := transport.Invoke(context.Background(), "RFC_READ_TABLE", Params{
		"QUERY_TABLE": "T000",
		"ROWCOUNT":    10,
		"OPTIONS":     []map[string]interface{}{{"TEXT": "MANDT <> '000'"}},
	})
	require.NoError(t, err)

	assert.Contains(t, lastBody, "<QUERY_TABLE>T000</QUERY_TABLE>")
	assert.Contains(t, lastBody, "<ROWCOUNT>10</ROWCOUNT>")
	assert.Contains(t, lastBody, "<OPTIONS><item><TEXT>MANDT &lt;&gt; &#39;000&#39;</TEXT></item></OPTIONS>")

	data, err := parseReadResult("T000", res)
	require.NoError(t, err)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "100", data.Rows[0]["MANDT"])
	assert.Equal(t, "200", data.Rows[1]["MANDT"])

	_, err = transport.Invoke(context.Background(), "RFC_READ_TABLE", Params{"QUERY_TABLE": "ZZZ"})
	require.Error(t, err)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "TABLE_NOT_AVAILABLE", fault.Exception)
}

func TestSOAPTransportRejectedLogon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	transport, err := NewSOAPTransport(SOAPConfig{BaseURL: srv.URL, Username: "x", Password: "y"})
	require.NoError(t, err)

	err = transport.Open(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindAuthentication, errors.KindOf(err))
}

func TestEncodeNamespacedFunction(t *testing.T) {
	body, err := encodeEnvelope("/SAPDS/RFC_READ_TABLE", nil)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<urn:_-SAPDS_-RFC_READ_TABLE")

	res, fault, err := decodeEnvelope([]byte(`<e:Envelope xmlns:e="x"><e:Body><r:_-SAPDS_-RFC_READ_TABLE.Response xmlns:r="y"><_-SAPDS_-OUT>1</_-SAPDS_-OUT></r:_-SAPDS_-RFC_READ_TABLE.Response></e:Body></e:Envelope>`))
	require.NoError(t, err)
	assert.Nil(t, fault)
	assert.Equal(t, "1", res["/SAPDS/OUT"])
}

func TestNewSOAPTransportRejectsInvalidURL(t *testing.T) {
	_, err := NewSOAPTransport(SOAPConfig{BaseURL: "not a url"})
	require.Error(t, err)
	assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
}
