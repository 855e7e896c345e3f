package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/pkg/errors"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestLiveAdapterRequiresConnect(t *testing.T) {
	a, err := NewLN(Profile{Name: "ln", System: SystemLN, BaseURL: "http://127.0.0.1:1"}, Options{})
	require.NoError(t, err)

	_, err = a.ReadTable(context.Background(), "tfgld008", ReadOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindConnection, errors.KindOf(err))
	assert.Equal(t, HealthDown, a.HealthCheck(context.Background()).Status)
}

func TestLNReadsThroughION(t *testing.T) {
	var filters []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead && r.URL.Path == "/ln/odata":
			w.WriteHeader(http.StatusOK)
		case r.URL.Path == "/ln/odata/tfgld008" && r.URL.Query().Get("$skiptoken") == "":
			filters = append(filters, r.URL.Query().Get("$filter"))
			writeJSON(w, map[string]interface{}{
				"value":           []interface{}{map[string]interface{}{"t$leac": "00500100"}},
				"@odata.nextLink": "tfgld008?$skiptoken=2",
			})
		case r.URL.Path == "/ln/odata/tfgld008":
			writeJSON(w, map[string]interface{}{
				"value": []interface{}{map[string]interface{}{"t$leac": "00500200"}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	a, err := New(Profile{Name: "ln", System: SystemLN, BaseURL: srv.URL + "/ln/odata"}, Options{})
	require.NoError(t, err)
	require.NoError(t, a.Connect(ctx))
	defer a.Disconnect(ctx)

	rows, err := a.ReadTable(ctx, "tfgld008", ReadOptions{Filters: []Filter{{Field: "t$cpnb", Value: 100}}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "00500200", rows[1]["t$leac"])
	assert.Equal(t, []string{"t$cpnb eq 100"}, filters)

	_, err = a.ReadTable(ctx, "tmissing", ReadOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindTableRead, errors.KindOf(err))

	info, err := a.SystemInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "odata", info.Protocol)
	assert.Equal(t, HealthHealthy, a.HealthCheck(ctx).Status)
}

func TestM3ExportAndTransactions(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/m3api-rest/v2/execute/MNS150MI/GetUserData":
			writeJSON(w, map[string]interface{}{"results": []interface{}{map[string]interface{}{
				"transaction": "GetUserData",
				"records":     []interface{}{map[string]interface{}{"CONO": "100", "DIVI": "AAA"}},
			}}})
		case "/m3api-rest/v2/execute/EXPORTMI/Select":
			query = r.URL.Query().Get("QERY")
			assert.Equal(t, ";", r.URL.Query().Get("SEPC"))
			writeJSON(w, map[string]interface{}{"results": []interface{}{map[string]interface{}{
				"records": []interface{}{
					map[string]interface{}{"REPL": "MMITNO;MMITDS"},
					map[string]interface{}{"REPL": "A1;Item one  "},
					map[string]interface{}{"REPL": "A2;Item two"},
					map[string]interface{}{"REPL": "A3"},
				},
			}}})
		case "/m3api-rest/v2/execute/CRS610MI/GetBasicData":
			writeJSON(w, map[string]interface{}{"results": []interface{}{map[string]interface{}{
				"errorMessage": "Customer number X does not exist",
				"errorField":   "CUNO",
			}}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	a, err := New(Profile{Name: "m3", System: SystemM3, BaseURL: srv.URL + "/m3api-rest/v2/execute"}, Options{})
	require.NoError(t, err)
	require.NoError(t, a.Connect(ctx))

	rows, err := a.ReadTable(ctx, "mitmas", ReadOptions{
		Fields:  []string{"MMITNO", "MMITDS"},
		Filters: []Filter{{Field: "MMSTAT", Value: "20"}},
		Offset:  1,
	})
	require.NoError(t, err)
	assert.Equal(t, "MMITNO,MMITDS from MITMAS where MMSTAT = '20'", query)
	require.Len(t, rows, 2)
	assert.Equal(t, Record{"MMITNO": "A2", "MMITDS": "Item two"}, rows[0])
	assert.Equal(t, "", rows[1]["MMITDS"])

	_, err = a.QueryEntities(ctx, "CRS610MI/GetBasicData", Query{Filters: []Filter{{Field: "CUNO", Value: "X"}}})
	require.Error(t, err)
	assert.Equal(t, errors.KindM3Api, errors.KindOf(err))
	appErr, _ := errors.As(err)
	assert.Equal(t, "CUNO", appErr.Details["field"])

	_, err = a.QueryEntities(ctx, "CRS610MI/LstByNumber", Query{Filters: []Filter{{Field: "CUNO", Op: OpGt, Value: "X"}}})
	assert.Equal(t, errors.KindM3Api, errors.KindOf(err))

	_, err = a.QueryEntities(ctx, "CRS610MI", Query{})
	assert.Equal(t, errors.KindM3Api, errors.KindOf(err))

	info, err := a.SystemInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "100", info.Company)
}

func TestCSILoadsIDOsWithToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/IDORequestService/ido/token/PROD_DALS/sa/pw":
			writeJSON(w, map[string]interface{}{"Token": "b/XdI6IQzCviZOGJ0E+002"})
		case "/IDORequestService/ido/load/SLItems":
			assert.Equal(t, "b/XdI6IQzCviZOGJ0E+002", r.Header.Get("Authorization"))
			assert.Equal(t, "PROD_DALS", r.Header.Get(csiConfigHeader))
			assert.Equal(t, "Item,UM", r.URL.Query().Get("properties"))
			assert.Equal(t, "ProductCode = 'FG'", r.URL.Query().Get("filter"))
			writeJSON(w, map[string]interface{}{
				"Success": true,
				"Items": []interface{}{
					map[string]interface{}{"Item": "CSI-0001", "UM": "EA", "_ItemId": "PBT=[item]"},
					[]interface{}{
						map[string]interface{}{"Name": "Item", "Value": "CSI-0002"},
						map[string]interface{}{"Name": "UM", "Value": "FT"},
					},
				},
			})
		case "/IDORequestService/ido/load/SLSecret":
			writeJSON(w, map[string]interface{}{"Success": false, "Message": "User is not authorized"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	a, err := New(Profile{
		Name:     "csi",
		System:   SystemCSI,
		BaseURL:  srv.URL + "/IDORequestService",
		Username: "sa",
		Password: "pw",
		Config:   "PROD_DALS",
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, a.Connect(ctx))

	rows, err := a.ReadTable(ctx, "SLItems", ReadOptions{
		Fields:  []string{"Item", "UM"},
		Filters: []Filter{{Field: "ProductCode", Value: "FG"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []Record{{"Item": "CSI-0001", "UM": "EA"}, {"Item": "CSI-0002", "UM": "FT"}}, rows)

	_, err = a.ReadTable(ctx, "SLSecret", ReadOptions{})
	require.Error(t, err)
	assert.Equal(t, errors.KindTableRead, errors.KindOf(err))
	assert.True(t, errors.IsKind(err, errors.KindIDO))
	assert.True(t, errors.IsAuthorization(err))
}

func TestCSIRejectedLogon(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"Message": "Invalid credentials"})
	}))
	defer srv.Close()

	a, err := New(Profile{Name: "csi", System: SystemCSI, BaseURL: srv.URL, Username: "sa", Password: "bad"}, Options{})
	require.NoError(t, err)
	err = a.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, errors.KindAuthentication, errors.KindOf(err))
}

func TestLawsonFollowsNextLinks(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			http.NotFound(w, r)
		case r.URL.Path == "/lmdata/prod/GLCHART/lists/_generic" && r.URL.Query().Get("page") == "":
			assert.Equal(t, `Account="1000"`, r.URL.Query().Get("_filter"))
			writeJSON(w, []interface{}{
				map[string]interface{}{"_fields": map[string]interface{}{"Account": "1000", "Description": "Cash"}},
				map[string]interface{}{"_next": srv.URL + "/lmdata/prod/GLCHART/lists/_generic?page=2"},
			})
		case r.URL.Path == "/lmdata/prod/GLCHART/lists/_generic":
			writeJSON(w, []interface{}{
				map[string]interface{}{"_fields": map[string]interface{}{"Account": "1000", "Description": "Cash (2)"}},
			})
		case r.URL.Path == "/lmdata/prod/Employee/lists/_generic":
			writeJSON(w, []interface{}{map[string]interface{}{"_error": "Access denied to business class Employee"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	a, err := New(Profile{Name: "lawson", System: SystemLawson, BaseURL: srv.URL + "/lmdata"}, Options{})
	require.NoError(t, err)
	require.NoError(t, a.Connect(ctx))

	rows, err := a.ReadTable(ctx, "GLCHART", ReadOptions{Filters: []Filter{{Field: "Account", Value: "1000"}}})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Cash (2)", rows[1]["Description"])

	_, err = a.ReadTable(ctx, "Employee", ReadOptions{})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindLandmark))
	assert.True(t, errors.IsAuthorization(err))

	info, err := a.SystemInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "prod", info.Details["dataArea"])
	assert.Equal(t, HealthHealthy, a.HealthCheck(ctx).Status)
}
