package rfc

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"erpmigrate/pkg/errors"
)

func TestFunctionCallerRaisesOnErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		ret     interface{}
		wantErr bool
	}{
		{"success structure", map[string]interface{}{"TYPE": "S", "MESSAGE": "Created"}, false},
		{"warning table", []interface{}{map[string]interface{}{"TYPE": "W", "MESSAGE": "Check address"}}, false},
		{"error table", []interface{}{
			map[string]interface{}{"TYPE": "I", "MESSAGE": "Info"},
			map[string]interface{}{"TYPE": "E", "ID": "F2", "NUMBER": "001", "MESSAGE": "Account missing"},
		}, true},
		{"abort", map[string]interface{}{"TYPE": "A", "MESSAGE": "Aborted"}, true},
		{"dump", map[string]interface{}{"TYPE": "X", "MESSAGE": "Exit"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &fakeTransport{handler: func(string, Params) (Result, error) {
				return Result{"RETURN": tt.ret}, nil
			}}
			caller := NewFunctionCaller(newTestPool(t, transport), nil)

			_, err := caller.Call(context.Background(), "BAPI_CUSTOMER_CREATE", Params{"NAME": "ACME"}, Params{"ITEMS": []interface{}{}})
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, errors.KindFunctionCall, errors.KindOf(err))
		})
	}
}

func TestFunctionCallerMergesParameters(t *testing.T) {
	transport := &fakeTransport{}
	caller := NewFunctionCaller(newTestPool(t, transport), nil)

	_, err := caller.Call(context.Background(), "Z_FM", Params{"A": "1"}, Params{"T": []interface{}{}})
	require.NoError(t, err)

	params := transport.calls[0].params
	assert.Equal(t, "1", params["A"])
	assert.Contains(t, params, "T")
}

func TestCallWithCommit(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		transport := &fakeTransport{}
		caller := NewFunctionCaller(newTestPool(t, transport), nil)

		_, err := caller.CallWithCommit(context.Background(), "BAPI_PO_CREATE1", Params{"POHEADER": map[string]interface{}{}})
		require.NoError(t, err)
		assert.Equal(t, []string{"BAPI_PO_CREATE1", FunctionCommit}, transport.functions())
		assert.Equal(t, "X", transport.calls[1].params["WAIT"])
	})

	t.Run("rolls back on failure", func(t *testing.T) {
		transport := &fakeTransport{handler: func(fn string, p Params) (Result, error) {
			if fn == "BAPI_PO_CREATE1" {
				return Result{"RETURN": []interface{}{map[string]interface{}{"TYPE": "E", "MESSAGE": "Vendor blocked"}}}, nil
			}
			return Result{}, nil
		}}
		caller := NewFunctionCaller(newTestPool(t, transport), nil)

		_, err := caller.CallWithCommit(context.Background(), "BAPI_PO_CREATE1", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Vendor blocked")
		assert.Equal(t, []string{"BAPI_PO_CREATE1", FunctionRollback}, transport.functions())
	})

	t.Run("rollback failure keeps original error", func(t *testing.T) {
		transport := &fakeTransport{handler: func(fn string, p Params) (Result, error) {
			if fn == FunctionRollback {
				return nil, stderrors.New("ROLLBACK_FAILED")
			}
			return nil, stderrors.New("POSTING_PERIOD_CLOSED")
		}}
		caller := NewFunctionCaller(newTestPool(t, transport), nil)

		_, err := caller.CallWithCommit(context.Background(), "BAPI_ACC_DOCUMENT_POST", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "POSTING_PERIOD_CLOSED")
	})
}

func TestFunctionInterface(t *testing.T) {
	transport := &fakeTransport{handler: func(fn string, p Params) (Result, error) {
		return Result{"PARAMS": []interface{}{
			map[string]interface{}{"PARAMCLASS": "I", "PARAMETER": "CUSTOMERNO", "TABNAME": "BAPI1007", "FIELDNAME": "CUSTOMER", "OPTIONAL": ""},
			map[string]interface{}{"PARAMCLASS": "E", "PARAMETER": "RETURN", "TABNAME": "BAPIRET2"},
			map[string]interface{}{"PARAMCLASS": "T", "PARAMETER": "ITEMS", "TABNAME": "BAPIITEM", "OPTIONAL": "X"},
			map[string]interface{}{"PARAMCLASS": "C", "PARAMETER": "HEADER", "TABNAME": "BAPIHEAD"},
		}}, nil
	}}
	caller := NewFunctionCaller(newTestPool(t, transport), nil)

	iface, err := caller.Interface(context.Background(), "BAPI_CUSTOMER_GETDETAIL")
	require.NoError(t, err)
	assert.Equal(t, FunctionGetInterface, transport.calls[0].function)
	assert.Equal(t, "BAPI_CUSTOMER_GETDETAIL", transport.calls[0].params["FUNCNAME"])
	require.Len(t, iface.Imports, 1)
	assert.Equal(t, "CUSTOMERNO", iface.Imports[0].Name)
	assert.False(t, iface.Imports[0].Optional)
	require.Len(t, iface.Tables, 1)
	assert.True(t, iface.Tables[0].Optional)
	assert.Len(t, iface.Exports, 1)
	assert.Len(t, iface.Changing, 1)
}
