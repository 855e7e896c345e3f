package rfc

import (
	"context"
	"strings"

	"github.com/spf13/cast"

	"erpmigrate/internal/logger"
	"erpmigrate/pkg/errors"
	"erpmigrate/pkg/pool"
)

const (
	FunctionCommit       = "BAPI_TRANSACTION_COMMIT"
	FunctionRollback     = "BAPI_TRANSACTION_ROLLBACK"
	FunctionGetInterface = "RFC_GET_FUNCTION_INTERFACE"
)

// Message is one entry of a BAPI RETURN structure or table.
type Message struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Number  string `json:"number,omitempty"`
	Message string `json:"message"`
}

func (m Message) fatal() bool {
	switch m.Type {
	case "E", "A", "X":
		return true
	}
	return false
}

type Parameter struct {
	Name        string `json:"name"`
	Table       string `json:"table,omitempty"`
	Field       string `json:"field,omitempty"`
	Type        string `json:"type,omitempty"`
	Optional    bool   `json:"optional"`
	Default     string `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// FunctionInterface describes the signature of a function module.
type FunctionInterface struct {
	Name     string      `json:"name"`
	Imports  []Parameter `json:"imports"`
	Exports  []Parameter `json:"exports"`
	Tables   []Parameter `json:"tables"`
	Changing []Parameter `json:"changing"`
}

// FunctionCaller runs BAPIs and other function modules on pooled clients and turns
// error entries of RETURN into FunctionCall errors.
type FunctionCaller struct {
	pool   *pool.Pool[*Client]
	logger logger.Logger
}

func NewFunctionCaller(p *pool.Pool[*Client], log logger.Logger) *FunctionCaller {
	if log == nil {
		log = logger.NopLogger()
	}
	return &FunctionCaller{pool: p, logger: log.Named("function_caller")}
}

func (f *FunctionCaller) acquire(ctx context.Context, fm string) (*Client, error) {
	client, err := f.pool.Acquire(ctx)
	if err != nil {
		return nil, errors.ErrFunctionCall.Newf("no RFC client available to call %s", fm).
			WithCause(err).
			WithDetail("function", fm)
	}
	return client, nil
}

// Call merges imports and tables into one parameter set and invokes fm.
func (f *FunctionCaller) Call(ctx context.Context, fm string, imports, tables Params) (Result, error) {
	client, err := f.acquire(ctx, fm)
	if err != nil {
		return nil, err
	}
	defer f.pool.Release(client)

	params := make(Params, len(imports)+len(tables))
	for k, v := range imports {
		params[k] = v
	}
	for k, v := range tables {
		params[k] = v
	}
	return f.call(ctx, client, fm, params)
}

func (f *FunctionCaller) call(ctx context.Context, client *Client, fm string, params Params) (Result, error) {
	res, err := client.Call(ctx, fm, params)
	if err != nil {
		return nil, errors.ErrFunctionCall.Newf("function %s failed", fm).
			WithCause(err).
			WithDetail("function", fm).
			WithDetail("circuitBreaker", errors.IsCircuitOpen(err))
	}

	messages := ReturnMessages(res)
	var fatal []Message
	for _, m := range messages {
		if m.fatal() {
			fatal = append(fatal, m)
		} else if m.Message != "" {
			f.logger.DebugwCtx(ctx, "Function returned message", "function", fm, "type", m.Type, "message", m.Message)
		}
	}
	if len(fatal) > 0 {
		texts := make([]string, 0, len(fatal))
		for _, m := range fatal {
			texts = append(texts, m.Message)
		}
		return nil, errors.ErrFunctionCall.Newf("function %s returned errors: %s", fm, strings.Join(texts, "; ")).
			WithDetail("function", fm).
			WithDetail("messages", fatal)
	}
	return res, nil
}

// CallWithCommit runs fm and commits on the same session. When fm fails, a rollback is
// attempted before the original error is returned.
func (f *FunctionCaller) CallWithCommit(ctx context.Context, fm string, params Params) (Result, error) {
	client, err := f.acquire(ctx, fm)
	if err != nil {
		return nil, err
	}
	defer f.pool.Release(client)

	res, err := f.call(ctx, client, fm, params)
	if err != nil {
		if _, rbErr := client.Call(ctx, FunctionRollback, nil); rbErr != nil {
			f.logger.WarnwCtx(ctx, "Rollback after failed call did not succeed", "function", fm, "error", rbErr)
		}
		return nil, err
	}

	if _, err := f.call(ctx, client, FunctionCommit, Params{"WAIT": "X"}); err != nil {
		return nil, errors.ErrFunctionCall.Newf("commit after %s failed", fm).
			WithCause(err).
			WithDetail("function", fm)
	}
	return res, nil
}

// Interface introspects fm via RFC_GET_FUNCTION_INTERFACE.
func (f *FunctionCaller) Interface(ctx context.Context, fm string) (*FunctionInterface, error) {
	res, err := f.Call(ctx, FunctionGetInterface, Params{"FUNCNAME": fm}, nil)
	if err != nil {
		return nil, err
	}

	iface := &FunctionInterface{Name: fm}
	for _, row := range toRows(res["PARAMS"]) {
		p := Parameter{
			Name:        strings.TrimSpace(cast.ToString(row["PARAMETER"])),
			Table:       strings.TrimSpace(cast.ToString(row["TABNAME"])),
			Field:       strings.TrimSpace(cast.ToString(row["FIELDNAME"])),
			Type:        strings.TrimSpace(cast.ToString(row["EXID"])),
			Optional:    strings.TrimSpace(cast.ToString(row["OPTIONAL"])) == "X",
			Default:     strings.TrimSpace(cast.ToString(row["DEFAULT"])),
			Description: strings.TrimSpace(cast.ToString(row["PARAMTEXT"])),
		}
		switch strings.TrimSpace(cast.ToString(row["PARAMCLASS"])) {
		case "I":
			iface.Imports = append(iface.Imports, p)
		case "E":
			iface.Exports = append(iface.Exports, p)
		case "T":
			iface.Tables = append(iface.Tables, p)
		case "C":
			iface.Changing = append(iface.Changing, p)
		}
	}
	return iface, nil
}

// ReturnMessages reads RETURN whether it is a structure or a table.
func ReturnMessages(res Result) []Message {
	raw, ok := res["RETURN"]
	if !ok {
		return nil
	}
	var rows []map[string]interface{}
	if m, ok := raw.(map[string]interface{}); ok {
		rows = []map[string]interface{}{m}
	} else {
		rows = toRows(raw)
	}

	messages := make([]Message, 0, len(rows))
	for _, row := range rows {
		m := Message{
			Type:    strings.TrimSpace(cast.ToString(row["TYPE"])),
			ID:      strings.TrimSpace(cast.ToString(row["ID"])),
			Number:  strings.TrimSpace(cast.ToString(row["NUMBER"])),
			Message: strings.TrimSpace(cast.ToString(row["MESSAGE"])),
		}
		if m.Type == "" && m.Message == "" {
			continue
		}
		messages = append(messages, m)
	}
	return messages
}
