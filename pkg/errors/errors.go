package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Kind discriminates error families. Codes are stable and safe to match on.
type Kind string

const (
	KindSapConnect         Kind = "SapConnectError"
	KindConnection         Kind = "ConnectionError"
	KindAuthentication     Kind = "AuthenticationError"
	KindOData              Kind = "ODataError"
	KindRfc                Kind = "RfcError"
	KindTableRead          Kind = "TableReadError"
	KindFunctionCall       Kind = "FunctionCallError"
	KindExtraction         Kind = "ExtractionError"
	KindRuleValidation     Kind = "RuleValidationError"
	KindTransform          Kind = "TransformError"
	KindMigrationObject    Kind = "MigrationObjectError"
	KindSignavio           Kind = "SignavioError"
	KindTesting            Kind = "TestingError"
	KindCloudModule        Kind = "CloudModuleError"
	KindInfor              Kind = "InforError"
	KindION                Kind = "IONError"
	KindM3Api              Kind = "M3ApiError"
	KindIDO                Kind = "IDOError"
	KindLandmark           Kind = "LandmarkError"
	KindInforDb            Kind = "InforDbError"
	KindCanonicalMapping   Kind = "CanonicalMappingError"
	KindCircuitBreakerOpen Kind = "CircuitBreakerOpenError"
	KindPoolDrained        Kind = "PoolDrainedError"
	KindPoolTimeout        Kind = "PoolTimeoutError"
	KindConfiguration      Kind = "ConfigurationError"
	KindNotFound           Kind = "NotFoundError"
)

var codes = map[Kind]string{
	KindSapConnect:         "ERR_SAPCONNECT",
	KindConnection:         "ERR_CONNECTION",
	KindAuthentication:     "ERR_AUTH",
	KindOData:              "ERR_ODATA",
	KindRfc:                "ERR_RFC",
	KindTableRead:          "ERR_TABLE_READ",
	KindFunctionCall:       "ERR_FUNCTION_CALL",
	KindExtraction:         "ERR_EXTRACTION",
	KindRuleValidation:     "ERR_RULE_VALIDATION",
	KindTransform:          "ERR_TRANSFORM",
	KindMigrationObject:    "ERR_MIGRATION_OBJECT",
	KindSignavio:           "ERR_SIGNAVIO",
	KindTesting:            "ERR_TESTING",
	KindCloudModule:        "ERR_CLOUD_MODULE",
	KindInfor:              "ERR_INFOR",
	KindION:                "ERR_ION",
	KindM3Api:              "ERR_M3_API",
	KindIDO:                "ERR_IDO",
	KindLandmark:           "ERR_LANDMARK",
	KindInforDb:            "ERR_INFOR_DB",
	KindCanonicalMapping:   "ERR_CANONICAL_MAPPING",
	KindCircuitBreakerOpen: "ERR_CIRCUIT_OPEN",
	KindPoolDrained:        "ERR_POOL_DRAINED",
	KindPoolTimeout:        "ERR_POOL_TIMEOUT",
	KindConfiguration:      "ERR_CONFIGURATION",
	KindNotFound:           "ERR_NOT_FOUND",
}

// Sentinels. Use the With* builders to derive concrete errors; errors.Is matches by kind.
var (
	ErrSapConnect         = NewError(KindSapConnect, "SAP connectivity error")
	ErrConnection         = NewError(KindConnection, "connection failed")
	ErrAuthentication     = NewError(KindAuthentication, "authentication failed")
	ErrOData              = NewError(KindOData, "OData request failed")
	ErrRfc                = NewError(KindRfc, "RFC call failed")
	ErrTableRead          = NewError(KindTableRead, "table read failed")
	ErrFunctionCall       = NewError(KindFunctionCall, "function call failed")
	ErrExtraction         = NewError(KindExtraction, "extraction failed")
	ErrRuleValidation     = NewError(KindRuleValidation, "rule validation failed")
	ErrTransform          = NewError(KindTransform, "transform failed")
	ErrMigrationObject    = NewError(KindMigrationObject, "migration object failed")
	ErrSignavio           = NewError(KindSignavio, "process mining request failed")
	ErrTesting            = NewError(KindTesting, "test execution failed")
	ErrCloudModule        = NewError(KindCloudModule, "cloud module failed")
	ErrInfor              = NewError(KindInfor, "Infor connectivity error")
	ErrION                = NewError(KindION, "ION API request failed")
	ErrM3Api              = NewError(KindM3Api, "M3 API request failed")
	ErrIDO                = NewError(KindIDO, "IDO request failed")
	ErrLandmark           = NewError(KindLandmark, "Landmark request failed")
	ErrInforDb            = NewError(KindInforDb, "Infor database query failed")
	ErrCanonicalMapping   = NewError(KindCanonicalMapping, "canonical mapping failed")
	ErrCircuitBreakerOpen = NewError(KindCircuitBreakerOpen, "circuit breaker is open")
	ErrPoolDrained        = NewError(KindPoolDrained, "pool has been drained")
	ErrPoolTimeout        = NewError(KindPoolTimeout, "pool acquire timeout")
	ErrConfiguration      = NewError(KindConfiguration, "invalid configuration")
	ErrNotFound           = NewError(KindNotFound, "resource not found")
)

type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Details   map[string]interface{}
	Timestamp time.Time
	Cause     error

	// Populated for OData errors.
	StatusCode   int
	ResponseBody interface{}
}

func NewError(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Code:    codes[kind],
		Message: message,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports kind equality so that errors.Is(err, ErrRfc) holds for every RFC error.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) clone() *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		err.Details[k] = v
	}
	if err.Timestamp.IsZero() {
		err.Timestamp = time.Now().UTC()
	}
	return &err
}

// New derives an error of the same kind with a specific message.
func (e *Error) New(message string) *Error {
	err := e.clone()
	err.Message = message
	return err
}

func (e *Error) Newf(format string, args ...interface{}) *Error {
	return e.New(fmt.Sprintf(format, args...))
}

func (e *Error) WithCause(cause error) *Error {
	err := e.clone()
	err.Cause = cause
	if _, ok := err.Details["cause"]; !ok && cause != nil {
		err.Details["cause"] = cause.Error()
	}
	return err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := e.clone()
	err.Details[key] = value
	return err
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	err := e.clone()
	for k, v := range details {
		err.Details[k] = v
	}
	return err
}

func (e *Error) WithResponse(statusCode int, body interface{}) *Error {
	err := e.clone()
	err.StatusCode = statusCode
	err.ResponseBody = body
	return err
}

func (e *Error) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"name":      string(e.Kind),
		"code":      e.Code,
		"message":   e.Message,
		"details":   e.Details,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.Details == nil {
		out["details"] = map[string]interface{}{}
	}
	if e.Kind == KindOData {
		out["statusCode"] = e.StatusCode
		out["response"] = e.ResponseBody
	}
	return json.Marshal(out)
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// As returns the outermost *Error in the chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return ""
}

func CodeOf(err error) string {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return ""
}

// IsKind walks the whole chain, not just the outermost error.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if appErr, ok := err.(*Error); ok && appErr.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func IsCircuitOpen(err error) bool {
	if IsKind(err, KindCircuitBreakerOpen) {
		return true
	}
	if appErr, ok := As(err); ok {
		if v, ok := appErr.Details["circuitBreaker"].(bool); ok && v {
			return true
		}
	}
	return false
}

var authorizationPattern = regexp.MustCompile(`(?i)(not authori[sz]ed|no authori[sz]ation|no authority|authori[sz]ation (check|failed|missing)|forbidden|access denied|permission denied|unauthori[sz]ed|\b40[13]\b)`)

// IsAuthorization classifies failures caused by missing permissions on the source system.
func IsAuthorization(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, KindAuthentication) {
		return true
	}
	if appErr, ok := As(err); ok && (appErr.StatusCode == http.StatusUnauthorized || appErr.StatusCode == http.StatusForbidden) {
		return true
	}
	return MatchesAuthorization(err.Error())
}

// MatchesAuthorization reports whether a free-text reason describes an authorization gap.
func MatchesAuthorization(reason string) bool {
	return authorizationPattern.MatchString(strings.TrimSpace(reason))
}

// ToHTTPStatus maps error kinds onto HTTP statuses for the service surface.
func ToHTTPStatus(err error) int {
	appErr, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case KindConfiguration, KindRuleValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindCircuitBreakerOpen, KindPoolDrained, KindPoolTimeout:
		return http.StatusServiceUnavailable
	case KindOData:
		if appErr.StatusCode >= 400 {
			return appErr.StatusCode
		}
	}
	return http.StatusBadGateway
}

func ToErrorResponse(err error) map[string]interface{} {
	appErr, ok := As(err)
	if !ok {
		appErr = ErrExtraction.New(err.Error())
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
