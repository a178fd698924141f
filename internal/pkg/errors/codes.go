package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

const (
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrForbidden       = 1004
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Completion errors (2000-2999)
	ErrModelNotFound         = 2000
	ErrUpstreamProvider      = 2001
	ErrMalformedStreamChunk  = 2002
	ErrToolExecution         = 2003
	ErrAborted               = 2004
	ErrToolDepthExceeded     = 2005
	ErrProviderNotConfigured = 2006

	// Credit errors (3000-3999)
	ErrInsufficientCredits      = 3000
	ErrConcurrentUpdateConflict = 3001
	ErrTransferTooSmall         = 3002
	ErrAccountNotFound          = 3003
	ErrInvalidCreditAmount      = 3004

	// Agent errors (5000-5999)
	ErrAgentNotFound     = 5000
	ErrAgentInvalidInput = 5001
	ErrAgentUnauthorized = 5002
	ErrPlanNotFound      = 5003
)

var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	ErrForbidden:       {ErrForbidden, http.StatusForbidden, "Forbidden"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	ErrModelNotFound:         {ErrModelNotFound, http.StatusBadRequest, "Model not found"},
	ErrUpstreamProvider:      {ErrUpstreamProvider, http.StatusBadGateway, "Upstream provider error"},
	ErrMalformedStreamChunk:  {ErrMalformedStreamChunk, http.StatusBadGateway, "Malformed stream chunk"},
	ErrToolExecution:         {ErrToolExecution, http.StatusBadGateway, "Tool execution failed"},
	ErrAborted:               {ErrAborted, 499, "Request aborted"},
	ErrToolDepthExceeded:     {ErrToolDepthExceeded, http.StatusUnprocessableEntity, "Tool call depth exceeded"},
	ErrProviderNotConfigured: {ErrProviderNotConfigured, http.StatusInternalServerError, "Provider not configured"},

	ErrInsufficientCredits:      {ErrInsufficientCredits, http.StatusPaymentRequired, "Insufficient credits"},
	ErrConcurrentUpdateConflict: {ErrConcurrentUpdateConflict, http.StatusConflict, "Concurrent credit update conflict"},
	ErrTransferTooSmall:         {ErrTransferTooSmall, http.StatusBadRequest, "Transfer amount too small after fee"},
	ErrAccountNotFound:          {ErrAccountNotFound, http.StatusNotFound, "Credit account not found"},
	ErrInvalidCreditAmount:      {ErrInvalidCreditAmount, http.StatusBadRequest, "Invalid credit amount"},

	ErrAgentNotFound:     {ErrAgentNotFound, http.StatusNotFound, "Agent not found"},
	ErrAgentInvalidInput: {ErrAgentInvalidInput, http.StatusBadRequest, "Invalid agent input"},
	ErrAgentUnauthorized: {ErrAgentUnauthorized, http.StatusForbidden, "Unauthorized access to agent"},
	ErrPlanNotFound:      {ErrPlanNotFound, http.StatusNotFound, "Plan not found"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsClientError reports whether the code maps to a 4xx status
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
