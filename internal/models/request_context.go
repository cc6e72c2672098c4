package models

import (
	"net/http"
	"time"
)

// RequestContext is the framework-neutral view of an inbound request that the
// security components operate on.
type RequestContext struct {
	Method    string
	Path      string
	Headers   http.Header
	ClientIP  string
	UserAgent string
	RawBody   []byte
	Now       time.Time
}

// Header returns the first value for key, or "" when absent
func (rc RequestContext) Header(key string) string {
	if rc.Headers == nil {
		return ""
	}
	return rc.Headers.Get(key)
}

// NewRequestContext captures r with an already resolved client address.
// body is the request payload when the caller has read it, otherwise nil.
func NewRequestContext(r *http.Request, clientIP string, body []byte) RequestContext {
	return RequestContext{
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   r.Header.Clone(),
		ClientIP:  clientIP,
		UserAgent: r.UserAgent(),
		RawBody:   body,
		Now:       time.Now().UTC(),
	}
}
