// Package pagination provides cursor-style paging over lexicographically
// ordered document listings.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds paging parameters extracted from a request. After is the
// exclusive lower bound on document id; listing resumes just past it.
type Params struct {
	Limit int
	After string
}

// FromContext extracts paging parameters from the echo context. Both the
// FHIR-style _count and the plain limit parameter are honored.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("_count"))
	if limit <= 0 {
		limit, _ = strconv.Atoi(c.QueryParam("limit"))
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	return Params{Limit: limit, After: c.QueryParam("after")}
}

// RangeStart returns the half-open range start for a store listing: the id
// immediately after the cursor.
func (p Params) RangeStart() string {
	if p.After == "" {
		return ""
	}
	// Smallest id strictly greater than After.
	return p.After + "\x00"
}

// Response wraps one page of results with the cursor to continue from.
type Response struct {
	Data    interface{} `json:"data"`
	Limit   int         `json:"limit"`
	Next    string      `json:"next,omitempty"`
	HasMore bool        `json:"has_more"`
}

// NewResponse builds a page. lastID is the id of the final item on the
// page; full reports whether the page hit its limit, which is the only
// case where a next cursor is offered.
func NewResponse(data interface{}, limit int, lastID string, full bool) *Response {
	resp := &Response{Data: data, Limit: limit, HasMore: full}
	if full {
		resp.Next = lastID
	}
	return resp
}
