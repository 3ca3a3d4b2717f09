package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContextDefaults(t *testing.T) {
	p := paramsFor(t, "")
	if p.Limit != DefaultLimit || p.After != "" {
		t.Fatalf("defaults = %+v", p)
	}
}

func TestFromContextHonorsCountAndAfter(t *testing.T) {
	p := paramsFor(t, "_count=5&after=pat-3")
	if p.Limit != 5 || p.After != "pat-3" {
		t.Fatalf("params = %+v", p)
	}
}

func TestFromContextCapsLimit(t *testing.T) {
	p := paramsFor(t, "limit=10000")
	if p.Limit != MaxLimit {
		t.Fatalf("limit = %d, want %d", p.Limit, MaxLimit)
	}
}

func TestRangeStart(t *testing.T) {
	if got := (Params{}).RangeStart(); got != "" {
		t.Fatalf("open range start = %q", got)
	}
	if got := (Params{After: "p1"}).RangeStart(); got != "p1\x00" {
		t.Fatalf("cursor range start = %q", got)
	}
}

func TestNewResponseCursor(t *testing.T) {
	full := NewResponse([]string{"a", "b"}, 2, "b", true)
	if !full.HasMore || full.Next != "b" {
		t.Fatalf("full page = %+v", full)
	}
	partial := NewResponse([]string{"a"}, 2, "a", false)
	if partial.HasMore || partial.Next != "" {
		t.Fatalf("partial page = %+v", partial)
	}
}
