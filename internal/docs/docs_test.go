package docs

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleSpec(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil)
	rec := httptest.NewRecorder()

	HandleSpec(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/yaml")
	}
	if !strings.HasPrefix(rec.Body.String(), "openapi:") {
		t.Error("body should start with 'openapi:'")
	}
	if rec.Header().Get("ETag") == "" {
		t.Error("expected an ETag header")
	}
}

func TestHandleSpec_NotModified(t *testing.T) {
	cases := map[string]string{
		"exact":    specETag,
		"weak":     "W/" + specETag,
		"list":     `"stale", ` + specETag,
		"wildcard": "*",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil)
			req.Header.Set("If-None-Match", header)
			rec := httptest.NewRecorder()

			HandleSpec(rec, req)

			if rec.Code != http.StatusNotModified {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusNotModified)
			}
			if rec.Body.Len() != 0 {
				t.Errorf("expected empty body, got %d bytes", rec.Body.Len())
			}
		})
	}
}

func TestHandleSpec_StaleETag(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/docs/openapi.yaml", nil)
	req.Header.Set("If-None-Match", `"stale"`)
	rec := httptest.NewRecorder()

	HandleSpec(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleDocs(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/docs", nil)
	rec := httptest.NewRecorder()

	HandleDocs(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(rec.Body.String(), "api-reference") {
		t.Error("body should contain 'api-reference'")
	}
	if csp := rec.Header().Get("Content-Security-Policy"); !strings.Contains(csp, "cdn.jsdelivr.net") {
		t.Errorf("CSP should allow cdn.jsdelivr.net, got %q", csp)
	}
}

func TestSpecContainsAllEndpoints(t *testing.T) {
	spec := string(specYAML)

	endpoints := []string{
		"/api/health",
		"/api/limits",
		"/api/sections",
		"/api/items",
		"/api/sections/{id}/verify",
		"/api/items/{id}/verify",
		"/api/admin/sections/{id}",
		"/api/admin/sections/{id}/password",
		"/api/admin/items/{id}",
		"/api/admin/items/{id}/password",
		"/api/admin/refresh-signal",
	}
	for _, ep := range endpoints {
		if !strings.Contains(spec, ep+":") {
			t.Errorf("spec missing endpoint %s", ep)
		}
	}
}
