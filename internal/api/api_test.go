package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/starford/eduops/internal/apperr"
	"github.com/starford/eduops/internal/features"
	"github.com/starford/eduops/internal/record"
	"github.com/starford/eduops/internal/source"
	"github.com/starford/eduops/internal/view"
)

// testEnv sets up a static backend, the feature views and a router.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) (*source.Static, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sse http.Handler) (*source.Static, http.Handler) {
	t.Helper()
	backend := source.NewStatic().
		Set("licenses", "license_no",
			record.Raw{"license_no": "L1", "status": "available"},
			record.Raw{"license_no": "L2", "best_score": 72.0, "email": "a@x.com"},
			record.Raw{"license_no": "L3", "is_used": true},
		).
		Set("allocations", "license_no",
			record.Raw{"license_no": "L2", "student": map[string]any{"name": "Asha Rao", "country": "in"}},
		).
		Set("stats/top-performers", "license_no",
			record.Raw{"license_no": "L3", "score": 91.0},
		)
	reg := features.Registry(view.Env{Backend: backend})
	return backend, NewRouter(reg, authEnabled, token, sse)
}

func do(t *testing.T, router http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) view.Result {
	t.Helper()
	var page view.Result
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v, body = %s", err, w.Body.String())
	}
	return page
}

func licenseNos(page view.Result) []string {
	out := make([]string, 0, len(page.Items))
	for _, it := range page.Items {
		m, _ := it.(map[string]any)
		s, _ := m["license_no"].(string)
		out = append(out, s)
	}
	return out
}

func TestListViews(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/views")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp ViewListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Views) != 3 {
		t.Fatalf("views = %d, want 3", len(resp.Views))
	}
	if resp.Views[0].Name != "licenses" || resp.Views[1].Strategy != view.ServerFiltered {
		t.Errorf("views = %+v", resp.Views)
	}
	if len(resp.Views[0].SortKeys) == 0 {
		t.Error("licenses view has no sort keys")
	}
}

func TestQueryView_DefaultOrder(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/views/licenses")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	page := decodePage(t, w)
	if page.Status != view.StatusOK || page.Total != 3 || page.Filtered != 3 {
		t.Fatalf("page = %+v", page)
	}
	if got := licenseNos(page); got[0] != "L3" {
		t.Errorf("used license should lead the default order, got %v", got)
	}
}

func TestQueryView_FilterSortPaginate(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/views/licenses?status=allocated")
	page := decodePage(t, w)
	if got := licenseNos(page); len(got) != 1 || got[0] != "L2" {
		t.Errorf("status filter = %v", got)
	}

	w = do(t, router, http.MethodGet, "/views/licenses?sort=license_no&dir=asc&page=2&page_size=2")
	page = decodePage(t, w)
	if got := licenseNos(page); len(got) != 1 || got[0] != "L3" {
		t.Errorf("page 2 = %v", got)
	}
	if page.TotalPages != 2 || page.Page != 2 {
		t.Errorf("pagination = page %d of %d", page.Page, page.TotalPages)
	}

	w = do(t, router, http.MethodGet, "/views/licenses?q=nobody")
	page = decodePage(t, w)
	if page.Status != view.StatusNoMatch || page.TotalPages != 1 {
		t.Errorf("no match page = %+v", page)
	}
}

func TestQueryView_QueryTokenAndHugePage(t *testing.T) {
	_, router := testEnv(t, "secret123")

	w := do(t, router, http.MethodGet, "/views/licenses?access_token=secret123")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if page := decodePage(t, w); page.Filtered != 3 {
		t.Errorf("access token narrowed the result: %+v", page)
	}

	w = do(t, router, http.MethodGet, "/views/licenses?access_token=secret123&page=368934881474191034")
	if w.Code != http.StatusOK {
		t.Fatalf("huge page status = %d, body = %s", w.Code, w.Body.String())
	}
	if page := decodePage(t, w); len(page.Items) != 0 || page.Filtered != 3 {
		t.Errorf("huge page = %+v, want no items", page)
	}
}

func TestQueryView_BadRequest(t *testing.T) {
	_, router := testEnv(t, "")

	for _, target := range []string{
		"/views/licenses?page=abc",
		"/views/licenses?page_size=100000",
		"/views/licenses?sort=shoe_size",
		"/views/licenses?score_min=90&score_max=10",
		"/views/licenses?status=lost",
	} {
		if w := do(t, router, http.MethodGet, target); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", target, w.Code)
		}
	}
}

func TestQueryView_UnknownView(t *testing.T) {
	_, router := testEnv(t, "")

	if w := do(t, router, http.MethodGet, "/views/events"); w.Code != http.StatusNotFound {
		t.Errorf("unknown view = %d, want 404", w.Code)
	}
}

func TestQueryView_PrimaryFailure(t *testing.T) {
	backend, router := testEnv(t, "")
	backend.Fail("licenses", errors.New("upstream down"))

	w := do(t, router, http.MethodGet, "/views/licenses")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	page := decodePage(t, w)
	if page.Status != view.StatusError || len(page.Errors) == 0 {
		t.Errorf("page = %+v", page)
	}

	if w := do(t, router, http.MethodGet, "/views/licenses/export"); w.Code != http.StatusBadGateway {
		t.Errorf("export with failed primary = %d, want 502", w.Code)
	}
}

func TestRefreshView(t *testing.T) {
	backend, router := testEnv(t, "")

	first := decodePage(t, do(t, router, http.MethodGet, "/views/licenses"))

	w := do(t, router, http.MethodPost, "/views/licenses/refresh")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RefreshResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Epoch <= first.Epoch {
		t.Errorf("refresh epoch %d did not advance past %d", resp.Epoch, first.Epoch)
	}
	if backend.Calls("licenses") != 2 {
		t.Errorf("licenses fetched %d times, want 2", backend.Calls("licenses"))
	}

	backend.Fail("licenses", errors.New("boom"))
	if w := do(t, router, http.MethodPost, "/views/licenses/refresh"); w.Code != http.StatusBadGateway {
		t.Errorf("failed refresh = %d, want 502", w.Code)
	}
}

func TestExportView(t *testing.T) {
	_, router := testEnv(t, "")

	w := do(t, router, http.MethodGet, "/views/licenses/export?sort=license_no&dir=asc")
	if w.Code != http.StatusOK {
		t.Fatalf("export = %d, body = %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "licenses-") {
		t.Errorf("content disposition = %q", cd)
	}

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want header + 3", len(rows))
	}
	if rows[1][0] != "L1" {
		t.Errorf("first data row = %v", rows[1])
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/views", nil)
	req.Header.Set("Authorization", "Bearer secret123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("authed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	if w := do(t, router, http.MethodGet, "/views"); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	req := httptest.NewRequest(http.MethodGet, "/views", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// SSE endpoint auth tests.

type blockingSSE struct{}

func (blockingSSE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	<-r.Context().Done()
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", blockingSSE{})

	if w := do(t, router, http.MethodGet, "/events"); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", blockingSSE{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	_, router := testEnv(t, "secret123")

	if w := do(t, router, http.MethodGet, "/views?access_token=secret123"); w.Code != http.StatusOK {
		t.Errorf("query token = %d, want 200", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/views?access_token=nope"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong query token = %d, want 401", w.Code)
	}
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		apperr.ErrInvalidQuery: http.StatusBadRequest,
		apperr.ErrUnknownView:  http.StatusNotFound,
		view.ErrPrimaryFailed:  http.StatusBadGateway,
		apperr.ErrNotLoaded:    http.StatusServiceUnavailable,
		errors.New("surprise"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusOf(fmt.Errorf("wrapped: %w", err)); got != want {
			t.Errorf("statusOf(%v) = %d, want %d", err, got, want)
		}
	}
}
