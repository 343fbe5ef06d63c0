package warden

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func apiRequest(t *testing.T, h http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPIHistory(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)
	s.appendHistory(context.Background(), ClosedHistoryEntry{URL: "https://example.com/h", Title: "H", ClosedAt: time.Now()})

	s.incrementBadge(context.Background())

	rec := apiRequest(t, s.Router(""), http.MethodGet, "/api/v1/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Entries []ClosedHistoryEntry `json:"entries"`
		Badge   int                  `json:"badge"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Entries) != 1 || body.Entries[0].URL != "https://example.com/h" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
	if body.Badge != 1 {
		t.Fatalf("expected badge 1, got %d", body.Badge)
	}
}

func TestAPIClearHistory(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)
	s.appendHistory(context.Background(), ClosedHistoryEntry{URL: "https://example.com/h"})

	if rec := apiRequest(t, s.Router(""), http.MethodDelete, "/api/v1/history", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	hist, _ := s.History(context.Background())
	if len(hist) != 0 {
		t.Fatalf("expected empty history, got %v", hist)
	}
}

func TestAPIRestoreBadIndex(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)

	if rec := apiRequest(t, s.Router(""), http.MethodPost, "/api/v1/history/7/restore", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := apiRequest(t, s.Router(""), http.MethodPost, "/api/v1/history/x/restore", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAPICheckAccepted(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)

	if rec := apiRequest(t, s.Router(""), http.MethodPost, "/api/v1/check", nil); rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
}

func TestAPIBadgeReset(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)
	ctx := context.Background()
	s.incrementBadge(ctx)

	r := s.Router("")
	if rec := apiRequest(t, r, http.MethodPost, "/api/v1/badge/reset", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	rec := apiRequest(t, r, http.MethodGet, "/api/v1/badge", nil)
	if rec.Body.String() != "{\"count\":0}\n" {
		t.Fatalf("expected zero badge, got %s", rec.Body.String())
	}
}

func TestAPIUnknownNotification(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)

	if rec := apiRequest(t, s.Router(""), http.MethodPost, "/api/v1/notifications/not_missing/undo", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := apiRequest(t, s.Router(""), http.MethodPost, "/api/v1/notifications/not_missing/dismiss", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAPISettingsRoundTrip(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)
	r := s.Router("")

	body := []byte(`{"threshold": {"hours": 2, "minutes": 30}}`)
	if rec := apiRequest(t, r, http.MethodPut, "/api/v1/settings", body); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec := apiRequest(t, r, http.MethodGet, "/api/v1/settings", nil)
	var st Settings
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Threshold != (Threshold{Hours: 2, Minutes: 30}) {
		t.Fatalf("unexpected settings %+v", st)
	}
}

func TestAPISettingsRejectsBadThreshold(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)

	for _, body := range []string{
		`{"threshold": {"hours": -1, "minutes": 0}}`,
		`{"threshold": {"hours": 0, "minutes": 600}}`,
	} {
		if rec := apiRequest(t, s.Router(""), http.MethodPut, "/api/v1/settings", []byte(body)); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", body, rec.Code)
		}
	}
}

func TestAPIBasicAuth(t *testing.T) {
	fake := newFakeHost()
	s := newTestService(t, fake)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	r := s.Router(string(hash))

	if rec := apiRequest(t, r, http.MethodGet, "/api/v1/history", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	req.SetBasicAuth("anyone", "wrong")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad password, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/history", nil)
	req.SetBasicAuth("anyone", "hunter2")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with good password, got %d", rec.Code)
	}
}
