package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Default upstream paths served by the fake admin API
const (
	PaymentsPath   = "/api/v1/admin/payments"
	UsersPath      = "/api/v1/admin/users"
	UserDetailPath = "/api/v1/auth"
)

// UpstreamToken is the bearer token the fake upstream accepts by default
const UpstreamToken = "test-token"

// Upstream is a fake admin API serving paged collections and user details
type Upstream struct {
	Server *httptest.Server

	mu          sync.Mutex
	token       string
	payments    []map[string]any
	users       []map[string]any
	details     map[string]map[string]any
	paymentsKey string
	usersKey    string
	failures    map[string]int
	failDetails map[string]int
	requests    []string
}

// NewUpstream starts a fake upstream that is closed when the test ends
func NewUpstream(t *testing.T) *Upstream {
	t.Helper()

	u := &Upstream{
		token:       UpstreamToken,
		details:     make(map[string]map[string]any),
		paymentsKey: "payments",
		usersKey:    "users",
		failures:    make(map[string]int),
		failDetails: make(map[string]int),
	}
	u.Server = httptest.NewServer(http.HandlerFunc(u.serve))
	t.Cleanup(u.Server.Close)
	return u
}

// URL returns the base URL of the fake upstream
func (u *Upstream) URL() string {
	return u.Server.URL
}

// SetToken changes the accepted token; empty disables the check
func (u *Upstream) SetToken(token string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.token = token
}

// SetPayments replaces the payments collection
func (u *Upstream) SetPayments(records []map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.payments = records
}

// SetUsers replaces the users collection
func (u *Upstream) SetUsers(records []map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users = records
}

// SetDetail registers the detail record returned for a user id
func (u *Upstream) SetDetail(id string, record map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.details[id] = record
}

// SetEnvelopeKeys changes the keys the collections are wrapped in
func (u *Upstream) SetEnvelopeKeys(paymentsKey, usersKey string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paymentsKey = paymentsKey
	u.usersKey = usersKey
}

// FailPath makes every request to path answer with status
func (u *Upstream) FailPath(path string, status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failures[path] = status
}

// FailDetail makes the detail lookup of one user answer with status
func (u *Upstream) FailDetail(id string, status int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failDetails[id] = status
}

// Requests returns the request URIs received so far whose path starts with prefix
func (u *Upstream) Requests(prefix string) []string {
	u.mu.Lock()
	defer u.mu.Unlock()

	var out []string
	for _, r := range u.requests {
		if strings.HasPrefix(r, prefix) {
			out = append(out, r)
		}
	}
	return out
}

func (u *Upstream) serve(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.requests = append(u.requests, r.URL.RequestURI())
	token := u.token
	failure, failing := u.failures[r.URL.Path]
	u.mu.Unlock()

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "not authenticated"})
		return
	}
	if failing {
		writeJSON(w, failure, map[string]any{"detail": "upstream failure"})
		return
	}

	switch {
	case r.URL.Path == PaymentsPath:
		u.mu.Lock()
		records, key := u.payments, u.paymentsKey
		u.mu.Unlock()
		u.servePage(w, r, records, key)
	case r.URL.Path == UsersPath:
		u.mu.Lock()
		records, key := u.users, u.usersKey
		u.mu.Unlock()
		u.servePage(w, r, records, key)
	case strings.HasPrefix(r.URL.Path, UserDetailPath+"/"):
		id := strings.TrimPrefix(r.URL.Path, UserDetailPath+"/")
		u.mu.Lock()
		record, ok := u.details[id]
		status, fail := u.failDetails[id]
		u.mu.Unlock()
		switch {
		case fail:
			writeJSON(w, status, map[string]any{"detail": "detail failure"})
		case !ok:
			writeJSON(w, http.StatusNotFound, map[string]any{"detail": "user not found"})
		default:
			writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"user": record}})
		}
	default:
		http.NotFound(w, r)
	}
}

func (u *Upstream) servePage(w http.ResponseWriter, r *http.Request, records []map[string]any, key string) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 100
	}

	start := (page - 1) * limit
	items := []map[string]any{}
	if start < len(records) {
		end := start + limit
		if end > len(records) {
			end = len(records)
		}
		items = records[start:end]
	}

	if key == "" {
		writeJSON(w, http.StatusOK, items)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{key: items, "total": len(records)})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// PaymentRecords builds n payments with ids 1..n. Payment i belongs to user
// ((i-1) % users)+1, costs 100*i and was created i hours after start.
func PaymentRecords(n, users int, start time.Time) []map[string]any {
	if users < 1 {
		users = 1
	}
	out := make([]map[string]any, n)
	for i := 1; i <= n; i++ {
		out[i-1] = map[string]any{
			"id":          i,
			"user_id":     ((i - 1) % users) + 1,
			"amount":      100 * i,
			"status":      "success",
			"description": "Пополнение баланса",
			"created_at":  start.Add(time.Duration(i) * time.Hour).Format(time.RFC3339),
		}
	}
	return out
}

// UserRecords builds n users with ids 1..n registered one day apart from start
func UserRecords(n int, start time.Time) []map[string]any {
	out := make([]map[string]any, n)
	for i := 1; i <= n; i++ {
		out[i-1] = map[string]any{
			"id":         i,
			"name":       fmt.Sprintf("User %d", i),
			"email":      fmt.Sprintf("user%d@example.com", i),
			"phone":      fmt.Sprintf("+7900000%04d", i),
			"balance":    fmt.Sprintf("%d.50", i*10),
			"tariff_id":  i % 3,
			"is_active":  true,
			"created_at": start.Add(time.Duration(i) * 24 * time.Hour).Format(time.RFC3339),
		}
	}
	return out
}
