package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"reportline/internal/archive"
	"reportline/internal/cache"
	"reportline/internal/config"
	"reportline/internal/db"
	"reportline/internal/domain"
	"reportline/internal/engine"
	"reportline/internal/migrate"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatal(err)
	}
	repo := archive.Repo{DB: conn}
	if err := repo.SaveRun(context.Background(), domain.Run{
		ID: "run-1", Kind: "daily",
		WindowStart: "2025-06-08T17:00:00Z", WindowEnd: "2025-06-09T17:00:00Z",
		Body: "the report body", CreatedAt: "2025-06-10T01:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}

	e := engine.Engine{
		Cache:   cache.Disabled(),
		Archive: &repo,
		Config:  config.Default(),
		Now:     time.Now,
	}
	handler, err := New(Config{Engine: e, Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "reporter"},
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestHealthUnauthenticated(t *testing.T) {
	srv := newTestServer(t)
	res := get(t, srv.URL+"/v1/health", "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res := get(t, srv.URL+"/v1/runs", "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestBadTokenRejected(t *testing.T) {
	srv := newTestServer(t)
	res := get(t, srv.URL+"/v1/runs", signToken(t, "wrong-secret"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestListRuns(t *testing.T) {
	srv := newTestServer(t)
	res := get(t, srv.URL+"/v1/runs", signToken(t, testSecret))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var runs []domain.Run
	if err := json.NewDecoder(res.Body).Decode(&runs); err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != "run-1" {
		t.Fatalf("runs = %+v", runs)
	}
}

func TestGetRun(t *testing.T) {
	srv := newTestServer(t)
	res := get(t, srv.URL+"/v1/runs/run-1", signToken(t, testSecret))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var run domain.Run
	if err := json.NewDecoder(res.Body).Decode(&run); err != nil {
		t.Fatal(err)
	}
	if run.Body != "the report body" {
		t.Fatalf("run = %+v", run)
	}

	res = get(t, srv.URL+"/v1/runs/missing", signToken(t, testSecret))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := withPrincipal(context.Background(), Principal{Subject: "reporter", Roles: []string{"admin"}})
	p, ok := principalFromContext(ctx)
	if !ok || p.Subject != "reporter" || len(p.Roles) != 1 {
		t.Fatalf("principal = %+v, ok = %v", p, ok)
	}
	if _, ok := principalFromContext(context.Background()); ok {
		t.Fatal("bare context should carry no principal")
	}
}

func TestCacheStats(t *testing.T) {
	srv := newTestServer(t)
	res := get(t, srv.URL+"/v1/cache/stats", signToken(t, testSecret))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	var stats cache.Stats
	if err := json.NewDecoder(res.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Enabled {
		t.Fatal("disabled cache should report disabled")
	}
}
