package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// idpFixture fakes the IdP token and admin group endpoints.
type idpFixture struct {
	tokens       atomic.Int32
	groupCalls   atomic.Int32
	rejectTokens []string
	groups       []string
}

func (f *idpFixture) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/iot/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", got)
		}
		if got := r.PostForm.Get("client_id"); got != "console" {
			t.Errorf("client_id = %q, want console", got)
		}
		n := f.tokens.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": token(n)})
	})
	mux.HandleFunc("GET /admin/realms/iot/groups", func(w http.ResponseWriter, r *http.Request) {
		f.groupCalls.Add(1)
		bearer := r.Header.Get("Authorization")
		for _, rejected := range f.rejectTokens {
			if bearer == "Bearer "+rejected {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}
		max := r.URL.Query().Get("max")
		first := r.URL.Query().Get("first")
		if max == "" || first == "" {
			t.Errorf("missing paging params: max=%q first=%q", max, first)
		}
		var body []map[string]any
		for _, name := range f.groups {
			body = append(body, map[string]any{"id": "g-" + name, "name": name, "path": "/" + name})
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	return httptest.NewServer(mux)
}

func token(n int32) string {
	return map[int32]string{1: "tok-one", 2: "tok-two"}[n]
}

func newTestClient(ts *httptest.Server) *GroupsClient {
	return NewGroupsClient(
		ts.Client(),
		ts.URL+"/realms/iot",
		ts.URL+"/admin/realms/iot",
		"console",
		"secret",
	)
}

func TestGroups_FetchesTokenOnce(t *testing.T) {
	fixture := &idpFixture{groups: []string{"acme", "big-co"}}
	ts := fixture.server(t)
	defer ts.Close()
	client := newTestClient(ts)

	for i := 0; i < 3; i++ {
		names, _, err := client.Groups(context.Background(), "", 0, 20)
		if err != nil {
			t.Fatalf("Groups() error = %v", err)
		}
		if len(names) != 2 || names[0] != "acme" {
			t.Fatalf("names = %v", names)
		}
	}
	if got := fixture.tokens.Load(); got != 1 {
		t.Errorf("token fetches = %d, want 1 (cached)", got)
	}
}

func TestGroups_RefreshesExpiredTokenOnce(t *testing.T) {
	fixture := &idpFixture{groups: []string{"acme"}, rejectTokens: []string{"tok-one"}}
	ts := fixture.server(t)
	defer ts.Close()
	client := newTestClient(ts)

	// Prime the cache with the token the API will reject.
	if _, _, err := client.serviceToken(context.Background(), false); err != nil {
		t.Fatalf("serviceToken() error = %v", err)
	}

	names, _, err := client.Groups(context.Background(), "", 0, 20)
	if err != nil {
		t.Fatalf("Groups() error = %v", err)
	}
	if len(names) != 1 {
		t.Errorf("names = %v", names)
	}
	if got := fixture.tokens.Load(); got != 2 {
		t.Errorf("token fetches = %d, want 2 (refresh after 401)", got)
	}
	if got := fixture.groupCalls.Load(); got != 2 {
		t.Errorf("group calls = %d, want 2 (one rejected, one retried)", got)
	}
}

func TestGroups_NextPageOnFullPage(t *testing.T) {
	fixture := &idpFixture{groups: []string{"a", "b", "c"}}
	ts := fixture.server(t)
	defer ts.Close()
	client := newTestClient(ts)

	_, nextPage, err := client.Groups(context.Background(), "", 1, 3)
	if err != nil {
		t.Fatalf("Groups() error = %v", err)
	}
	if nextPage == nil || *nextPage != 2 {
		t.Errorf("nextPage = %v, want 2", nextPage)
	}

	_, nextPage, err = client.Groups(context.Background(), "", 1, 10)
	if err != nil {
		t.Fatalf("Groups() error = %v", err)
	}
	if nextPage != nil {
		t.Errorf("nextPage = %v, want nil for short page", *nextPage)
	}
}

func TestGroups_UpstreamErrorSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer ts.Close()
	client := newTestClient(ts)

	if _, _, err := client.Groups(context.Background(), "", 0, 20); err == nil {
		t.Error("Groups() error = nil, want upstream failure")
	}
}
