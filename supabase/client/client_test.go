package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL, APIKey: "anon-key"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, srv
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Error("New() without URL succeeded, want error")
	}
	if _, err := New(Config{URL: "https://x.supabase.co"}); err == nil {
		t.Error("New() without APIKey succeeded, want error")
	}
}

func TestQuerySelect(t *testing.T) {
	var gotPath, gotQuery, gotAuth, gotKey, gotAccept string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("apikey")
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"id":"u1","display_name":"A"}`))
	})

	resp, err := c.From("profiles").
		Select("*").
		Eq("id", "u1").
		Single().
		WithToken("user-token").
		Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if gotPath != "/rest/v1/profiles" {
		t.Errorf("path = %q, want /rest/v1/profiles", gotPath)
	}
	if gotQuery != "id=eq.u1&select=%2A" {
		t.Errorf("query = %q, want id filter and select", gotQuery)
	}
	if gotAuth != "Bearer user-token" {
		t.Errorf("Authorization = %q, want the user token", gotAuth)
	}
	if gotKey != "anon-key" {
		t.Errorf("apikey = %q, want anon-key", gotKey)
	}
	if gotAccept != "application/vnd.pgrst.object+json" {
		t.Errorf("Accept = %q, want single-object accept", gotAccept)
	}

	var row struct {
		ID string `json:"id"`
	}
	if err := resp.JSON(&row); err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if row.ID != "u1" {
		t.Errorf("row.ID = %q, want u1", row.ID)
	}
}

func TestQueryAnonFallsBackToAPIKey(t *testing.T) {
	var gotAuth string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`[]`))
	})

	if _, err := c.From("requests").Select("id").Limit(1).Execute(context.Background()); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotAuth != "Bearer anon-key" {
		t.Errorf("Authorization = %q, want anon key bearer", gotAuth)
	}
}

func TestExecuteInsertUpsert(t *testing.T) {
	var gotMethod, gotPrefer, gotConflict string
	var gotBody map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPrefer = r.Header.Get("Prefer")
		gotConflict = r.Header.Get("On-Conflict")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id":"u1"}]`))
	})

	resp, err := c.From("profiles").
		Upsert("id").
		ExecuteInsert(context.Background(), map[string]any{"id": "u1", "role": "user"})
	if err != nil {
		t.Fatalf("ExecuteInsert() error = %v", err)
	}

	if gotMethod != http.MethodPost {
		t.Errorf("method = %q, want POST", gotMethod)
	}
	if gotPrefer != "resolution=merge-duplicates,return=representation" {
		t.Errorf("Prefer = %q, want merge-duplicates with representation", gotPrefer)
	}
	if gotConflict != "id" {
		t.Errorf("On-Conflict = %q, want id", gotConflict)
	}
	if gotBody["id"] != "u1" {
		t.Errorf("body = %v, want the row", gotBody)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", resp.StatusCode)
	}
}

func TestExecuteUpdateFiltersRows(t *testing.T) {
	var gotMethod, gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[{"id":"u1"}]`))
	})

	_, err := c.From("profiles").
		Eq("id", "u1").
		ExecuteUpdate(context.Background(), map[string]any{"has_onboarded": true})
	if err != nil {
		t.Fatalf("ExecuteUpdate() error = %v", err)
	}
	if gotMethod != http.MethodPatch {
		t.Errorf("method = %q, want PATCH", gotMethod)
	}
	if gotQuery != "id=eq.u1" {
		t.Errorf("query = %q, want id=eq.u1", gotQuery)
	}
}

func TestAuthRefreshToken(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/token" {
			t.Errorf("path = %q, want /auth/v1/token", r.URL.Path)
		}
		if got := r.URL.Query().Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "old-refresh" {
			t.Errorf("refresh_token = %q, want old-refresh", body["refresh_token"])
		}
		w.Write([]byte(`{
			"access_token": "new-access",
			"refresh_token": "new-refresh",
			"expires_in": 3600,
			"user": {"id": "u1", "email": "u1@example.com"}
		}`))
	})

	resp, err := c.Auth().RefreshToken(context.Background(), "old-refresh")
	if err != nil {
		t.Fatalf("RefreshToken() error = %v", err)
	}
	if resp.AccessToken != "new-access" || resp.RefreshToken != "new-refresh" {
		t.Errorf("tokens = (%q, %q), want rotated pair", resp.AccessToken, resp.RefreshToken)
	}
	if resp.User == nil || resp.User.ID != "u1" {
		t.Errorf("User = %+v, want u1", resp.User)
	}
}

func TestAuthRefreshTokenRejected(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	})

	if _, err := c.Auth().RefreshToken(context.Background(), "dead"); err == nil {
		t.Fatal("RefreshToken() error = nil, want rejection")
	}
}

func TestAuthGetUser(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer user-token" {
			t.Errorf("Authorization = %q, want user token", got)
		}
		w.Write([]byte(`{"id": "u1", "user_metadata": {"full_name": "Full Name"}}`))
	})

	user, err := c.Auth().GetUser(context.Background(), "user-token")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if user.UserMetadata["full_name"] != "Full Name" {
		t.Errorf("user_metadata = %v, want full_name", user.UserMetadata)
	}
}

func TestResponseError(t *testing.T) {
	tests := []struct {
		name    string
		resp    Response
		wantErr bool
	}{
		{"ok", Response{StatusCode: 200, Body: []byte(`[]`)}, false},
		{"message field", Response{StatusCode: 400, Body: []byte(`{"message":"bad"}`)}, true},
		{"msg field", Response{StatusCode: 401, Body: []byte(`{"msg":"expired"}`)}, true},
		{"opaque body", Response{StatusCode: 500, Body: []byte(`nope`)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.resp.Error()
			if (err != nil) != tt.wantErr {
				t.Errorf("Error() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
