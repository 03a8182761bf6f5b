package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServers(t *testing.T, apiHandler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse token form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "client_credentials" {
			t.Errorf("unexpected grant_type: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token": "test-token", "token_type": "Bearer", "expires_in": 3600}`))
	}))
	t.Cleanup(tokenSrv.Close)

	apiSrv := httptest.NewServer(apiHandler)
	t.Cleanup(apiSrv.Close)

	c := NewClient("tenant", "client-id", "client-secret",
		WithBaseURL(apiSrv.URL),
		WithTokenURL(tokenSrv.URL))
	return c, apiSrv
}

func TestClientGet_SendsBearerToken(t *testing.T) {
	c, _ := newTestServers(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		if r.URL.Path != "/users" {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"value": []}`))
	})

	raw, err := c.Get(context.Background(), "/users")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	var page struct {
		Value []json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestClientGet_FullURLBypassesBase(t *testing.T) {
	c, apiSrv := newTestServers(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1.0/users/delta" {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{}`))
	})

	// Simulates following an @odata.nextLink.
	if _, err := c.Get(context.Background(), apiSrv.URL+"/v1.0/users/delta?$skiptoken=abc"); err != nil {
		t.Fatalf("Get error: %v", err)
	}
}

func TestClientPost_SerialisesBody(t *testing.T) {
	c, _ := newTestServers(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected content type: %q", got)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		if body["changeType"] != "created" {
			t.Errorf("unexpected body: %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": "sub-1"}`))
	})

	raw, err := c.Post(context.Background(), "/subscriptions", map[string]string{"changeType": "created"})
	if err != nil {
		t.Fatalf("Post error: %v", err)
	}
	if string(raw) != `{"id": "sub-1"}` {
		t.Fatalf("unexpected response: %s", raw)
	}
}

func TestClient_Non2xxIsUpstreamError(t *testing.T) {
	c, _ := newTestServers(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": {"code": "Authorization_RequestDenied"}}`))
	})

	_, err := c.Get(context.Background(), "/users")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusForbidden {
		t.Errorf("unexpected status: %d", upstream.Status)
	}
	if upstream.Body == "" {
		t.Errorf("expected response body captured")
	}
}

func TestClientDelete_Tolerates404(t *testing.T) {
	c, _ := newTestServers(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method: %q", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	})

	if err := c.Delete(context.Background(), "/subscriptions/gone"); err != nil {
		t.Fatalf("Delete of missing resource must succeed, got %v", err)
	}
}

func TestClient_MissingCredentials(t *testing.T) {
	c := NewClient("tenant", "", "")
	if _, err := c.Get(context.Background(), "/users"); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("expected ErrMissingCredentials, got %v", err)
	}
}
