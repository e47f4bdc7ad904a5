package metaadapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGraphTokenExchangerParsesSuccessResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("code"); got != "auth-code" {
			t.Errorf("code = %q, want auth-code", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"longlivedtoken","user_id":"act_42"}`))
	}))
	defer srv.Close()

	ex := NewGraphTokenExchanger("app-id", "app-secret", "https://app.example/callback")
	ex.BaseURL = srv.URL

	accountID, token, err := ex.Exchange(context.Background(), "auth-code")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if accountID != "act_42" || token != "longlivedtoken" {
		t.Fatalf("got (%q, %q), want (act_42, longlivedtoken)", accountID, token)
	}
}

func TestGraphTokenExchangerRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	ex := NewGraphTokenExchanger("app-id", "app-secret", "https://app.example/callback")
	ex.BaseURL = srv.URL

	if _, _, err := ex.Exchange(context.Background(), "bad-code"); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}
