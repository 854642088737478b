package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		cfg    Config
		method string
		path   string
		header string
		want   int
	}{
		{"disabled put", Config{}, http.MethodPut, "/api/v1/ci/registry", "", http.StatusNoContent},
		{"get is public", Config{Enabled: true, Token: "s3cret"}, http.MethodGet, "/api/v1/ci/registry", "", http.StatusNoContent},
		{"batch post is public", Config{Enabled: true, Token: "s3cret"}, http.MethodPost, "/api/v1/ci/locate/batch", "", http.StatusNoContent},
		{"put without token", Config{Enabled: true, Token: "s3cret"}, http.MethodPut, "/api/v1/ci/registry", "", http.StatusUnauthorized},
		{"put wrong token", Config{Enabled: true, Token: "s3cret"}, http.MethodPut, "/api/v1/ci/registry", "Bearer nope", http.StatusUnauthorized},
		{"put without scheme", Config{Enabled: true, Token: "s3cret"}, http.MethodPut, "/api/v1/ci/registry", "s3cret", http.StatusUnauthorized},
		{"put with token", Config{Enabled: true, Token: "s3cret"}, http.MethodPut, "/api/v1/ci/registry", "Bearer s3cret", http.StatusNoContent},
		{"probe exempt", Config{Enabled: true, Token: "s3cret"}, http.MethodDelete, "/healthz", "", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			Middleware(tt.cfg)(ok).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}
