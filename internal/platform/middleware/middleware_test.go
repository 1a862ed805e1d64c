package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantAllow   string
		wantHeaders bool
		wantStatus  int
	}{
		{"wildcard echoes origin", []string{"*"}, http.MethodGet, "https://app.example.com", "https://app.example.com", true, http.StatusOK},
		{"no origin gets no headers", []string{"*"}, http.MethodGet, "", "", false, http.StatusOK},
		{"listed origin", []string{"https://app.example.com"}, http.MethodGet, "https://app.example.com", "https://app.example.com", true, http.StatusOK},
		{"unlisted origin", []string{"https://app.example.com"}, http.MethodGet, "https://evil.example.com", "", false, http.StatusOK},
		{"preflight", []string{"*"}, http.MethodOptions, "https://app.example.com", "https://app.example.com", true, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/approvals", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()

			CORS(tt.origins)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			_, present := rec.Header()["Access-Control-Allow-Origin"]
			assert.Equal(t, tt.wantHeaders, present)
			assert.Equal(t, tt.wantAllow, rec.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}
