package scrape

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Scrape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://www.homegate.ch/rent/1", req.URL)
		assert.Equal(t, []string{"markdown", "html"}, req.Formats)

		_, _ = w.Write([]byte(`{"success":true,"data":{"markdown":"# Loft","html":"<h1>Loft</h1>","metadata":{"title":"Loft in Bern","description":"3.5 rooms"}}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "key"})
	page, err := client.Scrape(context.Background(), "https://www.homegate.ch/rent/1")
	require.NoError(t, err)
	assert.Equal(t, "# Loft", page.Markdown)
	assert.Equal(t, "<h1>Loft</h1>", page.HTML)
	assert.Equal(t, "Loft in Bern", page.Title)
	assert.Equal(t, "3.5 rooms", page.Description)
}

func TestClient_ScrapeUnsuccessful(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"blocked"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.Scrape(context.Background(), "https://example.com")
	assert.ErrorIs(t, err, ErrUnsuccessful)
	assert.Contains(t, err.Error(), "blocked")
}

func TestClient_ScrapeStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.Scrape(context.Background(), "https://example.com")

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.False(t, statusErr.Temporary())
}

func TestStatusError_Temporary(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{http.StatusBadRequest, false},
		{http.StatusForbidden, false},
		{http.StatusNotFound, false},
		{http.StatusRequestTimeout, true},
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}

	for _, tt := range tests {
		err := &StatusError{StatusCode: tt.status}
		assert.Equal(t, tt.want, err.Temporary(), "status %d", tt.status)
	}
}
