package freshdesk

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

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{Domain: srv.URL, APIKey: "key"}, srv.Client(), nil)
	require.NoError(t, err)
	return c
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{APIKey: "k"}, nil, nil)
	assert.Error(t, err)
	_, err = NewClient(Config{Domain: "acme.freshdesk.com"}, nil, nil)
	assert.Error(t, err)

	c, err := NewClient(Config{Domain: "https://acme.freshdesk.com/a/tickets", APIKey: " k "}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.freshdesk.com/api/v2", c.baseURL)
	assert.Equal(t, "k", c.apiKey)
}

func TestFetchTicket(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/tickets/42", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "key", user)
		assert.Equal(t, "X", pass)
		_, _ = w.Write([]byte(`{
			"id": 42,
			"subject": "Leak",
			"description_text": "It leaks",
			"priority": 2,
			"type": null,
			"tags": ["warranty"],
			"requester": {"name": "", "email": "jane@example.com"},
			"attachments": [
				{"content_type": "image/jpeg", "attachment_url": "https://cdn/a.jpg"},
				{"content_type": "application/pdf", "attachment_url": "https://cdn/b.pdf"}
			],
			"created_at": "2025-01-02T03:04:05Z"
		}`))
	})

	tk, err := c.FetchTicket(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", tk.ID)
	assert.Equal(t, "It leaks", tk.Body)
	assert.Equal(t, "Unknown", tk.RequesterName)
	assert.Equal(t, "jane@example.com", tk.RequesterEmail)
	assert.Equal(t, []string{"https://cdn/a.jpg"}, tk.Images)
	assert.Equal(t, []string{"warranty"}, tk.Tags)
	assert.Equal(t, 2025, tk.CreatedAt.Year())
}

func TestFetchTicket_Errors(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"not_found"}`))
	})

	_, err := c.FetchTicket(context.Background(), "42")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)

	_, err = c.FetchTicket(context.Background(), "abc")
	assert.ErrorContains(t, err, "invalid ticket id")
}

func TestPostNoteAndUpdateTags(t *testing.T) {
	var got []map[string]any
	var methods []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body)
		methods = append(methods, r.Method+" "+r.URL.Path)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, c.PostNote(context.Background(), "7", "hello", true))
	require.NoError(t, c.UpdateTags(context.Background(), "7", nil))

	assert.Equal(t, []string{"POST /api/v2/tickets/7/notes", "PUT /api/v2/tickets/7"}, methods)
	assert.Equal(t, map[string]any{"body": "hello", "private": true}, got[0])
	assert.Equal(t, map[string]any{"tags": []any{}}, got[1])
}
