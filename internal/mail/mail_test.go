package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	var got Message
	var auth, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		auth = r.Header.Get("Authorization")
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"id":"msg_123"}`)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "re_key", Timeout: time.Second})
	msg := Message{
		From:    "Happy Paws <reminders@vetrefill.com>",
		To:      []string{"owner@example.org"},
		Subject: "Reminder",
		HTML:    "<p>hi</p>",
	}
	id, err := c.Send(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "msg_123", id)
	assert.Equal(t, "Bearer re_key", auth)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, msg, got)
}

func TestSendFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"domain not verified"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(Config{Endpoint: srv.URL, APIKey: "re_key", Timeout: time.Second})
	_, err := c.Send(context.Background(), Message{To: []string{"a@example.org"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "domain not verified")

	_, err = c.Send(context.Background(), Message{})
	assert.Error(t, err)

	_, err = NewClient(Config{Endpoint: srv.URL}).Send(context.Background(), Message{To: []string{"a@example.org"}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSendEmptySuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	id, err := NewClient(Config{Endpoint: srv.URL, APIKey: "k", Timeout: time.Second}).
		Send(context.Background(), Message{To: []string{"a@example.org"}})
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestSendAcceptedWithUnreadableBody(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "queued")
	}))
	defer srv.Close()

	id, err := NewClient(Config{Endpoint: srv.URL, APIKey: "k", Timeout: time.Second}).
		Send(context.Background(), Message{To: []string{"a@example.org"}})
	require.NoError(t, err)
	assert.Empty(t, id)
	assert.Equal(t, 1, calls)
}
