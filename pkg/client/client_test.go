package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/registry"
	"github.com/cuemby/granary/pkg/types"
)

func TestPublishFramesEnvelope(t *testing.T) {
	var gotAuth string
	var gotUpload *registry.UploadData
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/api/v1/crates/new", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		payload := make([]byte, r.ContentLength)
		_, err := io.ReadFull(r.Body, payload)
		require.NoError(t, err)
		gotUpload, err = registry.ParseEnvelope(payload)
		require.NoError(t, err)

		_ = json.NewEncoder(w).Encode(types.UploadResult{})
	}))
	defer server.Close()

	c := New(server.URL, "sekrit")
	_, err := c.Publish(context.Background(), &types.CrateMetadata{Name: "foo", Vers: "0.1.0"}, []byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, "Bearer sekrit", gotAuth)
	require.NotNil(t, gotUpload)
	assert.Equal(t, "foo", gotUpload.Metadata.Name)
	assert.Equal(t, []byte("hello"), gotUpload.Content)
}

func TestErrorEnvelopeMapsToKind(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(apierr.Envelope(apierr.Conflict("foo 0.1.0 already exists")))
	}))
	defer server.Close()

	c := New(server.URL, "sekrit")
	_, err := c.Publish(context.Background(), &types.CrateMetadata{Name: "foo", Vers: "0.1.0"}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apierr.Conflict(""))
	assert.Contains(t, err.Error(), "already exists")
}

func TestDownloadURLDoesNotFollowRedirect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://blobs.example.com/crates/foo/foo-0.1.0.crate", http.StatusFound)
	}))
	defer server.Close()

	c := New(server.URL, "sekrit")
	location, err := c.DownloadURL(context.Background(), "foo", "0.1.0")
	require.NoError(t, err)
	assert.Equal(t, "https://blobs.example.com/crates/foo/foo-0.1.0.crate", location)
}

func TestYank(t *testing.T) {
	var gotMethod, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		_ = json.NewEncoder(w).Encode(types.YesNoResult{OK: true})
	}))
	defer server.Close()

	c := New(server.URL, "sekrit")
	require.NoError(t, c.Yank(context.Background(), "foo", "0.1.0"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/api/v1/crates/foo/0.1.0/yank", gotPath)
}
