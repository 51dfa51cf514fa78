package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh00ty/cloud-rollout/internal/models"
)

func TestLatestReturnsFingerprint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"fingerprint":"sha256:ab12"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	fp, err := client.Latest(context.Background(), "billing-releases")
	require.NoError(t, err)
	assert.Equal(t, models.Fingerprint("sha256:ab12"), fp)
	assert.Equal(t, "/v1/artifacts/billing-releases/latest", gotPath)
}

func TestLatestUnknownArtifact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, time.Second)
	require.NoError(t, err)

	_, err = client.Latest(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestLatestRejectsBadResponses(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"empty fingerprint", http.StatusOK, `{"fingerprint":""}`},
		{"garbage body", http.StatusOK, `not json`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client, err := NewClient(srv.URL, time.Second)
			require.NoError(t, err)

			_, err = client.Latest(context.Background(), "billing-releases")
			require.Error(t, err)
			require.NotErrorIs(t, err, ErrArtifactNotFound)
		})
	}
}

func TestNewClientValidatesURL(t *testing.T) {
	_, err := NewClient("not-a-url", time.Second)
	require.Error(t, err)

	_, err = NewClient("http://registry.internal:9001", 0)
	require.NoError(t, err)
}

func TestLatestHonorsContext(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	client, err := NewClient(srv.URL, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = client.Latest(ctx, "billing-releases")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}