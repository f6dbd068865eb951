package lyrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trackfetch/internal/track"
)

func TestFetch(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantSynced string
		wantPlain  string
		wantErr    bool
	}{
		{
			name:   "synced and plain lyrics",
			status: http.StatusOK,
			body: `{
				"syncedLyrics": "[00:12.00]Hello world",
				"plainLyrics": "Hello world"
			}`,
			wantSynced: "[00:12.00]Hello world",
			wantPlain:  "Hello world",
		},
		{
			name:   "plain only",
			status: http.StatusOK,
			body: `{
				"syncedLyrics": "",
				"plainLyrics": "Just plain text"
			}`,
			wantPlain: "Just plain text",
		},
		{
			name:   "no lyrics",
			status: http.StatusOK,
			body:   `{"syncedLyrics": "", "plainLyrics": ""}`,
		},
		{
			name:   "not found",
			status: http.StatusNotFound,
			body:   `{"code":404,"name":"NotFoundError","message":"Failed to find specified track"}`,
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `internal server error`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("User-Agent") != "trackfetch/1.0" {
					t.Errorf("unexpected User-Agent: %s", r.Header.Get("User-Agent"))
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient()
			c.apiURL = srv.URL

			result, err := c.Fetch(context.Background(), track.Descriptor{Artist: "Artist", Title: "Title", Album: "Album"})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Synced != tt.wantSynced {
				t.Errorf("Synced = %q, want %q", result.Synced, tt.wantSynced)
			}
			if result.Plain != tt.wantPlain {
				t.Errorf("Plain = %q, want %q", result.Plain, tt.wantPlain)
			}
		})
	}
}

func TestFetchQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if got := q.Get("artist_name"); got != "The Beatles" {
			t.Errorf("artist_name = %q, want %q", got, "The Beatles")
		}
		if got := q.Get("track_name"); got != "Let It Be" {
			t.Errorf("track_name = %q, want %q", got, "Let It Be")
		}
		if got := q.Get("album_name"); got != "Let It Be" {
			t.Errorf("album_name = %q, want %q", got, "Let It Be")
		}
		if got := q.Get("duration"); got != "243" {
			t.Errorf("duration = %q, want %q", got, "243")
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	c.apiURL = srv.URL

	c.Fetch(context.Background(), track.Descriptor{Artist: "The Beatles", Title: "Let It Be", Album: "Let It Be", Duration: 243400 * time.Millisecond})
}

func TestFetchOmitsUnknownFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Has("album_name") || q.Has("duration") {
			t.Errorf("unexpected params: %s", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient()
	c.apiURL = srv.URL

	result, err := c.Fetch(context.Background(), track.Descriptor{Artist: "Men I Trust", Title: "Lauren"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Empty() {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestFetchRetriesTransientError(t *testing.T) {
	c := NewClient()
	c.apiURL = "http://127.0.0.1:1/api/get"
	c.retryDelay = time.Millisecond

	if _, err := c.Fetch(context.Background(), track.Descriptor{Artist: "a", Title: "b"}); err == nil {
		t.Fatal("expected error for unreachable server")
	}
}

func TestResultBest(t *testing.T) {
	if got := (Result{Synced: "[00:01.00]x", Plain: "x"}).Best(); got != "[00:01.00]x" {
		t.Errorf("Best() = %q, want synced lyrics", got)
	}
	if got := (Result{Plain: "x"}).Best(); got != "x" {
		t.Errorf("Best() = %q, want plain lyrics", got)
	}
}
