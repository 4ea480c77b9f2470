package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/pihome/internal/shared"
)

func TestSpotifyService(t *testing.T) {
	t.Run("NewSpotifyService", func(t *testing.T) {
		t.Run("With Valid Credentials", func(t *testing.T) {
			credentials := map[string]string{
				"client_id":     "test_client_id",
				"client_secret": "test_client_secret",
				"redirect_uri":  "http://pi.local/callback",
			}

			srv, err := NewSpotifyService(credentials)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if srv == nil {
				t.Fatal("expected service to be created")
			}

			if srv.Name() != "Spotify" {
				t.Errorf("expected service name 'Spotify', got %s", srv.Name())
			}
			if srv.config.RedirectURL != "http://pi.local/callback" {
				t.Errorf("expected configured redirect URI, got %s", srv.config.RedirectURL)
			}
		})

		t.Run("Missing Client ID", func(t *testing.T) {
			credentials := map[string]string{
				"client_secret": "test_client_secret",
			}

			_, err := NewSpotifyService(credentials)
			if err == nil {
				t.Error("expected error for missing client_id")
			}
		})

		t.Run("Missing Client Secret", func(t *testing.T) {
			credentials := map[string]string{
				"client_id": "test_client_id",
			}

			_, err := NewSpotifyService(credentials)
			if err == nil {
				t.Error("expected error for missing client_secret")
			}
		})

		t.Run("Default Redirect URI", func(t *testing.T) {
			credentials := map[string]string{
				"client_id":     "test_client_id",
				"client_secret": "test_client_secret",
			}

			srv, err := NewSpotifyService(credentials)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if srv.config.RedirectURL != "http://localhost:8080/callback" {
				t.Errorf("expected default redirect URI, got %s", srv.config.RedirectURL)
			}
		})
	})

	t.Run("Get AuthURL", func(t *testing.T) {
		credentials := map[string]string{
			"client_id":     "test_client_id",
			"client_secret": "test_client_secret",
		}

		srv, err := NewSpotifyService(credentials)
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		authURL := srv.GetAuthURL("test_state")
		if authURL == "" {
			t.Error("expected auth URL to be generated")
		}

		if !strings.Contains(authURL, "accounts.spotify.com") {
			t.Error("auth URL should contain Spotify domain")
		}
		if !strings.Contains(authURL, "test_client_id") {
			t.Error("auth URL should contain client_id")
		}
		if !strings.Contains(authURL, "test_state") {
			t.Error("auth URL should contain state")
		}
	})

	t.Run("Authenticate", func(t *testing.T) {
		credentials := map[string]string{
			"client_id":     "test_client_id",
			"client_secret": "test_client_secret",
		}

		srv, err := NewSpotifyService(credentials)
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		t.Run("WithAccessToken", func(t *testing.T) {
			authCreds := map[string]string{
				"access_token": "test_access_token",
			}

			err := srv.Authenticate(context.Background(), authCreds)
			if err != nil {
				t.Errorf("expected no error with access token, got %v", err)
			}

			if srv.token == nil {
				t.Error("expected token to be set")
			}

			if srv.token.AccessToken != "test_access_token" {
				t.Errorf("expected access token to be 'test_access_token', got %s", srv.token.AccessToken)
			}
		})

		t.Run("Missing Credentials", func(t *testing.T) {
			authCreds := map[string]string{}

			err := srv.Authenticate(context.Background(), authCreds)
			if err == nil {
				t.Error("expected error for missing credentials")
			}
		})
	})

	t.Run("MusicPlayer Interface", func(t *testing.T) {
		credentials := map[string]string{
			"client_id":     "test_client_id",
			"client_secret": "test_client_secret",
		}

		srv, err := NewSpotifyService(credentials)
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		var _ MusicPlayer = srv
	})

	t.Run("Requests Before Authentication", func(t *testing.T) {
		srv, err := NewSpotifyService(map[string]string{"client_id": "id", "client_secret": "secret"})
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		if _, err := srv.Devices(context.Background()); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}
	})

	t.Run("SetTokenRefreshCallback", func(t *testing.T) {
		credentials := map[string]string{
			"client_id":     "test_client_id",
			"client_secret": "test_client_secret",
		}

		srv, err := NewSpotifyService(credentials)
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		t.Run("sets callback successfully", func(t *testing.T) {
			srv.SetTokenRefreshCallback(func(token *oauth2.Token) {
				// Callback set for testing
			})

			if srv.onTokenRefresh == nil {
				t.Error("expected callback to be set")
			}
		})

		t.Run("can set nil callback", func(t *testing.T) {
			srv.SetTokenRefreshCallback(nil)
			if srv.onTokenRefresh != nil {
				t.Error("expected callback to be nil")
			}
		})

		t.Run("callback can be replaced", func(t *testing.T) {
			srv.SetTokenRefreshCallback(func(token *oauth2.Token) {
				// First callback
			})

			srv.SetTokenRefreshCallback(func(token *oauth2.Token) {
				// Second callback
			})

			if srv.onTokenRefresh == nil {
				t.Error("expected callback to be set")
			}
		})
	})

	t.Run("refreshableTokenSource", func(t *testing.T) {
		t.Run("calls callback on first token fetch", func(t *testing.T) {
			callbackCalled := false
			var capturedToken *oauth2.Token

			mockSource := &mockTokenSource{
				token: &oauth2.Token{AccessToken: "test_token"},
			}

			source := &refreshableTokenSource{
				source: mockSource,
				callback: func(token *oauth2.Token) {
					callbackCalled = true
					capturedToken = token
				},
			}

			token, err := source.Token()
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if !callbackCalled {
				t.Error("expected callback to be called on first fetch")
			}
			if capturedToken == nil {
				t.Error("expected token to be captured")
			}
			if capturedToken.AccessToken != "test_token" {
				t.Errorf("expected captured token to be 'test_token', got %s", capturedToken.AccessToken)
			}
			if token.AccessToken != "test_token" {
				t.Errorf("expected returned token to be 'test_token', got %s", token.AccessToken)
			}
		})

		t.Run("calls callback when token changes", func(t *testing.T) {
			callCount := 0
			var capturedTokens []*oauth2.Token

			mockSource := &mockTokenSource{
				token: &oauth2.Token{AccessToken: "token1"},
			}

			source := &refreshableTokenSource{
				source: mockSource,
				callback: func(token *oauth2.Token) {
					callCount++
					capturedTokens = append(capturedTokens, token)
				},
			}

			_, _ = source.Token()
			if callCount != 1 {
				t.Errorf("expected callback called once, got %d", callCount)
			}

			mockSource.token = &oauth2.Token{AccessToken: "token2"}
			token2, _ := source.Token()

			if callCount != 2 {
				t.Errorf("expected callback called twice, got %d", callCount)
			}
			if len(capturedTokens) != 2 {
				t.Errorf("expected 2 captured tokens, got %d", len(capturedTokens))
			}
			if token2.AccessToken != "token2" {
				t.Errorf("expected new token, got %s", token2.AccessToken)
			}
		})

		t.Run("doesn't call callback when token unchanged", func(t *testing.T) {
			callCount := 0

			mockSource := &mockTokenSource{
				token: &oauth2.Token{AccessToken: "same_token"},
			}

			source := &refreshableTokenSource{
				source: mockSource,
				callback: func(token *oauth2.Token) {
					callCount++
				},
			}

			source.Token()
			source.Token()
			source.Token()

			if callCount != 1 {
				t.Errorf("expected callback called once, got %d", callCount)
			}
		})

		t.Run("handles nil callback gracefully", func(t *testing.T) {
			mockSource := &mockTokenSource{
				token: &oauth2.Token{AccessToken: "test_token"},
			}

			source := &refreshableTokenSource{
				source:   mockSource,
				callback: nil,
			}

			token, err := source.Token()
			if err != nil {
				t.Fatalf("expected no error with nil callback, got %v", err)
			}
			if token.AccessToken != "test_token" {
				t.Error("expected token to be returned despite nil callback")
			}
		})

		t.Run("propagates source errors", func(t *testing.T) {
			mockSource := &mockTokenSource{
				err: errors.New("token source error"),
			}

			source := &refreshableTokenSource{
				source: mockSource,
				callback: func(token *oauth2.Token) {
					t.Error("callback should not be called on error")
				},
			}

			token, err := source.Token()
			if err == nil {
				t.Fatal("expected error from source")
			}
			if !strings.Contains(err.Error(), "token source error") {
				t.Errorf("expected source error, got %v", err)
			}
			if token != nil {
				t.Error("expected nil token on error")
			}
		})

		t.Run("handles callback panic gracefully", func(t *testing.T) {
			defer func() {
				if r := recover(); r != nil {
					t.Error("expected panic to be contained within callback")
				}
			}()

			mockSource := &mockTokenSource{
				token: &oauth2.Token{AccessToken: "test_token"},
			}

			source := &refreshableTokenSource{
				source: mockSource,
				callback: func(token *oauth2.Token) {
					panic("callback panic")
				},
			}

			func() {
				defer func() {
					_ = recover()
				}()
				source.Token()
			}()
		})
	})
}

// recordedRequest is what the fake Spotify API saw.
type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

type fakeSpotifyAPI struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
}

func (f *fakeSpotifyAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Auth:   r.Header.Get("Authorization"),
		Body:   string(body),
	})
	f.mu.Unlock()

	if f.handler != nil {
		f.handler(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeSpotifyAPI) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return recordedRequest{}
	}
	return f.requests[len(f.requests)-1]
}

// newTestSpotify returns a client authenticated against a fake Spotify API.
func newTestSpotify(t *testing.T, handler http.HandlerFunc) (*SpotifyService, *fakeSpotifyAPI) {
	t.Helper()

	api := &fakeSpotifyAPI{handler: handler}
	server := httptest.NewServer(api)
	t.Cleanup(server.Close)

	srv, err := NewSpotifyService(map[string]string{
		"client_id":     "test_client_id",
		"client_secret": "test_client_secret",
		"api_url":       server.URL,
		"token_url":     server.URL + "/token",
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	srv.AuthenticateWithToken(context.Background(), &oauth2.Token{
		AccessToken: "access",
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	})
	return srv, api
}

func TestSpotifyPlayer(t *testing.T) {
	ctx := context.Background()

	t.Run("player endpoints", func(t *testing.T) {
		srv, api := newTestSpotify(t, nil)

		tests := []struct {
			name   string
			call   func() error
			method string
			path   string
			query  string
			body   string
		}{
			{
				name:   "play uris",
				call:   func() error { return srv.Play(ctx, "dev1", "spotify:track:1") },
				method: http.MethodPut,
				path:   "/me/player/play",
				query:  "device_id=dev1",
				body:   `{"uris":["spotify:track:1"]}`,
			},
			{
				name:   "resume",
				call:   func() error { return srv.Play(ctx, "") },
				method: http.MethodPut,
				path:   "/me/player/play",
			},
			{
				name:   "pause",
				call:   func() error { return srv.Pause(ctx, "dev1") },
				method: http.MethodPut,
				path:   "/me/player/pause",
				query:  "device_id=dev1",
			},
			{
				name:   "next",
				call:   func() error { return srv.Next(ctx, "dev1") },
				method: http.MethodPost,
				path:   "/me/player/next",
				query:  "device_id=dev1",
			},
			{
				name:   "previous",
				call:   func() error { return srv.Previous(ctx, "") },
				method: http.MethodPost,
				path:   "/me/player/previous",
			},
			{
				name:   "volume",
				call:   func() error { return srv.SetVolume(ctx, "dev1", 40) },
				method: http.MethodPut,
				path:   "/me/player/volume",
				query:  "device_id=dev1&volume_percent=40",
			},
			{
				name:   "queue",
				call:   func() error { return srv.Queue(ctx, "", "spotify:track:2") },
				method: http.MethodPost,
				path:   "/me/player/queue",
				query:  "uri=spotify%3Atrack%3A2",
			},
			{
				name:   "transfer",
				call:   func() error { return srv.TransferPlayback(ctx, "dev2", true) },
				method: http.MethodPut,
				path:   "/me/player",
				body:   `{"device_ids":["dev2"],"play":true}`,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := tt.call(); err != nil {
					t.Fatalf("expected no error, got %v", err)
				}

				req := api.last()
				if req.Method != tt.method {
					t.Errorf("expected method %s, got %s", tt.method, req.Method)
				}
				if req.Path != tt.path {
					t.Errorf("expected path %s, got %s", tt.path, req.Path)
				}
				if req.Query != tt.query {
					t.Errorf("expected query %q, got %q", tt.query, req.Query)
				}
				if strings.TrimSpace(req.Body) != tt.body {
					t.Errorf("expected body %q, got %q", tt.body, req.Body)
				}
				if req.Auth != "Bearer access" {
					t.Errorf("expected bearer token, got %q", req.Auth)
				}
			})
		}
	})

	t.Run("search tracks", func(t *testing.T) {
		srv, api := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"tracks": map[string]any{
					"items": []map[string]any{
						{
							"id":      "t1",
							"name":    "Song",
							"uri":     "spotify:track:t1",
							"artists": []map[string]any{{"name": "Artist A"}, {"name": "Artist B"}},
							"album":   map[string]any{"name": "Album", "release_date": "2020-01-01"},
						},
					},
				},
			})
		})

		tracks, err := srv.SearchTracks(ctx, "song", 500)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(tracks) != 1 {
			t.Fatalf("expected 1 track, got %d", len(tracks))
		}
		if tracks[0].URI != "spotify:track:t1" {
			t.Errorf("expected uri spotify:track:t1, got %s", tracks[0].URI)
		}
		if got := strings.Join(tracks[0].ArtistNames(), ", "); got != "Artist A, Artist B" {
			t.Errorf("expected artist names, got %s", got)
		}
		if !strings.Contains(api.last().Query, "limit=50") {
			t.Errorf("expected limit clamped to 50, got %s", api.last().Query)
		}
	})

	t.Run("devices and preferred device", func(t *testing.T) {
		srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"devices":[{"id":"a","name":"Kitchen","is_active":false},{"id":"b","name":"Den","is_active":true}]}`)
		})

		devices, err := srv.Devices(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(devices) != 2 {
			t.Fatalf("expected 2 devices, got %d", len(devices))
		}
		if id := PreferredDeviceID(devices); id != "b" {
			t.Errorf("expected active device b, got %s", id)
		}
		if id := PreferredDeviceID(devices[:1]); id != "a" {
			t.Errorf("expected first device a, got %s", id)
		}
		if id := PreferredDeviceID(nil); id != "" {
			t.Errorf("expected no device, got %s", id)
		}
	})

	t.Run("re-authenticating while requests run", func(t *testing.T) {
		srv, api := newTestSpotify(t, nil)

		var wg sync.WaitGroup
		for i := range 4 {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if err := srv.Pause(ctx, ""); err != nil {
					t.Errorf("expected no error, got %v", err)
				}
			}()
			go func() {
				defer wg.Done()
				srv.AuthenticateWithToken(ctx, &oauth2.Token{
					AccessToken: "access",
					TokenType:   "Bearer",
					Expiry:      time.Now().Add(time.Duration(i+1) * time.Hour),
				})
			}()
		}
		wg.Wait()

		if got := api.last().Auth; got != "Bearer access" {
			t.Errorf("expected bearer token, got %q", got)
		}
	})

	t.Run("api errors", func(t *testing.T) {
		tests := []struct {
			name            string
			status          int
			body            string
			message         string
			noActiveDevice  bool
			premiumRequired bool
		}{
			{
				name:           "no active device",
				status:         http.StatusNotFound,
				body:           `{"error":{"status":404,"message":"Player command failed: No active device found","reason":"NO_ACTIVE_DEVICE"}}`,
				message:        "Player command failed: No active device found",
				noActiveDevice: true,
			},
			{
				name:            "premium required",
				status:          http.StatusForbidden,
				body:            `{"error":{"status":403,"message":"Player command failed: Premium required","reason":"PREMIUM_REQUIRED"}}`,
				message:         "Player command failed: Premium required",
				premiumRequired: true,
			},
			{
				name:    "unparseable body",
				status:  http.StatusBadGateway,
				body:    `<html>oops</html>`,
				message: "Bad Gateway",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				srv, _ := newTestSpotify(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
					_, _ = io.WriteString(w, tt.body)
				})

				err := srv.Pause(ctx, "")
				apiErr, ok := AsSpotifyAPIError(err)
				if !ok {
					t.Fatalf("expected SpotifyAPIError, got %v", err)
				}
				if apiErr.Status != tt.status {
					t.Errorf("expected status %d, got %d", tt.status, apiErr.Status)
				}
				if apiErr.Message != tt.message {
					t.Errorf("expected message %q, got %q", tt.message, apiErr.Message)
				}
				if apiErr.NoActiveDevice() != tt.noActiveDevice {
					t.Errorf("expected NoActiveDevice %v", tt.noActiveDevice)
				}
				if apiErr.PremiumRequired() != tt.premiumRequired {
					t.Errorf("expected PremiumRequired %v", tt.premiumRequired)
				}
				if !errors.Is(err, shared.ErrAPIRequest) {
					t.Error("expected error to wrap ErrAPIRequest")
				}
			})
		}
	})
}

// mockTokenSource implements [oauth2.TokenSource] for testing
type mockTokenSource struct {
	token *oauth2.Token
	err   error
}

func (m *mockTokenSource) Token() (*oauth2.Token, error) {
	return m.token, m.err
}
