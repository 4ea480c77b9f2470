// Spotify Web API client used for family playback control.
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/desertthunder/pihome/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"

	defaultRedirectURI = "http://localhost:8080/callback"
)

// spotifyScopes covers profile reads and playback control.
var spotifyScopes = []string{
	"user-read-private",
	"user-read-email",
	"user-read-playback-state",
	"user-modify-playback-state",
	"user-read-currently-playing",
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string         `json:"id"`
	DisplayName string         `json:"display_name"`
	Email       string         `json:"email"`
	Country     string         `json:"country"`
	Product     string         `json:"product"` // premium, free, etc.
	Images      []SpotifyImage `json:"images"`
}

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	Explicit   bool            `json:"explicit"`
	Popularity int             `json:"popularity"`
	URI        string          `json:"uri"`
}

// ArtistNames returns the names of the track's artists in credit order.
func (t SpotifyTrack) ArtistNames() []string {
	names := make([]string, 0, len(t.Artists))
	for _, a := range t.Artists {
		names = append(names, a.Name)
	}
	return names
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	ReleaseDate string          `json:"release_date"`
	TotalTracks int             `json:"total_tracks"`
	Images      []SpotifyImage  `json:"images"`
	URI         string          `json:"uri"`
}

// SpotifyDevice is a Spotify Connect playback target.
type SpotifyDevice struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	IsRestricted  bool   `json:"is_restricted"`
	VolumePercent int    `json:"volume_percent"`
}

// SpotifyQueue is the user's playback queue.
type SpotifyQueue struct {
	CurrentlyPlaying *SpotifyTrack  `json:"currently_playing"`
	Queue            []SpotifyTrack `json:"queue"`
}

// Contains reports whether uri is waiting in the queue.
func (q *SpotifyQueue) Contains(uri string) bool {
	if q == nil {
		return false
	}
	for _, t := range q.Queue {
		if t.URI == uri {
			return true
		}
	}
	return false
}

// SpotifyAPIError is a non-2xx response from the Web API.
type SpotifyAPIError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func (e *SpotifyAPIError) Error() string {
	return fmt.Sprintf("spotify API error (status %d): %s", e.Status, e.Message)
}

// Unwrap lets callers match [shared.ErrAPIRequest].
func (e *SpotifyAPIError) Unwrap() error { return shared.ErrAPIRequest }

// NoActiveDevice reports whether the request failed because no device is playing.
func (e *SpotifyAPIError) NoActiveDevice() bool {
	return e.Reason == "NO_ACTIVE_DEVICE" || strings.Contains(strings.ToLower(e.Message), "no active device")
}

// PremiumRequired reports whether the request needs a Premium account.
func (e *SpotifyAPIError) PremiumRequired() bool {
	return e.Reason == "PREMIUM_REQUIRED" || strings.Contains(strings.ToLower(e.Message), "premium")
}

// AsSpotifyAPIError extracts a [SpotifyAPIError] from err.
func AsSpotifyAPIError(err error) (*SpotifyAPIError, bool) {
	var apiErr *SpotifyAPIError
	ok := errors.As(err, &apiErr)
	return apiErr, ok
}

// MusicPlayer is the playback surface the agent tools drive. [SpotifyService] implements it.
type MusicPlayer interface {
	Play(ctx context.Context, deviceID string, uris ...string) error
	Pause(ctx context.Context, deviceID string) error
	Next(ctx context.Context, deviceID string) error
	Previous(ctx context.Context, deviceID string) error
	SetVolume(ctx context.Context, deviceID string, percent int) error
	Queue(ctx context.Context, deviceID, uri string) error
	SeeQueue(ctx context.Context) (*SpotifyQueue, error)
	TransferPlayback(ctx context.Context, deviceID string, play bool) error
	SearchTracks(ctx context.Context, query string, limit int) ([]SpotifyTrack, error)
	Devices(ctx context.Context) ([]SpotifyDevice, error)
}

// SpotifyService is an authenticated Spotify Web API client.
//
// Outgoing calls share a token bucket. Tokens refresh through [oauth2] and every new token is handed
// to the callback set with [SpotifyService.SetTokenRefreshCallback].
type SpotifyService struct {
	config         *oauth2.Config
	token          *oauth2.Token
	httpClient     *http.Client
	baseURL        string
	limiter        *rate.Limiter
	onTokenRefresh func(*oauth2.Token)
	mu             sync.Mutex
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
func NewSpotifyService(credentials map[string]string) (*SpotifyService, error) {
	clientID, ok := credentials["client_id"]
	if !ok || clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret, ok := credentials["client_secret"]
	if !ok || clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI, ok := credentials["redirect_uri"]
	if !ok || redirectURI == "" {
		redirectURI = defaultRedirectURI
	}

	tokenURL := spotifyTokenURL
	if u := credentials["token_url"]; u != "" {
		tokenURL = u
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       spotifyScopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: tokenURL,
		},
	}

	baseURL := spotifyBaseURL
	if u := credentials["api_url"]; u != "" {
		baseURL = strings.TrimRight(u, "/")
	}

	return &SpotifyService{
		config:     config,
		httpClient: http.DefaultClient,
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(10), 5),
	}, nil
}

// NewSpotifyServiceFromConfig builds a client from the [shared.SpotifyConfig] section.
func NewSpotifyServiceFromConfig(cfg shared.SpotifyConfig) (*SpotifyService, error) {
	return NewSpotifyService(map[string]string{
		"client_id":     cfg.ClientID,
		"client_secret": cfg.ClientSecret,
		"redirect_uri":  cfg.RedirectURI,
	})
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// SetTokenRefreshCallback registers fn to receive tokens minted by a refresh. Pass nil to clear it.
func (s *SpotifyService) SetTokenRefreshCallback(fn func(*oauth2.Token)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onTokenRefresh = fn
}

// Authenticate performs OAuth2 authentication with Spotify.
//
// Expects either an "access_token" (with optional "refresh_token" and RFC 3339 "expiry") or an "auth_code".
func (s *SpotifyService) Authenticate(ctx context.Context, credentials map[string]string) error {
	if accessToken, ok := credentials["access_token"]; ok && accessToken != "" {
		token := &oauth2.Token{
			AccessToken:  accessToken,
			RefreshToken: credentials["refresh_token"],
			TokenType:    "Bearer",
		}
		if exp := credentials["expiry"]; exp != "" {
			t, err := time.Parse(time.RFC3339, exp)
			if err != nil {
				return fmt.Errorf("%w: invalid expiry %q", shared.ErrInvalidArgument, exp)
			}
			token.Expiry = t
		}
		s.AuthenticateWithToken(ctx, token)
		return nil
	}

	if authCode, ok := credentials["auth_code"]; ok && authCode != "" {
		token, err := s.Exchange(ctx, authCode)
		if err != nil {
			return err
		}
		s.AuthenticateWithToken(ctx, token)
		return nil
	}

	return fmt.Errorf("%w: missing access_token or auth_code", shared.ErrMissingCredentials)
}

// AuthenticateWithToken uses token for every subsequent request, refreshing it when it expires.
func (s *SpotifyService) AuthenticateWithToken(ctx context.Context, token *oauth2.Token) {
	source := &refreshableTokenSource{
		source:   s.config.TokenSource(ctx, token),
		callback: s.tokenRefreshed,
		last:     token.AccessToken,
	}
	client := oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, source))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.httpClient = client
}

func (s *SpotifyService) client() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.httpClient
}

// Exchange trades an authorization code for a token.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange auth code: %w", err)
	}
	return token, nil
}

// GetAuthURL returns the OAuth2 authorization URL for user login.
func (s *SpotifyService) GetAuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Token returns the current token, or nil before authentication.
func (s *SpotifyService) Token() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *SpotifyService) tokenRefreshed(token *oauth2.Token) {
	s.mu.Lock()
	s.token = token
	fn := s.onTokenRefresh
	s.mu.Unlock()

	if fn != nil {
		fn(token)
	}
}

// refreshableTokenSource wraps an [oauth2.TokenSource] and reports every token that differs from
// the previous one.
type refreshableTokenSource struct {
	source   oauth2.TokenSource
	callback func(*oauth2.Token)
	last     string
	mu       sync.Mutex
}

func (r *refreshableTokenSource) Token() (*oauth2.Token, error) {
	token, err := r.source.Token()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	changed := token.AccessToken != r.last
	r.last = token.AccessToken
	r.mu.Unlock()

	if changed && r.callback != nil {
		r.notify(token)
	}
	return token, nil
}

// notify contains panics raised by the callback so a failed persist never breaks a request.
func (r *refreshableTokenSource) notify(token *oauth2.Token) {
	defer func() { _ = recover() }()
	r.callback(token)
}

// doRequest performs an authenticated, rate-limited HTTP request to the Spotify API.
//
// body is JSON encoded when non-nil; result is decoded when non-nil and the response has content.
func (s *SpotifyService) doRequest(ctx context.Context, method, endpoint string, body, result any) error {
	if s.Token() == nil {
		return fmt.Errorf("%w: call Authenticate first", shared.ErrNotAuthenticated)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeSpotifyError(resp)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeSpotifyError(resp *http.Response) error {
	apiErr := &SpotifyAPIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var envelope struct {
		Error *SpotifyAPIError `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil {
		if envelope.Error.Message != "" {
			apiErr.Message = envelope.Error.Message
		}
		apiErr.Reason = envelope.Error.Reason
	}
	return apiErr
}

func withDevice(endpoint, deviceID string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	if deviceID != "" {
		params.Set("device_id", deviceID)
	}
	if len(params) == 0 {
		return endpoint
	}
	return endpoint + "?" + params.Encode()
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, http.MethodGet, "/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Track retrieves a single track by ID.
func (s *SpotifyService) Track(ctx context.Context, trackID string) (*SpotifyTrack, error) {
	var track SpotifyTrack
	if err := s.doRequest(ctx, http.MethodGet, "/tracks/"+url.PathEscape(trackID), nil, &track); err != nil {
		return nil, err
	}
	return &track, nil
}

// SearchTracks returns up to limit tracks matching query.
func (s *SpotifyService) SearchTracks(ctx context.Context, query string, limit int) ([]SpotifyTrack, error) {
	if limit <= 0 {
		limit = 1
	}
	if limit > 50 {
		limit = 50
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("type", "track")
	params.Set("limit", strconv.Itoa(limit))

	var response struct {
		Tracks struct {
			Items []SpotifyTrack `json:"items"`
		} `json:"tracks"`
	}
	if err := s.doRequest(ctx, http.MethodGet, "/search?"+params.Encode(), nil, &response); err != nil {
		return nil, err
	}
	return response.Tracks.Items, nil
}

// Devices lists the user's available Spotify Connect devices.
func (s *SpotifyService) Devices(ctx context.Context) ([]SpotifyDevice, error) {
	var response struct {
		Devices []SpotifyDevice `json:"devices"`
	}
	if err := s.doRequest(ctx, http.MethodGet, "/me/player/devices", nil, &response); err != nil {
		return nil, err
	}
	return response.Devices, nil
}

// PreferredDeviceID picks the active device, falling back to the first listed one.
func PreferredDeviceID(devices []SpotifyDevice) string {
	for _, d := range devices {
		if d.IsActive {
			return d.ID
		}
	}
	if len(devices) > 0 {
		return devices[0].ID
	}
	return ""
}

// Play resumes playback, or starts the given track URIs, on deviceID.
func (s *SpotifyService) Play(ctx context.Context, deviceID string, uris ...string) error {
	var body any
	if len(uris) > 0 {
		body = map[string][]string{"uris": uris}
	}
	return s.doRequest(ctx, http.MethodPut, withDevice("/me/player/play", deviceID, nil), body, nil)
}

// Pause pauses playback on deviceID.
func (s *SpotifyService) Pause(ctx context.Context, deviceID string) error {
	return s.doRequest(ctx, http.MethodPut, withDevice("/me/player/pause", deviceID, nil), nil, nil)
}

// Next skips to the next track.
func (s *SpotifyService) Next(ctx context.Context, deviceID string) error {
	return s.doRequest(ctx, http.MethodPost, withDevice("/me/player/next", deviceID, nil), nil, nil)
}

// Previous returns to the previous track.
func (s *SpotifyService) Previous(ctx context.Context, deviceID string) error {
	return s.doRequest(ctx, http.MethodPost, withDevice("/me/player/previous", deviceID, nil), nil, nil)
}

// SetVolume sets the playback volume on deviceID.
func (s *SpotifyService) SetVolume(ctx context.Context, deviceID string, percent int) error {
	params := url.Values{}
	params.Set("volume_percent", strconv.Itoa(percent))
	return s.doRequest(ctx, http.MethodPut, withDevice("/me/player/volume", deviceID, params), nil, nil)
}

// Queue appends uri to the playback queue.
func (s *SpotifyService) Queue(ctx context.Context, deviceID, uri string) error {
	params := url.Values{}
	params.Set("uri", uri)
	return s.doRequest(ctx, http.MethodPost, withDevice("/me/player/queue", deviceID, params), nil, nil)
}

// SeeQueue returns the currently playing track and the queue after it.
func (s *SpotifyService) SeeQueue(ctx context.Context) (*SpotifyQueue, error) {
	var queue SpotifyQueue
	if err := s.doRequest(ctx, http.MethodGet, "/me/player/queue", nil, &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

// TransferPlayback moves playback to deviceID, optionally starting it.
func (s *SpotifyService) TransferPlayback(ctx context.Context, deviceID string, play bool) error {
	body := map[string]any{"device_ids": []string{deviceID}, "play": play}
	return s.doRequest(ctx, http.MethodPut, "/me/player", body, nil)
}
