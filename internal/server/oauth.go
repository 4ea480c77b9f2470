package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/desertthunder/pihome/internal/models"
	"github.com/desertthunder/pihome/internal/services"
	"github.com/desertthunder/pihome/internal/shared"
)

const defaultStateTTL = 10 * time.Minute

// OAuthResult is the outcome of one Spotify authorization.
type OAuthResult struct {
	FamilyID   string
	Connection *models.SpotifyConnection
	err        error
}

func (o OAuthResult) Error() error {
	return o.err
}

type pendingState struct {
	familyID string
	expires  time.Time
}

// OAuthHandler runs the Spotify authorization code flow for families.
//
// [OAuthHandler.Begin] issues a single-use state bound to a family. The callback trades the code
// for a token and stores it as that family's connection, replacing any previous one.
type OAuthHandler struct {
	factory     services.SpotifyFactory
	connections *services.SpotifyConnectionsService

	mu      sync.Mutex
	pending map[string]pendingState
	results chan OAuthResult
	ttl     time.Duration
	now     func() time.Time
}

func NewOAuthHandler(factory services.SpotifyFactory, connections *services.SpotifyConnectionsService) *OAuthHandler {
	return &OAuthHandler{
		factory:     factory,
		connections: connections,
		pending:     map[string]pendingState{},
		results:     make(chan OAuthResult, 1),
		ttl:         defaultStateTTL,
		now:         time.Now,
	}
}

func (h *OAuthHandler) Routes() []string {
	return []string{"GET /callback"}
}

// Begin returns the Spotify consent URL for familyID.
func (h *OAuthHandler) Begin(familyID string) (string, error) {
	if familyID == "" {
		return "", shared.BadRequest("Family id is required")
	}
	if h.factory == nil {
		return "", fmt.Errorf("%w: spotify credentials", shared.ErrMissingConfig)
	}
	client, err := h.factory()
	if err != nil {
		return "", err
	}

	state, err := shared.GenerateSecret(16)
	if err != nil {
		return "", err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for s, p := range h.pending {
		if now.After(p.expires) {
			delete(h.pending, s)
		}
	}
	h.pending[state] = pendingState{familyID: familyID, expires: now.Add(h.ttl)}

	return client.GetAuthURL(state), nil
}

// claim consumes state and returns its family.
func (h *OAuthHandler) claim(state string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	p, ok := h.pending[state]
	if !ok {
		return "", false
	}
	delete(h.pending, state)
	if h.now().After(p.expires) {
		return "", false
	}
	return p.familyID, true
}

func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	familyID, ok := h.claim(query.Get("state"))
	if !ok {
		writeError(w, shared.BadRequest("Invalid state parameter"))
		return
	}

	code := query.Get("code")
	if code == "" {
		err := shared.BadRequest(fmt.Sprintf("Authorization failed: %s %s", query.Get("error"), query.Get("error_description")))
		h.send(OAuthResult{FamilyID: familyID, err: err})
		writeError(w, err)
		return
	}

	conn, err := h.connect(r.Context(), familyID, code)
	h.send(OAuthResult{FamilyID: familyID, Connection: conn, err: err})
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, successPage)
}

func (h *OAuthHandler) connect(ctx context.Context, familyID, code string) (*models.SpotifyConnection, error) {
	client, err := h.factory()
	if err != nil {
		return nil, err
	}
	token, err := client.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrUnauthorized, err)
	}

	existing, err := h.connections.GetSpotifyConnectionByFamilyID(ctx, familyID)
	switch {
	case err == nil:
		if err := h.connections.DeleteSpotifyConnection(ctx, existing.ID); err != nil {
			return nil, err
		}
	case !errors.Is(err, shared.ErrNotFound):
		return nil, err
	}

	return h.connections.CreateSpotifyConnection(ctx, familyID, token)
}

// send never blocks; a result nobody is waiting for is dropped once the buffer is full.
func (h *OAuthHandler) send(result OAuthResult) {
	select {
	case h.results <- result:
	default:
	}
}

// Result delivers completed authorizations, for CLI flows that wait on the browser.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.results
}

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>Spotify connected</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>✓ Spotify connected</h1>
        <p>Your family's speakers can now play music. You can close this window.</p>
    </div>
</body>
</html>
`
