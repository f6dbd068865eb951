package peer

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// sessionSource logs in to slskd and hands out its JWT. Wrapped in
// oauth2.ReuseTokenSource, a new login only happens once the token expires.
type sessionSource struct {
	baseURL  string
	username string
	password string
	client   *http.Client
}

type sessionResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"tokenType"`
	Expires   int64  `json:"expires"`
}

func (s *sessionSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{"username": s.username, "password": s.password})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/v0/session", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slskd login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slskd login returned status %d", resp.StatusCode)
	}

	var sess sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		return nil, fmt.Errorf("slskd login: decoding response: %w", err)
	}
	if sess.Token == "" {
		return nil, fmt.Errorf("slskd login returned no token")
	}

	tok := &oauth2.Token{AccessToken: sess.Token, TokenType: "Bearer"}
	if sess.Expires > 0 {
		tok.Expiry = time.Unix(sess.Expires, 0)
	}
	return tok, nil
}

// apiKeyTransport authenticates with a static slskd API key instead of a
// session.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("X-API-Key", t.key)
	return t.base.RoundTrip(r)
}

// newHTTPClient picks API key auth when a key is configured and session
// auth otherwise.
func newHTTPClient(opts Options, timeout time.Duration) *http.Client {
	base := http.DefaultTransport
	if opts.APIKey != "" {
		return &http.Client{Timeout: timeout, Transport: &apiKeyTransport{key: opts.APIKey, base: base}}
	}

	src := &sessionSource{
		baseURL:  opts.URL,
		username: opts.Username,
		password: opts.Password,
		client:   &http.Client{Timeout: timeout},
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, src),
			Base:   base,
		},
	}
}
