package flume

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

const tokenPath = "/oauth/token"

// Credential is the password-grant tuple loaded from configuration
type Credential struct {
	Username     string
	Password     string
	ClientID     string
	ClientSecret string
}

// String hides the secrets so a Credential can be logged safely
func (c Credential) String() string {
	return fmt.Sprintf("Credential{username=%s client_id=%s}", c.Username, c.ClientID)
}

// AccessToken is one issued token pair. ExpiresAt is fixed at issuance.
type AccessToken struct {
	TokenType    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // Epoch seconds
}

// IsExpired reports whether the token can no longer be presented at now
func (t AccessToken) IsExpired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// Expiry returns ExpiresAt as a time.Time
func (t AccessToken) Expiry() time.Time {
	return time.Unix(t.ExpiresAt, 0)
}

type tokenRequest struct {
	GrantType    string `json:"grant_type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Username     string `json:"username,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

type tokenData struct {
	TokenType    string `json:"token_type"`
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type tokenReply struct {
	Success *bool        `json:"success"`
	Message string       `json:"message"`
	Data    *[]tokenData `json:"data"`
}

// TokenManager exchanges credentials for access tokens
type TokenManager struct {
	client *Client
	now    func() time.Time
}

// NewTokenManager creates a token manager that issues tokens through client
func NewTokenManager(client *Client) *TokenManager {
	return &TokenManager{client: client, now: time.Now}
}

// Acquire performs the OAuth2 password grant
func (m *TokenManager) Acquire(ctx context.Context, cred Credential) (AccessToken, error) {
	return m.issue(ctx, tokenRequest{
		GrantType:    "password",
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		Username:     cred.Username,
		Password:     cred.Password,
	})
}

// Refresh exchanges the refresh token of tok for a new token pair
func (m *TokenManager) Refresh(ctx context.Context, cred Credential, tok AccessToken) (AccessToken, error) {
	if tok.RefreshToken == "" {
		return AccessToken{}, &AuthError{Kind: ErrMalformedReply, Detail: "token has no refresh token"}
	}
	return m.issue(ctx, tokenRequest{
		GrantType:    "refresh_token",
		ClientID:     cred.ClientID,
		ClientSecret: cred.ClientSecret,
		RefreshToken: tok.RefreshToken,
	})
}

func (m *TokenManager) issue(ctx context.Context, payload tokenRequest) (AccessToken, error) {
	body, err := m.client.do(ctx, http.MethodPost, tokenPath, "", payload)
	if err != nil {
		return AccessToken{}, &AuthError{Kind: ErrTransport, Err: err}
	}
	receivedAt := m.now()

	var reply tokenReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return AccessToken{}, &AuthError{Kind: ErrMalformedReply, Err: err}
	}
	if reply.Success != nil && !*reply.Success {
		return AccessToken{}, &AuthError{Kind: ErrProviderRejected, Detail: reply.Message}
	}
	if reply.Data == nil {
		return AccessToken{}, &AuthError{Kind: ErrMalformedReply, Detail: "missing data"}
	}
	if len(*reply.Data) == 0 {
		return AccessToken{}, &AuthError{Kind: ErrEmptyTokenList}
	}

	first := (*reply.Data)[0]
	if first.AccessToken == "" {
		return AccessToken{}, &AuthError{Kind: ErrMalformedReply, Detail: "empty access_token"}
	}

	tok := AccessToken{
		TokenType:    first.TokenType,
		AccessToken:  first.AccessToken,
		RefreshToken: first.RefreshToken,
		ExpiresAt:    receivedAt.Unix() + first.ExpiresIn,
	}

	m.client.logger.Debug("Token issued",
		"grant_type", payload.GrantType,
		"expires_at", tok.Expiry().Format(time.RFC3339),
	)
	return tok, nil
}

// TokenSource hands out a non-expired token, issuing or refreshing as needed.
// It is safe for concurrent use.
type TokenSource struct {
	mu      sync.Mutex
	manager *TokenManager
	cred    Credential
	token   *AccessToken
}

// NewTokenSource creates a token source for cred
func NewTokenSource(manager *TokenManager, cred Credential) *TokenSource {
	return &TokenSource{manager: manager, cred: cred}
}

// Current returns the current token, re-issuing it first when it is expired
func (s *TokenSource) Current(ctx context.Context) (AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != nil && !s.token.IsExpired(s.manager.now()) {
		return *s.token, nil
	}

	var (
		tok AccessToken
		err error
	)
	switch {
	case s.token == nil || s.token.RefreshToken == "":
		tok, err = s.manager.Acquire(ctx, s.cred)
	default:
		s.manager.client.logger.Debug("Token expired, refreshing", "expired_at", s.token.Expiry().Format(time.RFC3339))
		tok, err = s.manager.Refresh(ctx, s.cred, *s.token)
	}
	if err != nil {
		return AccessToken{}, err
	}

	s.token = &tok
	return tok, nil
}

// Invalidate drops the held token so the next Current call issues a new one
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = nil
}

// IsAuthError reports whether err came from the token manager
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
