package github

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ahmednasr/firstcommit/indexer/internal/apperrors"
)

// refreshMargin is how long before expiry a cached installation token is
// replaced.
const refreshMargin = 5 * time.Minute

// AppAuth authenticates as a GitHub App installation. It signs a short
// RS256 assertion with the app key, exchanges it for an installation token
// and caches that token until shortly before it expires.
type AppAuth struct {
	appID          string
	installationID string
	key            *rsa.PrivateKey
	apiURL         string
	http           *http.Client
	now            func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

var _ TokenSource = (*AppAuth)(nil)

// NewAppAuth parses the PEM key. apiURL is the REST root, e.g.
// https://api.github.com.
func NewAppAuth(appID, installationID, pemKey, apiURL string, httpClient *http.Client) (*AppAuth, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(pemKey))
	if err != nil {
		return nil, &apperrors.AuthError{Op: "parse app key", Err: err}
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &AppAuth{
		appID:          appID,
		installationID: installationID,
		key:            key,
		apiURL:         strings.TrimSuffix(apiURL, "/"),
		http:           httpClient,
		now:            time.Now,
	}, nil
}

// Token returns the cached installation token, refreshing it when it is
// missing or within refreshMargin of expiry.
func (a *AppAuth) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.token != "" && a.now().Add(refreshMargin).Before(a.expiresAt) {
		return a.token, nil
	}

	assertion, err := a.assertion()
	if err != nil {
		return "", &apperrors.AuthError{Op: "sign app assertion", Err: err}
	}
	token, expiresAt, err := a.exchange(ctx, assertion)
	if err != nil {
		return "", &apperrors.AuthError{Op: "exchange installation token", Err: err}
	}
	a.token, a.expiresAt = token, expiresAt
	return token, nil
}

// assertion signs the app JWT. iat is backdated to absorb clock drift;
// GitHub rejects lifetimes over ten minutes.
func (a *AppAuth) assertion() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
		Issuer:    a.appID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
}

func (a *AppAuth) exchange(ctx context.Context, assertion string) (string, time.Time, error) {
	u := fmt.Sprintf("%s/app/installations/%s/access_tokens", a.apiURL, a.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", time.Time{}, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", time.Time{}, &statusError{Code: resp.StatusCode, Body: snippet(body)}
	}

	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", time.Time{}, err
	}
	if out.Token == "" {
		return "", time.Time{}, fmt.Errorf("empty installation token")
	}
	return out.Token, out.ExpiresAt, nil
}
