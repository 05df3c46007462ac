package listsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/prefixset/prefixset/pkg/logger"
)

// bootstrapClaims is the subset of claims read out of a bootstrap token.
// The signature is not verified here: the token is a capability handed to
// us by the operator out of band, not a credential we authenticate.
type bootstrapClaims struct {
	ComponentType string `json:"component_type"`
	jwt.RegisteredClaims
}

type bootstrapResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	ConfigURL   string `json:"config_url"`
	LogsURL     string `json:"logs_url,omitempty"`
}

type listConfig struct {
	UpdateFrequencySeconds int      `json:"update_frequency_seconds"`
	URLs                   []string `json:"urls"`
}

// BootstrapSource exchanges a long-lived bootstrap token for a short-lived
// access token, discovers the list endpoint from a config document, and
// fetches the prefix list text through it. Once the access token has
// expired, the next Fetch exchanges the bootstrap token for a new one.
type BootstrapSource struct {
	bootstrapToken string
	machineID      string
	componentType  string
	client         *http.Client

	mu          sync.RWMutex
	accessToken string
	tokenExpiry time.Time
	configURL   string
	logsURL     string
}

// NewBootstrapSource creates a BootstrapSource for the given bootstrap
// token. componentType is reported to the issuer and is purely
// informational.
func NewBootstrapSource(bootstrapToken, machineID, componentType string) *BootstrapSource {
	return &BootstrapSource{
		bootstrapToken: bootstrapToken,
		machineID:      machineID,
		componentType:  componentType,
		client:         defaultClient(),
	}
}

// LogsURL returns the logs endpoint reported by the most recent bootstrap,
// or the empty string if none was provided.
func (b *BootstrapSource) LogsURL() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.logsURL
}

// Token returns the current access token, suitable for use as an
// HTTPSource.TokenSource.
func (b *BootstrapSource) Token() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accessToken
}

// GetToken and GetLogsURL satisfy events.TokenProvider, letting a
// BootstrapSource's access token and logs URL double as the credential
// an events.Shipper uses to authenticate batches to the same deployment.
func (b *BootstrapSource) GetToken() string {
	return b.Token()
}

// GetLogsURL returns the logs endpoint reported by the most recent
// bootstrap, satisfying events.TokenProvider.
func (b *BootstrapSource) GetLogsURL() string {
	return b.LogsURL()
}

// Fetch ensures a valid access token, resolves the list endpoint from the
// config document, and returns the body of the first configured URL.
func (b *BootstrapSource) Fetch(ctx context.Context) (io.ReadCloser, error) {
	if err := b.ensureToken(ctx); err != nil {
		return nil, err
	}

	cfg, err := b.fetchConfig(ctx)
	if err != nil {
		return nil, err
	}
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("listsource: config returned no list URLs")
	}

	listSource := &HTTPSource{URL: cfg.URLs[0], TokenSource: b.Token, Client: b.client}
	return listSource.Fetch(ctx)
}

func (b *BootstrapSource) ensureToken(ctx context.Context) error {
	b.mu.RLock()
	valid := b.accessToken != "" && time.Now().Before(b.tokenExpiry)
	b.mu.RUnlock()
	if valid {
		return nil
	}
	return b.bootstrap(ctx)
}

func (b *BootstrapSource) bootstrap(ctx context.Context) error {
	issuer, err := tokenIssuer(b.bootstrapToken)
	if err != nil {
		return err
	}

	bootstrapURL := strings.TrimSuffix(issuer, "/") + "/v1/prefixlist/bootstrap"

	reqBody, err := json.Marshal(map[string]any{
		"bootstrap_token":   b.bootstrapToken,
		"component_type":    b.componentType,
		"component_version": "1.0.0",
		"machine_id":        b.machineID,
		"scopes":            []string{"prefixlist_config", "prefixlist_logs"},
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, bootstrapURL, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &HTTPError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var result bootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}

	b.mu.Lock()
	b.accessToken = result.AccessToken
	b.tokenExpiry = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	b.configURL = result.ConfigURL
	b.logsURL = result.LogsURL
	b.mu.Unlock()

	logger.Debugf("bootstrap succeeded, token expires in %ds", result.ExpiresIn)
	return nil
}

func (b *BootstrapSource) fetchConfig(ctx context.Context) (*listConfig, error) {
	b.mu.RLock()
	url := b.configURL
	b.mu.RUnlock()
	if url == "" {
		return nil, fmt.Errorf("listsource: config URL not available")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+b.Token())

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var cfg listConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// tokenIssuer extracts the "iss" claim from a JWT without verifying its
// signature, which is fine here: the token is a bearer capability, not a
// credential we need to authenticate locally.
func tokenIssuer(token string) (string, error) {
	var claims bootstrapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("listsource: parsing bootstrap token: %w", err)
	}
	if claims.Issuer == "" {
		return "", fmt.Errorf("listsource: bootstrap token missing issuer")
	}
	return claims.Issuer, nil
}
