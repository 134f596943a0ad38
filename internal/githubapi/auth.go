package githubapi

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
)

// CredentialSource identifies where a resolved token came from.
type CredentialSource string

const (
	// SourceInstallation is a GitHub App installation token.
	SourceInstallation CredentialSource = "installation"
	// SourceOAuth is a personal OAuth token.
	SourceOAuth CredentialSource = "oauth"
)

// Credential is a resolved bearer token plus an authenticated HTTP client.
type Credential struct {
	Token      string
	Source     CredentialSource
	HTTPClient *http.Client
}

// InstallationAuthConfig configures GitHub App installation authentication.
type InstallationAuthConfig struct {
	AppID          int64
	InstallationID int64
	PrivateKeyPath string
	Timeout        time.Duration
	BaseTransport  http.RoundTripper
}

// CredentialProvider resolves the credential to sync with. An installation
// credential always wins over a personal OAuth token when both are present.
type CredentialProvider struct {
	Installation *InstallationAuthConfig
	OAuthToken   string
	Timeout      time.Duration
}

// Resolve returns the preferred credential. It fails when neither an
// installation nor an OAuth token is configured.
func (p CredentialProvider) Resolve(ctx context.Context) (Credential, error) {
	if p.Installation != nil {
		transport, err := newInstallationTransport(*p.Installation)
		if err != nil {
			return Credential{}, err
		}
		token, err := transport.Token(ctx)
		if err != nil {
			return Credential{}, newFetchError(FetchErrorAuth, "resolve installation token", err)
		}
		return Credential{
			Token:  token,
			Source: SourceInstallation,
			HTTPClient: &http.Client{
				Transport: transport,
				Timeout:   p.Timeout,
			},
		}, nil
	}

	token := strings.TrimSpace(p.OAuthToken)
	if token == "" {
		return Credential{}, newFetchError(FetchErrorAuth, "resolve credential", fmt.Errorf("no installation or oauth credential configured"))
	}
	return Credential{
		Token:  token,
		Source: SourceOAuth,
		HTTPClient: &http.Client{
			Transport: &bearerTransport{token: token, base: http.DefaultTransport},
			Timeout:   p.Timeout,
		},
	}, nil
}

func newInstallationTransport(cfg InstallationAuthConfig) (*ghinstallation.Transport, error) {
	if cfg.AppID <= 0 {
		return nil, fmt.Errorf("app id must be > 0")
	}
	if cfg.InstallationID <= 0 {
		return nil, fmt.Errorf("installation id must be > 0")
	}
	if strings.TrimSpace(cfg.PrivateKeyPath) == "" {
		return nil, fmt.Errorf("private key path is required")
	}

	baseTransport := cfg.BaseTransport
	if baseTransport == nil {
		baseTransport = http.DefaultTransport
	}

	transport, err := ghinstallation.NewKeyFromFile(baseTransport, cfg.AppID, cfg.InstallationID, cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("create github app transport: %w", err)
	}
	return transport, nil
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(cloned)
}

// NewGitHubRESTClient creates a go-github client with optional API base URL
// override. It backs the Copilot seat capture path.
func NewGitHubRESTClient(httpClient *http.Client, apiBaseURL string) (*github.Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	client := github.NewClient(httpClient)
	trimmedBaseURL := strings.TrimSpace(apiBaseURL)
	if trimmedBaseURL == "" {
		return client, nil
	}

	parsedURL, err := url.Parse(trimmedBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse github api base url: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("parse github api base url: missing scheme or host")
	}
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
	}

	client.BaseURL = parsedURL
	return client, nil
}
