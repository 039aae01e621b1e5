package azure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	dc "azcost/domain/config"
)

// NewCredential picks the token source for the configured auth mode.
func NewCredential(cfg dc.Azure) (azcore.TokenCredential, error) {
	switch cfg.Auth {
	case dc.AuthClientSecret:
		return NewClientSecretCredential(cfg.AuthorityHost, cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil), nil
	case dc.AuthManagedIdentity:
		var opts *azidentity.ManagedIdentityCredentialOptions
		if cfg.ClientID != "" {
			// user assigned identity
			opts = &azidentity.ManagedIdentityCredentialOptions{ID: azidentity.ClientID(cfg.ClientID)}
		}
		cred, err := azidentity.NewManagedIdentityCredential(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create managed identity credential: %w", err)
		}
		return cred, nil
	case dc.AuthDefault:
		cred, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{TenantID: cfg.TenantID})
		if err != nil {
			return nil, fmt.Errorf("failed to create default credential: %w", err)
		}
		return cred, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth)
	}
}

// ClientSecretCredential obtains app-only tokens with the OAuth2 client credentials grant.
// Tokens are cached per scope until they expire.
type ClientSecretCredential struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

// NewClientSecretCredential targets {authorityHost}/{tenantID}/oauth2/v2.0/token.
// A nil httpClient uses http.DefaultClient.
func NewClientSecretCredential(authorityHost, tenantID, clientID, clientSecret string, httpClient *http.Client) *ClientSecretCredential {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ClientSecretCredential{
		tokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(authorityHost, "/"), tenantID),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		tokens:       map[string]*oauth2.Token{},
	}
}

// GetToken implements azcore.TokenCredential.
func (c *ClientSecretCredential) GetToken(ctx context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if len(opts.Scopes) == 0 {
		return azcore.AccessToken{}, errors.New("no scopes requested")
	}
	key := strings.Join(opts.Scopes, " ")

	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.tokens[key]; ok && tok.Valid() {
		return azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: tok.Expiry}, nil
	}

	cfg := clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.tokenURL,
		Scopes:       opts.Scopes,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		return azcore.AccessToken{}, fmt.Errorf("failed to authenticate: %w", err)
	}
	c.tokens[key] = tok
	slog.Debug("auth.token.acquired", "scope", key, "expires", tok.Expiry)
	return azcore.AccessToken{Token: tok.AccessToken, ExpiresOn: tok.Expiry}, nil
}
