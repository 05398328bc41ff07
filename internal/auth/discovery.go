package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	errors "github.com/Laisky/errors/v2"
)

const (
	discoveryPath = "/.well-known/openid-configuration"
	// maxDocumentSize caps discovery and key set responses.
	maxDocumentSize = 1 << 20
)

// Discovery is the subset of the OpenID provider metadata we rely on.
type Discovery struct {
	Issuer                string `json:"issuer"`
	JWKSURI               string `json:"jwks_uri"`
	AuthorizationEndpoint string `json:"authorization_endpoint,omitempty"`
	TokenEndpoint         string `json:"token_endpoint,omitempty"`
	UserinfoEndpoint      string `json:"userinfo_endpoint,omitempty"`
}

// DiscoveryURL returns the well-known configuration url of an issuer.
func DiscoveryURL(issuer string) string {
	return normalizeIssuer(issuer) + discoveryPath
}

// Discover fetches the provider metadata and checks that it belongs to issuer.
func Discover(ctx context.Context, client *http.Client, issuer string) (*Discovery, error) {
	raw, err := fetchDocument(ctx, client, DiscoveryURL(issuer))
	if err != nil {
		return nil, wrapError(ErrCodeDiscoveryFailed, "fetch discovery document", err)
	}

	doc := new(Discovery)
	if err = json.Unmarshal(raw, doc); err != nil {
		return nil, wrapError(ErrCodeDiscoveryFailed, "decode discovery document", err)
	}
	if normalizeIssuer(doc.Issuer) != normalizeIssuer(issuer) {
		return nil, NewError(ErrCodeDiscoveryFailed,
			"issuer mismatch: expected "+issuer+", got "+doc.Issuer)
	}
	if doc.JWKSURI == "" {
		return nil, NewError(ErrCodeDiscoveryFailed, "discovery document has no jwks_uri")
	}

	return doc, nil
}

func fetchDocument(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "get %s", url)
	}
	defer resp.Body.Close() // nolint: errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.Errorf("get %s: unexpected status %d", url, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", url)
	}
	return raw, nil
}
