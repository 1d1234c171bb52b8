package git

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"
)

// Credentials authenticate a push over HTTPS.
type Credentials struct {
	Username string
	Password string
}

// AuthFunc resolves credentials for the remote URL being pushed to. Returning
// nil credentials and a nil error pushes anonymously.
type AuthFunc func(ctx context.Context, remoteURL string) (*Credentials, error)

// TokenAuth returns an AuthFunc that authenticates with a GitHub token using the
// x-access-token convention.
func TokenAuth(token string) AuthFunc {
	token = strings.TrimSpace(token)
	return func(context.Context, string) (*Credentials, error) {
		if token == "" {
			return nil, nil
		}
		return &Credentials{Username: "x-access-token", Password: token}, nil
	}
}

// Transport carries connection settings for network operations.
type Transport struct {
	InsecureSkipTLS bool
	// CABundle holds additional PEM encoded certificates to trust.
	CABundle []byte
	// ProxyURL routes HTTP(S) traffic through a proxy when set.
	ProxyURL string
}

// withCredentials embeds credentials into an HTTP(S) remote URL. SSH, scp-like
// and local remotes are returned unchanged.
func withCredentials(remoteURL string, creds *Credentials) (string, error) {
	if creds == nil || !isHTTPRemote(remoteURL) {
		return remoteURL, nil
	}
	parsed, err := url.Parse(remoteURL)
	if err != nil {
		return "", fmt.Errorf("parse remote url: %w", err)
	}
	parsed.User = url.UserPassword(creds.Username, creds.Password)
	return parsed.String(), nil
}

// isHTTPRemote reports whether remoteURL is served over HTTP(S). Basic auth is
// rejected by the other transports.
func isHTTPRemote(remoteURL string) bool {
	ep, err := transport.NewEndpoint(remoteURL)
	if err != nil {
		return false
	}
	return ep.Protocol == "http" || ep.Protocol == "https"
}

// redactURL strips the password from any URL-looking argument.
func redactURL(arg string) string {
	if !strings.Contains(arg, "://") || !strings.Contains(arg, "@") {
		return arg
	}
	parsed, err := url.Parse(arg)
	if err != nil || parsed.User == nil {
		return arg
	}
	if _, ok := parsed.User.Password(); ok {
		parsed.User = url.UserPassword(parsed.User.Username(), "***")
	}
	return parsed.String()
}
