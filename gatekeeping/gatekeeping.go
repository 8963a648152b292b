// Package gatekeeping decides who may change the status of which event.
package gatekeeping

import (
	"crypto/subtle"
	"github.com/lefinal/event-status-server/errors"
	"net/http"
	"strings"
)

// bearerPrefix is the prefix of the Authorization header value that carries
// the credential.
const bearerPrefix = "Bearer "

// Gatekeeper holds the static trust table: one root secret that is authorized
// for every event and per-event secrets that are authorized for exactly one
// event. It is read-only after creation and safe for concurrent use.
type Gatekeeper struct {
	rootSecret string
	// eventSecrets maps the event name to its secret.
	eventSecrets map[string]string
}

// NewGatekeeper creates a Gatekeeper from the given secrets. The map is copied.
// Per-event entries with empty secrets are dropped. A missing root secret
// results in an errors.ErrFatal error with kind errors.KindMissingSecret.
func NewGatekeeper(rootSecret string, eventSecrets map[string]string) (*Gatekeeper, error) {
	if rootSecret == "" {
		return nil, errors.NewFatalError(errors.KindMissingSecret, nil, "root secret not set", nil)
	}
	secrets := make(map[string]string, len(eventSecrets))
	for eventName, secret := range eventSecrets {
		if secret == "" {
			continue
		}
		secrets[eventName] = secret
	}
	return &Gatekeeper{
		rootSecret:   rootSecret,
		eventSecrets: secrets,
	}, nil
}

// Authorize reports whether the given credential may change the event with the
// given name. An empty credential is never authorized.
func (g *Gatekeeper) Authorize(credential string, eventName string) bool {
	if credential == "" {
		return false
	}
	if secretEquals(credential, g.rootSecret) {
		return true
	}
	eventSecret, ok := g.eventSecrets[eventName]
	return ok && secretEquals(credential, eventSecret)
}

// AuthorizedEvents returns the number of events with their own secret.
func (g *Gatekeeper) AuthorizedEvents() int {
	return len(g.eventSecrets)
}

// secretEquals compares in constant time.
func secretEquals(credential string, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(credential), []byte(secret)) == 1
}

// CredentialFromRequest extracts the bearer token from the Authorization
// header. If none is present, an errors.ErrUnauthorized error with kind
// errors.KindMissingCredential is returned.
func CredentialFromRequest(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", errors.Error{
			Code:    errors.ErrUnauthorized,
			Kind:    errors.KindMissingCredential,
			Message: "missing bearer credential",
		}
	}
	credential := strings.TrimPrefix(header, bearerPrefix)
	if credential == "" {
		return "", errors.Error{
			Code:    errors.ErrUnauthorized,
			Kind:    errors.KindMissingCredential,
			Message: "empty bearer credential",
		}
	}
	return credential, nil
}

// NewCredentialDeniedError returns an errors.ErrForbidden error with kind
// errors.KindCredentialDenied for the given event.
func NewCredentialDeniedError(eventName string) error {
	return errors.Error{
		Code:    errors.ErrForbidden,
		Kind:    errors.KindCredentialDenied,
		Message: "credential not authorized for event",
		Details: errors.Details{"event": eventName},
	}
}
