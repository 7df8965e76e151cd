package sagui

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

const defaultRealm = "Sagui realm"

// AuthGate carries the HTTP Basic credentials extracted from a request's
// Authorization header, plus the deny/cancel/realm negotiation an AuthFunc
// may perform before the request reaches the caller's RequestFunc.
type AuthGate struct {
	username string
	password string

	realmSet bool
	realm    string

	denySet         bool
	denyBody        []byte
	denyContentType string

	canceled bool
}

// newAuthGate parses the Authorization header of a request, if present.
func newAuthGate(authorizationHeader string) *AuthGate {
	g := &AuthGate{}
	const prefix = "Basic "
	if !strings.HasPrefix(authorizationHeader, prefix) {
		return g
	}
	decoded, err := base64.StdEncoding.DecodeString(authorizationHeader[len(prefix):])
	if err != nil {
		return g
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return g
	}
	g.username = user
	g.password = pass
	return g
}

// Username returns the username extracted from Authorization: Basic, or "".
func (g *AuthGate) Username() string { return g.username }

// Password returns the password extracted from Authorization: Basic, or "".
func (g *AuthGate) Password() string { return g.password }

// Matches performs a constant-time comparison of the extracted credentials
// against user/pass, guarding against timing side channels.
func (g *AuthGate) Matches(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(g.username), []byte(user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(g.password), []byte(pass)) == 1
	return userOK && passOK
}

// SetRealm sets the realm reported in WWW-Authenticate on denial. May be
// called at most once; a second call fails with ErrAlready.
func (g *AuthGate) SetRealm(realm string) error {
	if g.realmSet {
		return ErrAlready
	}
	g.realm = realm
	g.realmSet = true
	return nil
}

// Deny prepares a 401 body and content type to be sent if the AuthFunc
// returns false. May be called at most once; a second call fails with ErrAlready.
func (g *AuthGate) Deny(body []byte, contentType string) error {
	if g.denySet {
		return ErrAlready
	}
	g.denyBody = body
	g.denyContentType = contentType
	g.denySet = true
	return nil
}

// Cancel latches the gate so the request terminates with no body and no
// Basic challenge, regardless of the AuthFunc's return value.
func (g *AuthGate) Cancel() {
	g.canceled = true
}

func (g *AuthGate) effectiveRealm() string {
	if g.realmSet && g.realm != "" {
		return g.realm
	}
	return defaultRealm
}

// dispatch runs the AuthGate's post-callback decision: if the callback
// already sent a response, propagate that; if canceled with no response
// prepared, end with no body; otherwise deny with a 401 challenge when
// the callback returned false and a deny body is present; otherwise let
// the request proceed.
func (g *AuthGate) dispatch(admitted bool, res *Response) error {
	if res.dispatched {
		return nil
	}
	if g.canceled {
		return nil
	}
	if admitted {
		return nil
	}
	if !g.denySet {
		return nil
	}
	res.Headers().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm="%s"`, g.effectiveRealm()))
	return res.Send(g.denyBody, g.denyContentType, 401)
}
