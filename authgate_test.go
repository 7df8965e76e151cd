package sagui

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func basicHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

func TestNewAuthGateParsesBasicCredentials(t *testing.T) {
	g := newAuthGate(basicHeader("ana", "secret"))
	require.Equal(t, "ana", g.Username())
	require.Equal(t, "secret", g.Password())
}

func TestNewAuthGateIgnoresNonBasicHeader(t *testing.T) {
	g := newAuthGate("Bearer abc123")
	require.Equal(t, "", g.Username())
	require.Equal(t, "", g.Password())
}

func TestAuthGateMatchesComparesBothFields(t *testing.T) {
	g := newAuthGate(basicHeader("ana", "secret"))
	require.True(t, g.Matches("ana", "secret"))
	require.False(t, g.Matches("ana", "wrong"))
	require.False(t, g.Matches("eve", "secret"))
}

func TestAuthGateSetRealmRejectsSecondCall(t *testing.T) {
	g := newAuthGate("")
	require.NoError(t, g.SetRealm("Zone A"))
	require.True(t, errors.Is(g.SetRealm("Zone B"), ErrAlready))
}

func TestAuthGateDenyRejectsSecondCall(t *testing.T) {
	g := newAuthGate("")
	require.NoError(t, g.Deny([]byte("no"), "text/plain"))
	require.True(t, errors.Is(g.Deny([]byte("no"), "text/plain"), ErrAlready))
}

func TestAuthGateDispatchSendsChallengeWhenDenied(t *testing.T) {
	g := newAuthGate("")
	require.NoError(t, g.Deny([]byte("denied"), "text/plain"))

	res := newResponse()
	require.NoError(t, g.dispatch(false, res))

	require.Equal(t, 401, res.Status())
	wwwAuth, ok := res.Headers().Get("WWW-Authenticate")
	require.True(t, ok)
	require.Contains(t, wwwAuth, "Basic realm=")
}

func TestAuthGateDispatchAdmittedLeavesResponseUntouched(t *testing.T) {
	g := newAuthGate("")
	require.NoError(t, g.Deny([]byte("denied"), "text/plain"))

	res := newResponse()
	require.NoError(t, g.dispatch(true, res))
	require.False(t, res.dispatched)
}

func TestAuthGateCancelSuppressesDenyBody(t *testing.T) {
	g := newAuthGate("")
	require.NoError(t, g.Deny([]byte("denied"), "text/plain"))
	g.Cancel()

	res := newResponse()
	require.NoError(t, g.dispatch(false, res))
	require.False(t, res.dispatched)
}
