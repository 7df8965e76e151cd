package sagui

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResponseSendInstallsBodyAndHeaders(t *testing.T) {
	res := newResponse()
	require.NoError(t, res.Send([]byte("hello"), "text/plain", 200))

	require.Equal(t, 200, res.Status())
	ct, ok := res.Headers().Get("Content-Type")
	require.True(t, ok)
	require.Equal(t, "text/plain", ct)

	body, err := io.ReadAll(res.Body())
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}

func TestResponseSendRejectsSecondBody(t *testing.T) {
	res := newResponse()
	require.NoError(t, res.Send([]byte("a"), "text/plain", 200))
	require.True(t, errors.Is(res.Send([]byte("b"), "text/plain", 200), ErrAlready))
}

func TestResponseSendRejectsOutOfRangeStatus(t *testing.T) {
	res := newResponse()
	require.True(t, errors.Is(res.Send([]byte("a"), "text/plain", 99), ErrInvalidArgument))
	require.True(t, errors.Is(res.Send([]byte("a"), "text/plain", 600), ErrInvalidArgument))
}

func TestResponseSendBinaryUsesOctetStream(t *testing.T) {
	res := newResponse()
	require.NoError(t, res.SendBinary([]byte{1, 2, 3}, 200))
	ct, _ := res.Headers().Get("Content-Type")
	require.Equal(t, "application/octet-stream", ct)
}

func TestResponseSendFileServesWholeFileByDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("contents"), 0o640))

	res := newResponse()
	require.NoError(t, res.SendFile(path, 0, 0, 0, "attachment", "text/plain", 200))

	body, err := io.ReadAll(res.Body())
	require.NoError(t, err)
	require.Equal(t, "contents", string(body))

	disp, ok := res.Headers().Get("Content-Disposition")
	require.True(t, ok)
	require.Contains(t, disp, "note.txt")
}

func TestResponseSendFileRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	res := newResponse()
	err := res.SendFile(dir, 0, 0, 0, "", "", 200)
	require.True(t, errors.Is(err, ErrIsDirectory))
}

func TestResponseSendFileEnforcesMaxSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o640))

	res := newResponse()
	err := res.SendFile(path, 0, 0, 4, "", "", 200)
	require.True(t, errors.Is(err, ErrFileTooBig))
}

func TestResponseSendStreamAdvertisesChunkedWhenSizeUnknown(t *testing.T) {
	res := newResponse()
	calls := 0
	require.NoError(t, res.SendStream(-1, func(offset int64, buf []byte) (int, error) {
		calls++
		return 0, io.EOF
	}, nil, "text/plain", 200))

	_, ok := res.Headers().Get("Content-Length")
	require.False(t, ok)
	te, ok := res.Headers().Get("Transfer-Encoding")
	require.True(t, ok)
	require.Equal(t, "chunked", te)

	_, err := io.ReadAll(res.Body())
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestResponseZSendFallsBackWhenCompressionDoesNotShrink(t *testing.T) {
	res := newResponse()
	require.NoError(t, res.ZSend([]byte("a"), "text/plain", 0, 200))

	_, ok := res.Headers().Get("Content-Encoding")
	require.False(t, ok)
}

func TestResponseResetPreservesOtherHeaders(t *testing.T) {
	res := newResponse()
	res.Headers().Set("X-Custom", "keep-me")
	require.NoError(t, res.Send([]byte("a"), "text/plain", 200))

	res.Reset()

	require.Equal(t, 500, res.Status())
	require.Nil(t, res.Body())
	_, ok := res.Headers().Get("Content-Type")
	require.False(t, ok)
	v, ok := res.Headers().Get("X-Custom")
	require.True(t, ok)
	require.Equal(t, "keep-me", v)
}

func TestResponseClearDropsHeaders(t *testing.T) {
	res := newResponse()
	res.Headers().Set("X-Custom", "v")
	require.NoError(t, res.Send([]byte("a"), "text/plain", 200))

	res.Clear()

	require.Equal(t, 500, res.Status())
	require.Equal(t, 0, res.Headers().Count())
}

func TestResponseSetCookieValidatesNameAndValue(t *testing.T) {
	res := newResponse()
	require.NoError(t, res.SetCookie("session_id", "abc123"))

	require.True(t, errors.Is(res.SetCookie("bad name", "v"), ErrInvalidArgument))
	require.True(t, errors.Is(res.SetCookie("ok", "bad\x01value"), ErrInvalidArgument))
}
