package sagui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrWriteAndPrintfAppend(t *testing.T) {
	var s Str
	_, err := s.Write([]byte("hello "))
	require.NoError(t, err)
	s.Printf("world %d", 42)

	require.Equal(t, "hello world 42", s.String())
	require.Equal(t, len("hello world 42"), s.Len())
}

func TestStrClearResetsBuffer(t *testing.T) {
	var s Str
	s.Printf("data")
	s.Clear()
	require.Equal(t, 0, s.Len())
	require.Equal(t, "", s.String())
}
