package sagui

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStrMapAddAdmitsDuplicates(t *testing.T) {
	m := NewStrMap()
	m.Add("X-Trace", "a")
	m.Add("X-Trace", "b")
	require.Equal(t, 2, m.Count())

	var values []string
	require.NoError(t, m.Iter(func(e *StrMapEntry) error {
		values = append(values, e.Value)
		return nil
	}))
	require.Equal(t, []string{"a", "b"}, values)
}

func TestStrMapLookupIsASCIICaseInsensitive(t *testing.T) {
	m := NewStrMap()
	m.Add("Content-Type", "text/plain")

	v, ok := m.Get("content-type")
	require.True(t, ok)
	require.Equal(t, "text/plain", v)

	v, ok = m.Get("CONTENT-TYPE")
	require.True(t, ok)
	require.Equal(t, "text/plain", v)
}

func TestStrMapSetReplacesFirstMatchOnly(t *testing.T) {
	m := NewStrMap()
	m.Add("X-Tag", "one")
	m.Add("X-Tag", "two")
	m.Set("X-Tag", "replaced")

	var values []string
	require.NoError(t, m.Iter(func(e *StrMapEntry) error {
		values = append(values, e.Value)
		return nil
	}))
	require.Equal(t, []string{"replaced", "two"}, values)
}

func TestStrMapSetAppendsWhenAbsent(t *testing.T) {
	m := NewStrMap()
	m.Set("X-New", "v")
	require.Equal(t, 1, m.Count())
}

func TestStrMapRmRemovesFirstMatch(t *testing.T) {
	m := NewStrMap()
	m.Add("Cookie", "a")
	m.Add("Cookie", "b")
	require.True(t, m.Rm("cookie"))
	require.Equal(t, 1, m.Count())

	require.False(t, m.Rm("missing"))
}

func TestStrMapAllIteratesInInsertionOrder(t *testing.T) {
	m := NewStrMap()
	m.Add("a", "1")
	m.Add("b", "2")

	var names []string
	for e := range m.All() {
		names = append(names, e.Name)
	}
	require.Equal(t, []string{"a", "b"}, names)
}

func TestStrMapAllStopsEarly(t *testing.T) {
	m := NewStrMap()
	m.Add("a", "1")
	m.Add("b", "2")
	m.Add("c", "3")

	var seen []string
	for e := range m.All() {
		seen = append(seen, e.Name)
		if e.Name == "b" {
			break
		}
	}
	require.Equal(t, []string{"a", "b"}, seen)
}

func TestStrMapSortIsStable(t *testing.T) {
	m := NewStrMap()
	m.Add("b", "1")
	m.Add("a", "2")
	m.Add("a", "3")

	m.Sort(func(a, b *StrMapEntry) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		default:
			return 0
		}
	})

	var values []string
	require.NoError(t, m.Iter(func(e *StrMapEntry) error {
		values = append(values, e.Value)
		return nil
	}))
	require.Equal(t, []string{"2", "3", "1"}, values)
}

func TestStrMapCleanupDiscardsEntries(t *testing.T) {
	m := NewStrMap()
	m.Add("a", "1")
	m.Cleanup()
	require.Equal(t, 0, m.Count())
	_, ok := m.Get("a")
	require.False(t, ok)
}
