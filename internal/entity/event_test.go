package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventKindString(t *testing.T) {
	require.Equal(t, "ModfileChanged", EventModfileChanged.String())
	require.Equal(t, "ModEdited", EventModEdited.String())

	// wire-decoded value from a newer server
	require.Equal(t, "EventKind(9)", EventKind(9).String())
	require.Equal(t, "EventKind(-1)", EventKind(-1).String())
}

func TestManifestTrackDeduplicates(t *testing.T) {
	m := &Manifest{Unresolved: []ModEvent{{ID: 1, ModID: 5}}}

	m.Track([]ModEvent{{ID: 1, ModID: 5}, {ID: 2, ModID: 6}})
	require.Len(t, m.Unresolved, 2)

	m.Track([]ModEvent{{ID: 2, ModID: 6}})
	require.Len(t, m.Unresolved, 2)
}
