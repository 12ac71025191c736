package token

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	for k := ILLEGAL; k < maxKind; k++ {
		require.NotEmpty(t, k.String())
	}
}

func TestKeywordsAreExhaustive(t *testing.T) {
	// Every keyword name in the grammar must resolve to its own Kind, and the
	// Kind's own String() must round-trip to the keyword spelling.
	for word, kind := range Keywords {
		require.Equal(t, word, kind.String())
	}
	for k := AND; k <= WHILE; k++ {
		require.Equal(t, k, Keywords[k.String()])
	}
}

func TestKindStringUnknown(t *testing.T) {
	require.Equal(t, "Kind(255)", Kind(255).String())
}
