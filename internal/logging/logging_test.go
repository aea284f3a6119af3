package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_SetLevel_rejectsUnknownLevel(t *testing.T) {
	assert.Error(t, SetLevel("deafening"))
}

func Test_SetLevel_acceptsKnownLevels(t *testing.T) {
	require.NoError(t, SetLevel("debug"))
	require.NoError(t, SetLevel("info"))
}

func Test_For_tagsComponent(t *testing.T) {
	logger := For("analyser.3")
	require.NotNil(t, logger)
}

func Test_Reporter_allowsFirstAndEveryNth(t *testing.T) {
	r := NewReporter(3)
	var allowed int
	for i := 0; i < 9; i++ {
		if r.Allow() {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
}

func Test_Reporter_nLessThanOneAllowsEveryCall(t *testing.T) {
	r := NewReporter(0)
	for i := 0; i < 5; i++ {
		assert.True(t, r.Allow())
	}
}
