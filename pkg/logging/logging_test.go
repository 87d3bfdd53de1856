package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, dev := range []bool{false, true} {
		log, err := New("warn", dev)
		require.NoError(t, err)
		assert.False(t, log.Desugar().Core().Enabled(zapcore.InfoLevel))
		assert.True(t, log.Desugar().Core().Enabled(zapcore.ErrorLevel))
	}

	_, err := New("chatty", false)
	assert.Error(t, err)
}

func TestNamedNil(t *testing.T) {
	assert.NotNil(t, Named(nil, "roster"))
}
