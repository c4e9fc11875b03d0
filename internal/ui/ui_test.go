package ui

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressLifecycle(t *testing.T) {
	pm := NewProgressManager(io.Discard)

	done := pm.Register("Work")
	done.Update(0, 3, 0)
	done.Update(3, 3, 4096)
	done.MarkDone()
	done.MarkDone()

	aborted := pm.Register("Broken")
	aborted.Update(1, 4, 100)
	aborted.Abort()
	aborted.Update(2, 4, 200)

	pm.Close()

	h := done.(*ProgressHandle)
	assert.Equal(t, int64(3), h.total.Load())
	assert.Equal(t, int64(4096), h.bytes.Load())

	a := aborted.(*ProgressHandle)
	assert.Equal(t, int64(100), a.bytes.Load(), "updates after abort are ignored")
}

func TestNopProgress(t *testing.T) {
	p := NopProgress()
	p.Update(1, 2, 3)
	p.MarkDone()
	p.Abort()
}

func TestLogger(t *testing.T) {
	l, err := NewLogger(false)
	require.NoError(t, err)
	assert.False(t, l.Debug)

	child := l.With("job", "abc")
	child.Infof("hello %s\n", "world")
	child.Debugf("hidden")

	nop := NopLogger().With("k", "v")
	nop.Errorf("dropped")
	nop.Sync()
}
