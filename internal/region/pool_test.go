package region

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegionAcquireRelease(t *testing.T) {
	r, err := NewRegion(2, smallLimits())
	require.NoError(t, err)

	a1, err := r.Acquire()
	require.NoError(t, err)
	a2, err := r.Acquire()
	require.NoError(t, err)

	_, err = r.Acquire()
	require.ErrorIs(t, err, ErrRegionFull)

	r.Release(a1)
	a3, err := r.Acquire()
	require.NoError(t, err)
	require.Same(t, a1, a3)

	r.Release(a2)
	r.Release(a3)
}

func TestRegionSelfDestructsOnDecRefAfterAllReturned(t *testing.T) {
	r, err := NewRegion(1, smallLimits())
	require.NoError(t, err)

	a, err := r.Acquire()
	require.NoError(t, err)

	r.DecRef() // refcount -> 0, but arena still outstanding
	r.Release(a)

	require.Empty(t, r.free)
}

func TestUnboundedPoolNeverFull(t *testing.T) {
	p := NewUnbounded(smallLimits())
	a1, err := p.Acquire()
	require.NoError(t, err)
	a2, err := p.Acquire()
	require.NoError(t, err)
	require.NotSame(t, a1, a2)

	p.Release(a1)
	p.Release(a2)
}
