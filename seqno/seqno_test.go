package seqno

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLtIrreflexive(t *testing.T) {
	for i := 0; i < 1000; i++ {
		a := SeqNo(rand.Uint32())
		assert.False(t, Lt(a, a))
		assert.True(t, Le(a, a))
	}
}

func TestLtTransitive(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		a, b, c := SeqNo(r.Uint32()), SeqNo(r.Uint32()), SeqNo(r.Uint32())
		if Lt(a, b) && Lt(b, c) {
			assert.True(t, Lt(a, c), "a=%d b=%d c=%d", a, b, c)
		}
	}
}

func TestLtRolloverAwareDefinition(t *testing.T) {
	// lt(a,b) <=> lt(0, (b-a) mod 2^32) and (b-a) mod 2^32 < 2^31
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		a, b := SeqNo(r.Uint32()), SeqNo(r.Uint32())
		diff := uint32(b) - uint32(a)
		want := diff != 0 && diff < (uint32(1)<<31)
		assert.Equal(t, want, Lt(a, b), "a=%d b=%d diff=%d", a, b, diff)
	}
}

func TestLtAroundRolloverBoundary(t *testing.T) {
	assert.True(t, Lt(SeqNo(1<<31-1), SeqNo(1<<31+1)))
	assert.True(t, Lt(SeqNo(0xFFFFFFFE), SeqNo(1)))
	assert.False(t, Lt(SeqNo(1), SeqNo(0xFFFFFFFE)))
}

func TestInRange(t *testing.T) {
	assert.True(t, InRange(100, 100, 8))
	assert.True(t, InRange(107, 100, 8))
	assert.False(t, InRange(108, 100, 8))
	assert.False(t, InRange(99, 100, 8))
}
