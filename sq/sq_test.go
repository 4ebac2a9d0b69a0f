package sq

import (
	"testing"

	"github.com/corosync/corosync-sub008/seqno"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsZeroSize(t *testing.T) {
	_, err := Init(0, 64, 0)
	require.Error(t, err)
}

func TestItemAddGetRoundTrip(t *testing.T) {
	q, err := Init(8, 64, 100)
	require.NoError(t, err)

	q.ItemAdd([]byte("x"), 103)
	q.ItemAdd([]byte("y"), 106)

	q.ItemsRelease(104)

	assert.False(t, q.ItemInuse(103))
	assert.True(t, q.ItemInuse(106))

	got, err := q.ItemGet(106)
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

// S4 from the spec: init(size=8, head_seq=100); item_add(x,103); item_add(y,106);
// items_release(104). Then item_inuse(103)=false, item_inuse(106)=true,
// item_get(106)=y.
func TestScenarioS4(t *testing.T) {
	q, err := Init(8, 64, 100)
	require.NoError(t, err)

	q.ItemAdd([]byte("x"), 103)
	q.ItemAdd([]byte("y"), 106)
	q.ItemsRelease(104)

	assert.False(t, q.ItemInuse(103))
	assert.True(t, q.ItemInuse(106))
	got, err := q.ItemGet(106)
	require.NoError(t, err)
	assert.Equal(t, []byte("y"), got)
}

func TestFullRoundTripProperty2(t *testing.T) {
	const n = 8
	const head = seqno.SeqNo(1000)
	q, err := Init(n, 8, head)
	require.NoError(t, err)

	for i := seqno.SeqNo(0); i < n; i++ {
		q.ItemAdd([]byte{byte(i)}, head+i)
	}

	const k = 3
	q.ItemsRelease(head + k)

	for j := seqno.SeqNo(0); j < n; j++ {
		seq := head + j
		inUse := q.ItemInuse(seq)
		if j <= k {
			assert.False(t, inUse, "seq %d should be released", seq)
		} else {
			assert.True(t, inUse, "seq %d should remain", seq)
			got, err := q.ItemGet(seq)
			require.NoError(t, err)
			assert.Equal(t, []byte{byte(j)}, got)
		}
	}
}

func TestItemAddOutOfRangePanics(t *testing.T) {
	q, err := Init(4, 8, 0)
	require.NoError(t, err)
	assert.Panics(t, func() { q.ItemAdd([]byte("z"), 10) })
}

func TestItemAddDoubleUsePanics(t *testing.T) {
	q, err := Init(4, 8, 0)
	require.NoError(t, err)
	q.ItemAdd([]byte("a"), 1)
	assert.Panics(t, func() { q.ItemAdd([]byte("b"), 1) })
}

func TestItemGetMissing(t *testing.T) {
	q, err := Init(4, 8, 0)
	require.NoError(t, err)
	_, err = q.ItemGet(2)
	assert.Error(t, err)
}

func TestItemMissCountIncrements(t *testing.T) {
	q, err := Init(4, 8, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), q.ItemMissCount(0))
	assert.Equal(t, uint32(2), q.ItemMissCount(0))
}

func TestReinitClearsState(t *testing.T) {
	q, err := Init(4, 8, 0)
	require.NoError(t, err)
	q.ItemAdd([]byte("a"), 1)
	q.Reinit(50)
	assert.False(t, q.ItemInuse(1))
	assert.Equal(t, seqno.SeqNo(50), q.HeadSeq())
	assert.True(t, q.InRange(50))
}

func TestZeroSeqSlotConvention(t *testing.T) {
	q, err := Init(4, 8, 0)
	require.NoError(t, err)
	q.ItemAdd([]byte("zero"), 0)
	assert.True(t, q.ItemInuse(0))
	got, err := q.ItemGet(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("zero"), got)
}
