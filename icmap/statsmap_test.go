package icmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsMapGetComputesOnDemand(t *testing.T) {
	s := NewStatsMap()
	counter := uint32(0)
	s.Register("stats.srp.mcast_tx", func() Value { return NewU32(counter) })

	v, err := s.Get("stats.srp.mcast_tx")
	require.NoError(t, err)
	u, _ := v.Uint64()
	assert.Equal(t, uint64(0), u)

	counter = 7
	v, err = s.Get("stats.srp.mcast_tx")
	require.NoError(t, err)
	u, _ = v.Uint64()
	assert.Equal(t, uint64(7), u, "Get must read the live counter, not a cached snapshot")
}

func TestStatsMapMutatorsNotSupported(t *testing.T) {
	s := NewStatsMap()
	s.Register("stats.srp.mcast_tx", func() Value { return NewU32(0) })

	assert.Error(t, s.Set("stats.srp.mcast_tx", NewU32(1)))
	assert.Error(t, s.Delete("stats.srp.mcast_tx"))
	assert.Error(t, s.AdjustInt("stats.srp.mcast_tx", 1))
}

func TestStatsMapGetMissingIsNotExist(t *testing.T) {
	s := NewStatsMap()
	_, err := s.Get("stats.srp.nope")
	assert.Error(t, err)
}

func TestStatsMapAddDynamicFiresAdd(t *testing.T) {
	s := NewStatsMap()
	var gotKey string
	var gotVal uint64
	_, err := s.TrackAdd("stats.nodes.", MaskAdd|MaskPrefix, func(ev Event, key string, newVal, _ *Value, _ any) {
		assert.Equal(t, EventAdd, ev)
		gotKey = key
		gotVal, _ = newVal.Uint64()
	}, nil)
	require.NoError(t, err)

	s.AddDynamic("stats.nodes.3.mrp", func() Value { return NewU32(42) })
	assert.Equal(t, "stats.nodes.3.mrp", gotKey)
	assert.Equal(t, uint64(42), gotVal)
}

func TestStatsMapRemoveDynamicFiresDeleteWithLastValue(t *testing.T) {
	s := NewStatsMap()
	val := uint32(9)
	s.AddDynamic("stats.nodes.3.mrp", func() Value { return NewU32(val) })

	var gotOld uint64
	_, err := s.TrackAdd("stats.nodes.3.mrp", MaskDelete, func(ev Event, _ string, newVal, oldVal *Value, _ any) {
		assert.Equal(t, EventDelete, ev)
		assert.Nil(t, newVal)
		gotOld, _ = oldVal.Uint64()
	}, nil)
	require.NoError(t, err)

	s.RemoveDynamic("stats.nodes.3.mrp")
	assert.Equal(t, uint64(9), gotOld)

	_, err = s.Get("stats.nodes.3.mrp")
	assert.Error(t, err)
}

func TestStatsMapTriggerTrackersFiresOnChangeOnly(t *testing.T) {
	s := NewStatsMap()
	counter := uint32(1)
	s.Register("stats.srp.token_rx", func() Value { return NewU32(counter) })

	fired := 0
	_, err := s.TrackAdd("stats.srp.token_rx", MaskModify, func(ev Event, _ string, _, _ *Value, _ any) {
		require.Equal(t, EventModify, ev)
		fired++
	}, nil)
	require.NoError(t, err)

	s.TriggerTrackers()
	assert.Equal(t, 0, fired, "first trigger pass only seeds the baseline")

	s.TriggerTrackers()
	assert.Equal(t, 0, fired, "unchanged counter must not fire MODIFY")

	counter = 2
	s.TriggerTrackers()
	assert.Equal(t, 1, fired)

	s.TriggerTrackers()
	assert.Equal(t, 1, fired, "stable counter after the change must not refire")
}

func TestStatsMapIterInitPrefix(t *testing.T) {
	s := NewStatsMap()
	s.Register("stats.srp.mcast_tx", func() Value { return NewU32(1) })
	s.Register("stats.srp.mcast_rx", func() Value { return NewU32(2) })
	s.Register("stats.pg.frags", func() Value { return NewU32(3) })

	it := s.IterInit("stats.srp.")
	seen := map[string]bool{}
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		seen[k] = true
	}
	assert.Len(t, seen, 2)
	assert.True(t, seen["stats.srp.mcast_tx"])
	assert.True(t, seen["stats.srp.mcast_rx"])
}
