package commit_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/tux3ce/pkg/commit"
)

func TestStashPushWalkRoundTrip(t *testing.T) {
	s := commit.NewStash()

	require.NoError(t, s.Push(100, 4))
	require.NoError(t, s.Push(200, 1))

	var got [][2]uint64

	err := s.Walk(func(block uint64, count uint16) error {
		got = append(got, [2]uint64{block, uint64(count)})

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, [][2]uint64{{100, 4}, {200, 1}}, got)
	require.Equal(t, 2, s.Len())
}

func TestStashPushAcceptsMaxCountAndRejectsOversizedBlock(t *testing.T) {
	s := commit.NewStash()

	err := s.Push(0, 65535)
	require.NoError(t, err)

	// 65535 is the max representable count; anything larger must be
	// rejected by the caller before reaching Push (uint16 already caps
	// it), so instead verify the block-overflow guard:
	err = s.Push(1<<48, 1)
	require.ErrorIs(t, err, commit.ErrStashBlockOverflow)
}

func TestStashDrainEmptiesAndStopsOnError(t *testing.T) {
	s := commit.NewStash()
	require.NoError(t, s.Push(1, 1))
	require.NoError(t, s.Push(2, 1))
	require.NoError(t, s.Push(3, 1))

	injected := errors.New("boom")

	var seen []uint64

	err := s.Drain(func(block uint64, count uint16) error {
		seen = append(seen, block)
		if block == 2 {
			return injected
		}

		return nil
	})

	require.ErrorIs(t, err, injected)
	require.Equal(t, []uint64{1, 2}, seen)
	require.Equal(t, 2, s.Len()) // entry 2 and the untraversed entry 3 remain

	// A subsequent successful drain picks up where it left off.
	seen = nil
	err = s.Drain(func(block uint64, count uint16) error {
		seen = append(seen, block)

		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 3}, seen)
	require.True(t, s.Empty())
}

func TestStashEncodingRoundTripsAtBoundaries(t *testing.T) {
	s := commit.NewStash()

	require.NoError(t, s.Push(0, 0))
	require.NoError(t, s.Push((1<<48)-1, 65535))

	var got [][2]uint64

	require.NoError(t, s.Walk(func(block uint64, count uint16) error {
		got = append(got, [2]uint64{block, uint64(count)})

		return nil
	}))

	require.Equal(t, uint64(0), got[0][0])
	require.Equal(t, uint64(0), got[0][1])
	require.Equal(t, uint64(1<<48-1), got[1][0])
	require.Equal(t, uint64(65535), got[1][1])
}
