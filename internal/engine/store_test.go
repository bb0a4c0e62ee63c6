package engine

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/motorline/auction-engine/pkg/errors"
	"github.com/motorline/auction-engine/pkg/types"
)

func storeAuction(id string) types.Auction {
	return types.Auction{
		ID:              id,
		Type:            types.TypeEnglish,
		Status:          types.StatusLive,
		StartingPrice:   decimal.NewFromInt(100),
		CurrentPrice:    decimal.NewFromInt(100),
		IncrementAmount: decimal.NewFromInt(10),
	}
}

func TestStoreAddDoesNotClobber(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Add(storeAuction("a1"))

	require.NoError(t, s.Update("a1", func(a *types.Auction) error {
		a.CurrentPrice = decimal.NewFromInt(250)
		return nil
	}))

	// A duplicate load must not reset live state.
	s.Add(storeAuction("a1"))
	got, ok := s.Snapshot("a1")
	require.True(t, ok)
	require.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(250)))
	require.Equal(t, 1, s.Len())
}

func TestStoreSnapshotIsolation(t *testing.T) {
	t.Parallel()
	s := NewStore()
	a := storeAuction("a1")
	a.Watchers = map[string]bool{"alice": true}
	s.Add(a)

	snap, ok := s.Snapshot("a1")
	require.True(t, ok)

	// Mutating the snapshot must not leak back into the store.
	snap.CurrentPrice = decimal.NewFromInt(999)
	snap.Watchers["bob"] = true
	snap.Bids = append(snap.Bids, types.Bid{ID: "b1"})

	got, ok := s.Snapshot("a1")
	require.True(t, ok)
	require.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(100)))
	require.False(t, got.Watchers["bob"])
	require.Empty(t, got.Bids)
}

func TestStoreUpdateRollsBackOnError(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Add(storeAuction("a1"))

	boom := stderrors.New("write failed")
	err := s.Update("a1", func(a *types.Auction) error {
		a.CurrentPrice = decimal.NewFromInt(500)
		a.Bids = append(a.Bids, types.Bid{ID: "b1"})
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, ok := s.Snapshot("a1")
	require.True(t, ok)
	require.True(t, got.CurrentPrice.Equal(decimal.NewFromInt(100)))
	require.Empty(t, got.Bids)
}

func TestStoreUpdateUnknownAuction(t *testing.T) {
	t.Parallel()
	s := NewStore()
	err := s.Update("nope", func(a *types.Auction) error { return nil })
	require.Equal(t, errors.ErrAuctionNotFound, errors.Code(err))
}

func TestStoreEvict(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Add(storeAuction("a1"))
	s.Add(storeAuction("a2"))
	require.Equal(t, 2, s.Len())

	s.Evict("a1")
	_, ok := s.Snapshot("a1")
	require.False(t, ok)
	require.Equal(t, 1, s.Len())
	require.Len(t, s.List(), 1)
}

func TestStoreConcurrentUpdatesSerialize(t *testing.T) {
	t.Parallel()
	s := NewStore()
	s.Add(storeAuction("a1"))

	const workers = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update("a1", func(a *types.Auction) error {
				a.BiddersCount++
				return nil
			})
		}()
	}
	wg.Wait()

	got, ok := s.Snapshot("a1")
	require.True(t, ok)
	require.Equal(t, workers, got.BiddersCount)
}
