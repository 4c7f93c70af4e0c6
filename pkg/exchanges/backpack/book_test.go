package backpack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/backpack-connector/pkg/logging"
)

func newTestBook(t *testing.T) *orderBook {
	t.Helper()
	return newOrderBook("SOL_USDC")
}

func apply(b *orderBook, update depthPayload) {
	b.applyUpdate(update, false, logging.NewNopLogger())
}

func TestBookZeroQuantityOnEmptyBook(t *testing.T) {
	book := newTestBook(t)

	// A delta can remove a level the local book never held.
	apply(book, depthPayload{
		Symbol:        "SOL_USDC",
		Asks:          [][2]string{{"18.70", "0.000"}},
		Bids:          [][2]string{{"18.67", "0.832"}},
		FirstUpdateID: 10,
		LastUpdateID:  11,
	})

	snap := book.limit(0)
	assert.Empty(t, snap.Asks)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "18.67", snap.Bids[0].Price.String())
	assert.Equal(t, "0.832", snap.Bids[0].Quantity.String())
}

func TestBookZeroQuantityReplayIdempotent(t *testing.T) {
	book := newTestBook(t)

	removal := depthPayload{
		Symbol:       "SOL_USDC",
		Asks:         [][2]string{{"18.70", "0"}},
		LastUpdateID: 5,
	}
	apply(book, removal)
	apply(book, removal)

	snap := book.limit(0)
	assert.Empty(t, snap.Asks)
	assert.True(t, book.isReady())
}

func TestBookLastAppliedWins(t *testing.T) {
	book := newTestBook(t)

	apply(book, depthPayload{
		Symbol:       "SOL_USDC",
		Bids:         [][2]string{{"18.50", "1.0"}},
		LastUpdateID: 1,
	})
	apply(book, depthPayload{
		Symbol:       "SOL_USDC",
		Bids:         [][2]string{{"18.50", "2.5"}},
		LastUpdateID: 2,
	})

	snap := book.limit(0)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "2.5", snap.Bids[0].Quantity.String())
	assert.Equal(t, uint64(2), snap.LastUpdateID)
}

func TestBookMergesAcrossUpdates(t *testing.T) {
	book := newTestBook(t)

	apply(book, depthPayload{
		Symbol:       "SOL_USDC",
		Bids:         [][2]string{{"18.50", "1.0"}, {"18.40", "3.0"}},
		Asks:         [][2]string{{"18.60", "2.0"}},
		LastUpdateID: 1,
	})
	apply(book, depthPayload{
		Symbol:       "SOL_USDC",
		Bids:         [][2]string{{"18.45", "0.5"}},
		Asks:         [][2]string{{"18.60", "0"}, {"18.70", "4.0"}},
		LastUpdateID: 2,
	})

	snap := book.limit(0)
	require.Len(t, snap.Bids, 3)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, "18.70", snap.Asks[0].Price.String())
}

func TestBookTimestampConvertedToMillis(t *testing.T) {
	book := newTestBook(t)

	apply(book, depthPayload{
		Symbol:       "SOL_USDC",
		Bids:         [][2]string{{"18.50", "1.0"}},
		TradeTime:    1694687965940999,
		LastUpdateID: 1,
	})

	assert.Equal(t, int64(1694687965940), book.limit(0).Timestamp)
}

func TestBookLimitOrderingAndTruncation(t *testing.T) {
	book := newTestBook(t)

	apply(book, depthPayload{
		Symbol: "SOL_USDC",
		Bids:   [][2]string{{"18.40", "1"}, {"18.50", "1"}, {"18.45", "1"}},
		Asks:   [][2]string{{"18.70", "1"}, {"18.60", "1"}, {"18.65", "1"}},
	})

	snap := book.limit(2)
	require.Len(t, snap.Bids, 2)
	require.Len(t, snap.Asks, 2)
	// Bids descend from the best price, asks ascend.
	assert.Equal(t, "18.5", snap.Bids[0].Price.String())
	assert.Equal(t, "18.45", snap.Bids[1].Price.String())
	assert.Equal(t, "18.6", snap.Asks[0].Price.String())
	assert.Equal(t, "18.65", snap.Asks[1].Price.String())
}

func TestBookDecimalOrdering(t *testing.T) {
	book := newTestBook(t)

	// "9.9" sorts below "10.1" numerically even though it is larger as a string.
	apply(book, depthPayload{
		Symbol: "SOL_USDC",
		Asks:   [][2]string{{"10.1", "1"}, {"9.9", "1"}},
	})

	snap := book.limit(0)
	require.Len(t, snap.Asks, 2)
	assert.Equal(t, "9.9", snap.Asks[0].Price.String())
	assert.Equal(t, "10.1", snap.Asks[1].Price.String())
}

func TestBookStaleRebuildsFromNextDelta(t *testing.T) {
	book := newTestBook(t)

	apply(book, depthPayload{
		Symbol:       "SOL_USDC",
		Bids:         [][2]string{{"18.50", "1.0"}},
		LastUpdateID: 7,
	})
	book.markStale()
	assert.False(t, book.isReady())

	apply(book, depthPayload{
		Symbol:       "SOL_USDC",
		Bids:         [][2]string{{"19.00", "2.0"}},
		LastUpdateID: 99,
	})

	snap := book.limit(0)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "19", snap.Bids[0].Price.String())
	assert.Equal(t, uint64(99), snap.LastUpdateID)
	assert.True(t, book.isReady())
}

func TestBookGapDetectionDisabledMerges(t *testing.T) {
	book := newTestBook(t)

	apply(book, depthPayload{
		Symbol:        "SOL_USDC",
		Bids:          [][2]string{{"18.50", "1.0"}},
		FirstUpdateID: 1,
		LastUpdateID:  1,
	})
	apply(book, depthPayload{
		Symbol:        "SOL_USDC",
		Bids:          [][2]string{{"18.60", "1.0"}},
		FirstUpdateID: 10,
		LastUpdateID:  10,
	})

	assert.Len(t, book.limit(0).Bids, 2)
}

func TestBookGapDetectionEnabledRebuilds(t *testing.T) {
	book := newTestBook(t)

	book.applyUpdate(depthPayload{
		Symbol:        "SOL_USDC",
		Bids:          [][2]string{{"18.50", "1.0"}},
		FirstUpdateID: 1,
		LastUpdateID:  1,
	}, true, logging.NewNopLogger())
	book.applyUpdate(depthPayload{
		Symbol:        "SOL_USDC",
		Bids:          [][2]string{{"18.60", "1.0"}},
		FirstUpdateID: 10,
		LastUpdateID:  10,
	}, true, logging.NewNopLogger())

	snap := book.limit(0)
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "18.6", snap.Bids[0].Price.String())
}

func TestBookSetCreatesOnFirstUse(t *testing.T) {
	set := newBookSet()

	book := set.get("SOL_USDC")
	require.NotNil(t, book)
	assert.Same(t, book, set.get("SOL_USDC"))

	_, ok := set.lookup("BTC_USDC")
	assert.False(t, ok)
}

func TestBookSetMarkAllStale(t *testing.T) {
	set := newBookSet()
	book := set.get("SOL_USDC")
	apply(book, depthPayload{Symbol: "SOL_USDC", Bids: [][2]string{{"18.50", "1"}}})
	require.True(t, book.isReady())

	set.markAllStale()
	assert.False(t, book.isReady())
}
