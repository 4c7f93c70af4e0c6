package backpack

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/veiloq/backpack-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/backpack-connector/pkg/logging"
)

// orderBook is one symbol's in-memory book, reconstructed incrementally
// from depth deltas. Sides are keyed by the raw price string; a zero
// quantity removes the level, anything else upserts it. The nonce is the
// last applied update id and is monotonically non-decreasing while the
// book is live.
//
// All mutation happens under mu, and a delta's ask and bid halves are
// applied inside one critical section: readers never observe a book with
// only half of a delta batch merged.
type orderBook struct {
	symbol string

	mu        sync.RWMutex
	bids      map[string]string
	asks      map[string]string
	nonce     uint64
	timestamp int64
	ready     bool
	stale     bool
}

func newOrderBook(symbol string) *orderBook {
	return &orderBook{
		symbol: symbol,
		bids:   make(map[string]string),
		asks:   make(map[string]string),
	}
}

// applyUpdate merges one depth delta. The first delta for a symbol (and the
// first after the book was marked stale) bootstraps the book from empty;
// every later delta merges into the existing state. With gap detection
// enabled, a delta whose first-update-id skips past nonce+1 re-bootstraps
// instead of merging; the discontinuity is logged either way.
func (b *orderBook) applyUpdate(update depthPayload, gapDetection bool, logger logging.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stale {
		logger.Info("rebuilding order book after reconnect",
			logging.String("symbol", b.symbol))
		b.resetLocked()
	} else if b.ready && update.FirstUpdateID > b.nonce+1 {
		logger.Warn("order book update gap detected",
			logging.String("symbol", b.symbol),
			logging.Uint64("nonce", b.nonce),
			logging.Uint64("first_update_id", update.FirstUpdateID),
		)
		if gapDetection {
			b.resetLocked()
		}
	}

	for _, level := range update.Asks {
		upsertLevel(b.asks, level[0], level[1])
	}
	for _, level := range update.Bids {
		upsertLevel(b.bids, level[0], level[1])
	}

	b.timestamp = microsToMillis(update.TradeTime)
	b.nonce = update.LastUpdateID
	b.ready = true
}

// upsertLevel applies one (price, quantity) pair. Removing an absent price
// is a no-op, so replaying a zero-quantity delta is harmless.
func upsertLevel(side map[string]string, price, qty string) {
	if price == "" {
		return
	}
	d, err := decimal.NewFromString(qty)
	if err != nil || d.IsZero() {
		delete(side, price)
		return
	}
	side[price] = qty
}

// markStale flags the book for re-bootstrap. Called when the transport
// drops: the nonce continuity is gone and the next delta must rebuild the
// book rather than merge into it.
func (b *orderBook) markStale() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stale = true
}

func (b *orderBook) resetLocked() {
	b.bids = make(map[string]string)
	b.asks = make(map[string]string)
	b.nonce = 0
	b.timestamp = 0
	b.ready = false
	b.stale = false
}

// limit returns a snapshot with the top n levels per side (bids descending,
// asks ascending); n <= 0 returns every level. The read never mutates the
// book and is safe to run concurrently with delta application.
func (b *orderBook) limit(n int) interfaces.OrderBookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return interfaces.OrderBookSnapshot{
		Symbol:       b.symbol,
		Bids:         sortedLevels(b.bids, true, n),
		Asks:         sortedLevels(b.asks, false, n),
		LastUpdateID: b.nonce,
		Timestamp:    b.timestamp,
	}
}

func (b *orderBook) isReady() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ready && !b.stale
}

func sortedLevels(side map[string]string, desc bool, n int) []interfaces.PriceLevel {
	if len(side) == 0 {
		return nil
	}
	levels := make([]interfaces.PriceLevel, 0, len(side))
	for price, qty := range side {
		p, err := decimal.NewFromString(price)
		if err != nil {
			continue
		}
		q, err := decimal.NewFromString(qty)
		if err != nil {
			continue
		}
		levels = append(levels, interfaces.PriceLevel{Price: p, Quantity: q})
	}
	sort.Slice(levels, func(i, j int) bool {
		if desc {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	if n > 0 && len(levels) > n {
		levels = levels[:n]
	}
	return levels
}

// bookSet holds the per-symbol books. The set lock only guards map access;
// each book carries its own lock, so delta application for one symbol never
// serializes against readers or writers of another.
type bookSet struct {
	mu    sync.RWMutex
	books map[string]*orderBook
}

func newBookSet() *bookSet {
	return &bookSet{books: make(map[string]*orderBook)}
}

// get returns the symbol's book, creating it empty on first use.
func (s *bookSet) get(symbol string) *orderBook {
	s.mu.RLock()
	book, ok := s.books[symbol]
	s.mu.RUnlock()
	if ok {
		return book
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if book, ok = s.books[symbol]; ok {
		return book
	}
	book = newOrderBook(symbol)
	s.books[symbol] = book
	return book
}

// lookup returns the symbol's book without creating one.
func (s *bookSet) lookup(symbol string) (*orderBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	book, ok := s.books[symbol]
	return book, ok
}

// markAllStale flags every open book after a connection loss.
func (s *bookSet) markAllStale() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, book := range s.books {
		book.markStale()
	}
}
