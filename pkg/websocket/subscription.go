package websocket

import "sync"

// subscription is one logical channel multiplexed over the shared
// connection. Each subscription drains its own queue on a dedicated
// goroutine: messages within the channel are handled in arrival order,
// while a slow handler never blocks the read pump or other channels.
type subscription struct {
	channel string
	private bool
	handler MessageHandler

	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}
	done    chan struct{}
	stopped bool
}

func newSubscription(channel string, private bool, handler MessageHandler) *subscription {
	return &subscription{
		channel: channel,
		private: private,
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// enqueue appends a message to the subscription's queue without blocking.
func (s *subscription) enqueue(data []byte) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, data)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until the subscription is stopped.
func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}

		for {
			s.mu.Lock()
			if len(s.pending) == 0 {
				s.mu.Unlock()
				break
			}
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()

			for _, msg := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				s.handler(msg)
			}
		}
	}
}

// stop tears the subscription down; pending messages are discarded.
func (s *subscription) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.pending = nil
	close(s.done)
}
