package transport

import "sync"

// mailbox is an unbounded FIFO in front of the Events channel. Producers
// never block, so a slow consumer cannot stall the network goroutines, and
// every event is kept in arrival order.
type mailbox struct {
	mu     sync.Mutex
	queue  []Event
	signal chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newMailbox() *mailbox {
	m := &mailbox{
		signal: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
	go m.run()
	return m
}

// push enqueues ev. Events pushed after close are dropped.
func (m *mailbox) push(ev Event) {
	select {
	case <-m.done:
		return
	default:
	}

	m.mu.Lock()
	m.queue = append(m.queue, ev)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) events() <-chan Event {
	return m.out
}

func (m *mailbox) close() {
	m.once.Do(func() { close(m.done) })
}

func (m *mailbox) run() {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.signal:
				continue
			case <-m.done:
				return
			}
		}
		ev := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- ev:
		case <-m.done:
			return
		}
	}
}
