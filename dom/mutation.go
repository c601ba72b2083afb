package dom

// Op classifies one mutation record.
type Op string

const (
	OpInsert  Op = "insert"   // element attached
	OpRemove  Op = "remove"   // element detached
	OpText    Op = "text"     // children replaced (SetText / SetInnerHTML)
	OpAttr    Op = "attr"     // attribute set or changed
	OpAttrDel Op = "attr_del" // attribute removed
)

// Mutation is one change record. Target is the arena ID of the element the
// change applies to; for OpInsert it is the inserted element itself. Resolve
// it with Document.Element, which returns nil once the element is evicted.
type Mutation struct {
	Op       Op
	Target   uint64
	Name     string // attribute name for attr/attr_del
	Value    string // new value
	OldValue string // previous value where known
}

type subscription struct {
	ch     chan Mutation
	closed bool
}

// Mutations subscribes to the document's mutation feed. The channel is
// buffered; records are dropped, not blocked on, when the consumer lags.
// Call the returned stop function to unsubscribe and close the channel.
func (d *Document) Mutations(buffer int) (<-chan Mutation, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	sub := &subscription{ch: make(chan Mutation, buffer)}
	d.mu.Lock()
	d.subs = append(d.subs, sub)
	d.mu.Unlock()

	stop := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if sub.closed {
			return
		}
		sub.closed = true
		for i, s := range d.subs {
			if s == sub {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				break
			}
		}
		close(sub.ch)
	}
	return sub.ch, stop
}

// emit fans a record out to all subscribers. Caller holds d.mu. Sends never
// block; a full subscriber loses the record and the drop counter advances.
func (d *Document) emit(m Mutation) {
	for _, sub := range d.subs {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- m:
		default:
			d.dropped++
		}
	}
}
