package mqtt

import "log"

// message is a serialized MQTT publish held for replay after reconnection.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO that stores messages while disconnected.
// When full, the oldest message is dropped.
// Not safe for concurrent use; the caller holds the publisher lock.
type outbox struct {
	msgs    []message
	head    int // next write position
	count   int
	dropped int // messages dropped since last drain
}

func newOutbox(capacity int) *outbox {
	return &outbox{msgs: make([]message, capacity)}
}

func (o *outbox) push(msg message) {
	capacity := len(o.msgs)
	if o.count == capacity {
		if o.dropped == 0 {
			log.Printf("mqtt: outbox full (%d messages), dropping oldest", capacity)
		}
		o.dropped++
		// head already points at the oldest message
		o.msgs[o.head] = msg
		o.head = (o.head + 1) % capacity
		return
	}
	o.msgs[o.head] = msg
	o.head = (o.head + 1) % capacity
	o.count++
}

// drain returns the queued messages oldest first and empties the outbox.
func (o *outbox) drain() []message {
	if o.count == 0 {
		return nil
	}

	capacity := len(o.msgs)
	out := make([]message, o.count)
	start := (o.head - o.count + capacity) % capacity
	for i := range out {
		out[i] = o.msgs[(start+i)%capacity]
	}

	if o.dropped > 0 {
		log.Printf("mqtt: %d messages were dropped while offline", o.dropped)
	}
	o.count = 0
	o.head = 0
	o.dropped = 0
	return out
}

func (o *outbox) len() int {
	return o.count
}
