package chunk

import (
	"sync"

	"github.com/user/ergo-blue/ble"
	"github.com/user/ergo-blue/logger"
	"github.com/user/ergo-blue/wire/gatt"
)

// Notifiable is the part of a characteristic the notifier sends through
type Notifiable interface {
	Notify(value []byte) error
}

// MTUSource reports the negotiated MTU of a connection
type MTUSource interface {
	MTU(conn ble.ConnHandle) uint16
}

// Notifier broadcasts chunked payloads on one characteristic. Each broadcast
// runs on its own short-lived goroutine that sends every frame in index order
// and exits; frames are not acknowledged or retried.
type Notifier struct {
	name        string
	char        Notifiable
	subscribers *gatt.SubscriberSet
	mtus        MTUSource
	elementSize int
	maxMTU      uint16

	wg sync.WaitGroup
}

// NewNotifier creates a notifier for elements of elementSize bytes
func NewNotifier(name string, char Notifiable, subscribers *gatt.SubscriberSet, mtus MTUSource, elementSize int) *Notifier {
	return &Notifier{
		name:        name,
		char:        char,
		subscribers: subscribers,
		mtus:        mtus,
		elementSize: elementSize,
		maxMTU:      ble.MaxMTU,
	}
}

// Subscribers returns the subscriber set the notifier reads on broadcast
func (n *Notifier) Subscribers() *gatt.SubscriberSet {
	return n.subscribers
}

// Broadcast fragments payload for the current subscribers and starts the
// sending goroutine. It returns false when nothing was scheduled: empty
// payload, no subscribers, or no usable MTU.
func (n *Notifier) Broadcast(payload []byte) bool {
	if len(payload) == 0 {
		return false
	}

	conns := n.subscribers.Handles()
	if len(conns) == 0 {
		return false
	}

	mtus := make([]uint16, len(conns))
	for i, c := range conns {
		mtus[i] = n.mtus.MTU(c)
	}

	frames, err := Split(payload, n.elementSize, EffectiveMTU(mtus, n.maxMTU))
	if err != nil {
		logger.Trace("CHUNK", "%s: skipping broadcast: %v", n.name, err)
		return false
	}

	n.wg.Add(1)
	go n.send(frames)
	return true
}

func (n *Notifier) send(frames []Frame) {
	defer n.wg.Done()

	for _, f := range frames {
		if err := n.char.Notify(f.Bytes()); err != nil {
			logger.Warn("CHUNK", "%s: chunk %d/%d not sent: %v", n.name, f.Index, f.Total, err)
		}
	}
	logger.Verbose("CHUNK", "%s: sent %d chunks", n.name, len(frames))
}

// Wait blocks until every started broadcast has finished sending
func (n *Notifier) Wait() {
	n.wg.Wait()
}
