package api

import (
	"sync"

	"bruinhooks/internal/model"
)

// Broker fans delivery log entries out to live log-stream clients, keyed by webhook id.
// Slow clients miss entries rather than stall delivery.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.DeliveryLog]struct{} // webhook id -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.DeliveryLog]struct{}{}}
}

func (b *Broker) Subscribe(webhookID string) chan model.DeliveryLog {
	ch := make(chan model.DeliveryLog, 16)
	b.mu.Lock()
	if b.subs[webhookID] == nil {
		b.subs[webhookID] = map[chan model.DeliveryLog]struct{}{}
	}
	b.subs[webhookID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(webhookID string, ch chan model.DeliveryLog) {
	b.mu.Lock()
	if m := b.subs[webhookID]; m != nil {
		if _, ok := m[ch]; ok {
			delete(m, ch)
			close(ch)
		}
		if len(m) == 0 {
			delete(b.subs, webhookID)
		}
	}
	b.mu.Unlock()
}

// Publish matches the retrier's OnAttempt hook.
func (b *Broker) Publish(entry model.DeliveryLog) {
	b.mu.Lock()
	for ch := range b.subs[entry.WebhookID] {
		select {
		case ch <- entry:
		default:
		}
	}
	b.mu.Unlock()
}

// Subscribers reports how many clients follow webhookID.
func (b *Broker) Subscribers(webhookID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[webhookID])
}
