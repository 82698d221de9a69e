// Package broadcast is the in-process control plane: operator commands travel
// a named channel as array frames, stations filter them by hashId and answer
// with a response frame on the same channel.
package broadcast

import (
	"encoding/json"
	"sync"
)

// ChannelName is the channel stations listen on.
const ChannelName = "worker"

const busBuffer = 100

// Bus is a multi-producer multi-consumer pub/sub over named channels.
// Delivery is non-blocking: a subscriber with a full buffer misses the frame.
type Bus struct {
	mu       sync.RWMutex
	channels map[string][]chan json.RawMessage
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{channels: make(map[string][]chan json.RawMessage)}
}

// Subscribe creates a buffered subscription to a named channel.
func (b *Bus) Subscribe(channel string) chan json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan json.RawMessage, busBuffer)
	b.channels[channel] = append(b.channels[channel], ch)
	return ch
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(channel string, ch chan json.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.channels[channel]
	filtered := subs[:0]
	for _, s := range subs {
		if s != ch {
			filtered = append(filtered, s)
		}
	}
	b.channels[channel] = filtered
	close(ch)
}

// Publish delivers a frame to every subscriber of the channel.
func (b *Bus) Publish(channel string, data json.RawMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.channels[channel] {
		select {
		case ch <- data:
		default:
			// Subscriber saturated; frame skipped.
		}
	}
}

// SubscriberCount reports active subscriptions across all channels.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, subs := range b.channels {
		count += len(subs)
	}
	return count
}

// SendRequest marshals and publishes a command frame on the worker channel.
func (b *Bus) SendRequest(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	b.Publish(ChannelName, data)
	return nil
}

// SendResponse marshals and publishes a response frame on the worker channel.
func (b *Bus) SendResponse(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	b.Publish(ChannelName, data)
	return nil
}
