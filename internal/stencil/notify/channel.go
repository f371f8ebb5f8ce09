// Package notify delivers stencil digests over mail and chat webhooks.
package notify

import (
	"context"
	"errors"
)

// Message is one outgoing notification.
type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

// Channel delivers a message.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// MultiChannel dispatches a message to multiple channels.
type MultiChannel struct {
	channels []Channel
}

// NewMultiChannel constructs a MultiChannel, skipping nil channels.
func NewMultiChannel(channels ...Channel) *MultiChannel {
	m := &MultiChannel{}
	for _, ch := range channels {
		if ch != nil {
			m.channels = append(m.channels, ch)
		}
	}
	return m
}

// Len returns the number of channels.
func (m *MultiChannel) Len() int {
	if m == nil {
		return 0
	}
	return len(m.channels)
}

// Send forwards the message to every channel and joins their errors.
func (m *MultiChannel) Send(ctx context.Context, msg Message) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
