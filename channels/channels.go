// Package channels sends campaign messages through outbound providers.
package channels

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"afroboost/models"
)

// ErrChannelUnavailable means no sender is configured for a channel.
var ErrChannelUnavailable = errors.New("channel unavailable")

// Message is one outbound send. IdempotencyKey is stable across retries of
// the same (campaign, recipient).
type Message struct {
	IdempotencyKey string
	To             string
	Name           string
	Subject        string
	Body           string
	ReplyTo        string
}

type Result struct {
	ProviderID string
}

// Sender delivers a message or returns an error. Errors wrapped with
// Permanent are never retried.
type Sender interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as a failure that retrying cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Registry maps campaign channels to their configured sender.
type Registry struct {
	mu      sync.RWMutex
	senders map[models.CampaignChannel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[models.CampaignChannel]Sender)}
}

func (r *Registry) Register(channel models.CampaignChannel, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[channel] = sender
}

func (r *Registry) Get(channel models.CampaignChannel) (Sender, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sender, ok := r.senders[channel]
	if !ok || sender == nil {
		return nil, fmt.Errorf("%w: %s", ErrChannelUnavailable, channel)
	}
	return sender, nil
}
