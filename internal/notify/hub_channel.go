package notify

import (
	"context"
	"errors"
	"sync"
)

// ErrSubscriptionClosed is returned when resubscribing a closed subscription.
var ErrSubscriptionClosed = errors.New("notify: subscription closed")

// HubChannel is an in-process Channel over a Hub.
type HubChannel struct {
	hub *Hub
}

// NewHubChannel creates a Channel delivering events published on hub.
func NewHubChannel(hub *Hub) *HubChannel {
	return &HubChannel{hub: hub}
}

// Subscribe registers h for roomID. The handler first receives
// StatusSubscribed, then events in publish order.
func (c *HubChannel) Subscribe(ctx context.Context, roomID string, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &hubSubscription{hub: c.hub, roomID: roomID, handler: h}
	if err := s.start(); err != nil {
		return nil, err
	}
	return s, nil
}

type hubSubscription struct {
	hub     *Hub
	roomID  string
	handler Handler

	mu     sync.Mutex
	sub    *Subscriber
	stop   chan struct{}
	closed bool
}

// start must be called with mu held or before the subscription is shared.
func (s *hubSubscription) start() error {
	sub, err := s.hub.Subscribe(s.roomID)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	s.sub, s.stop = sub, stop
	go s.pump(sub, stop)
	return nil
}

func (s *hubSubscription) pump(sub *Subscriber, stop <-chan struct{}) {
	stopped := func() bool {
		select {
		case <-stop:
			return true
		default:
			return false
		}
	}

	if stopped() {
		return
	}
	s.handler.HandleStatus(StatusSubscribed, nil)

	for {
		select {
		case <-stop:
			return
		case <-sub.Done():
			if stopped() {
				return
			}
			for _, e := range sub.Drain() {
				s.handler.HandleEvent(e)
			}
			if err := sub.Err(); err != nil {
				s.handler.HandleStatus(StatusClosed, err)
			}
			return
		case <-sub.Wait():
			for _, e := range sub.Drain() {
				if stopped() {
					return
				}
				s.handler.HandleEvent(e)
			}
		}
	}
}

func (s *hubSubscription) Resubscribe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriptionClosed
	}
	s.halt()
	return s.start()
}

func (s *hubSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.halt()
	return nil
}

func (s *hubSubscription) halt() {
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	if s.sub != nil {
		s.sub.Close()
		s.sub = nil
	}
}
