// Package notify delivers per-room change notifications.
//
// The Hub fans every published Event out to the subscribers of its room.
// Each subscriber owns a bounded queue; a subscriber that falls behind is
// closed rather than slowing the publisher, and its client is expected to
// resynchronise by fetching the room.
//
// Clients consume notifications through the Channel interface. HubChannel
// subscribes in-process; WSChannel dials the WebSocket endpoint served by
// Handler. Both report their connection status to the Handler so callers can
// react to errors, timeouts and closure.
package notify
