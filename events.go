package vbus

import "time"

// EventKind identifies a connection status change.
type EventKind string

// Event kinds
const (
	EventConnected     EventKind = "connected"
	EventDisconnected  EventKind = "disconnected"
	EventReconnected   EventKind = "reconnected"
	EventPublishFailed EventKind = "publish_failed"
)

// Event is a status change reported on Client.Events.
type Event struct {
	Kind EventKind
	Time time.Time
	// URL is the server the client is connected to, empty for injected transports.
	URL string
	Err error
}

func (c *Client) emit(kind EventKind, url string, err error) {
	c.eventsMu.Lock()
	defer c.eventsMu.Unlock()

	if c.eventsClosed {
		return
	}
	select {
	case c.events <- Event{Kind: kind, Time: time.Now(), URL: url, Err: err}:
	default:
		c.logger.Debug("Event dropped, channel full", "kind", kind)
	}
}
