package models

// -----------------------------------------------------------------------------
// SubscribeCommand for client messages
// -----------------------------------------------------------------------------

// MSubscribeCommand is the message a websocket client sends to manage its
// subscriptions. ID is the client-assigned subscription handle; Destination
// names a channel as "<prefix>.<instrumentCode>".
type MSubscribeCommand struct {
	Command     string `json:"command"` // "subscribe" or "unsubscribe"
	ID          string `json:"id"`
	Destination string `json:"destination"`
}

// -----------------------------------------------------------------------------
// Outbound frames
// -----------------------------------------------------------------------------

// MOutboundTick wraps a tick for delivery on a named destination.
type MOutboundTick struct {
	Type        string `json:"type"` // "TICK" or "SNAPSHOT"
	Destination string `json:"destination"`
	Tick        MTick  `json:"tick"`
}

// MOutboundAlert pushes a trigger notification to the owning session.
type MOutboundAlert struct {
	Type  string      `json:"type"` // "ALERT"
	Alert MAlertEvent `json:"alert"`
}
