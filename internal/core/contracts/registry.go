package contracts

// Registry is the in-process index of sessions attached to this instance.
// It is only authoritative for this process; cross-process delivery goes
// through the Broker.
type Registry interface {
	// Register adds a session and returns how many sessions the user now has here.
	Register(c Client) int
	// Unregister removes a session and returns how many the user still has here.
	Unregister(c Client) int
	// Sessions returns the number of local sessions for userID.
	Sessions(userID string) int
}

// Client is one attached live session as seen by the registry.
type Client interface {
	SessionID() string
	UserID() string
	// Close ends the session. It must be safe to call more than once.
	Close()
}
