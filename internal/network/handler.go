package network

// EventHandler is implemented by the game layer. All three callbacks are
// invoked from the Hub's goroutine, so implementations may mutate their own
// state without locking as long as they confine it to these callbacks.
type EventHandler interface {
	OnConnect(c *Client)
	OnDisconnect(c *Client)
	OnMessage(c *Client, msg Message)
}
