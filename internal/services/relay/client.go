package relay

// Client is one websocket connection as seen by the hub. The hub writes
// encoded messages to it; the connection's writer drains Send.
type Client struct {
	RequestID string

	send chan []byte

	// guarded by the hub lock
	closed bool
}

func NewClient(requestID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 1
	}

	return &Client{
		RequestID: requestID,
		send:      make(chan []byte, buffer),
	}
}

// Send is closed once the hub drops or disconnects the client.
func (c *Client) Send() <-chan []byte {
	return c.send
}

func (c *Client) close() {
	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
}
