package server

// Transaction tracks a client's in-progress chunked gcodeAppend, spec §4.8.
type Transaction struct {
	Buffer    []byte
	Active    bool
	Cancelled bool
}

// Client owns one accepted connection's fd, receive buffer, and
// transaction state. Owned by the event loop; destroyed on disconnect.
type Client struct {
	fd      int
	readBuf []byte

	Transaction Transaction
}

func newClient(fd int) *Client {
	return &Client{fd: fd}
}
