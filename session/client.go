package session

import (
	"mini-session-rpc/client"
)

// Client is the typed Store facade over a Stub bound to ServiceName.
type Client struct {
	stub *client.Stub
}

var _ Store = (*Client)(nil)

// NewClient wraps a stub created with client.NewStub[session.Store].
func NewClient(stub *client.Stub) *Client {
	return &Client{stub: stub}
}

// Connect builds the stub for c and wraps it.
func Connect(c *client.Client) (*Client, error) {
	stub, err := client.NewStub[Store](c)
	if err != nil {
		return nil, err
	}
	return NewClient(stub), nil
}

// Stub exposes the underlying stub, e.g. to derive one with another timeout.
func (c *Client) Stub() *client.Stub {
	return c.stub
}

func (c *Client) Get(id string) ([]byte, error) {
	data, err := client.Invoke[[]byte](c.stub, "Get", id)
	if err == nil && data == nil {
		data = []byte{}
	}
	return data, err
}

func (c *Client) Put(id string, data []byte) error {
	return client.Exec(c.stub, "Put", id, data)
}

func (c *Client) Remove(id string) (bool, error) {
	return client.Invoke[bool](c.stub, "Remove", id)
}

func (c *Client) Len() (int, error) {
	return client.Invoke[int](c.stub, "Len")
}
