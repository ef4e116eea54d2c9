// Package relay sends natural-language commands to a voice-assistant
// relay service.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"go.uber.org/zap"
)

const assistantPath = "/assistant"

// Payload is the JSON body accepted by the relay's assistant endpoint.
type Payload struct {
	User    string `json:"user"`
	Command string `json:"command"`
}

// Error reports a command that could not be delivered to the relay.
type Error struct {
	Host    string
	Command string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay %s: command %q: %v", e.Host, e.Command, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client posts commands on behalf of one relay user.
type Client struct {
	host       string
	username   string
	httpClient *http.Client
}

type Option func(*Client)

// WithTimeout bounds every request. Without it a request only ends when
// the relay answers or the caller's context is done.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(host string, username string, opts ...Option) *Client {
	c := &Client{
		host:       host,
		username:   username,
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SendCommand issues exactly one POST to {host}/assistant. The relay's
// answer is drained and ignored; only transport failures are errors.
func (c *Client) SendCommand(ctx context.Context, command string) error {
	endpoint := strings.TrimSuffix(c.host, "/") + assistantPath

	zap.S().Debugf("Sending command %q to %s", command, endpoint)

	err := requests.
		URL(endpoint).
		Client(c.httpClient).
		Post().
		BodyJSON(&Payload{User: c.username, Command: command}).
		AddValidator(nil).
		Fetch(ctx)

	if err != nil {
		return &Error{Host: c.host, Command: command, Err: err}
	}

	return nil
}
