// Package mqtt maintains the broker session that carries telemetry samples
// into the pipeline.
package mqtt

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Options configures the broker session. Values come from internal/config;
// zero durations fall back to the client's own defaults.
type Options struct {
	BrokerURL     string
	ClientID      string
	KeepAlive     time.Duration
	RetryInterval time.Duration
	// TLSInsecure skips certificate verification for mqtts/ssl brokers.
	// Off unless the deployment explicitly opts in.
	TLSInsecure bool
}

type Conn struct {
	client paho.Client
}

// Message is the broker message handed to subscribers.
type Message struct {
	paho.Message
}

// Dial connects to the broker and blocks until the session is accepted or
// the connect window runs out. The session auto-reconnects afterwards.
func Dial(opts Options) (*Conn, error) {
	co := paho.NewClientOptions()
	co.AddBroker(normalizeBrokerURL(opts.BrokerURL))
	co.SetClientID(opts.ClientID)
	co.SetAutoReconnect(true)
	co.SetConnectRetry(true)
	if opts.RetryInterval > 0 {
		co.SetConnectRetryInterval(opts.RetryInterval)
	}
	if opts.KeepAlive > 0 {
		co.SetKeepAlive(opts.KeepAlive)
		co.SetPingTimeout(opts.KeepAlive / 2)
	}
	if opts.TLSInsecure {
		co.SetTLSConfig(&tls.Config{InsecureSkipVerify: true})
	}

	co.OnConnect = func(_ paho.Client) {
		slog.Info("telemetry broker connected", "broker", opts.BrokerURL)
	}
	co.OnConnectionLost = func(_ paho.Client, err error) {
		slog.Warn("telemetry broker connection lost", "error", err)
	}

	c := paho.NewClient(co)
	tok := c.Connect()
	if !tok.WaitTimeout(15 * time.Second) {
		return nil, errors.New("telemetry broker connect timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, err
	}
	return &Conn{client: c}, nil
}

// Subscribe registers handler for the topic filter at QoS 1, matching the
// at-least-once expectation of telemetry ingest.
func (c *Conn) Subscribe(filter string, handler func(Message)) error {
	tok := c.client.Subscribe(filter, 1, func(_ paho.Client, msg paho.Message) {
		handler(Message{Message: msg})
	})
	tok.Wait()
	return tok.Error()
}

func (c *Conn) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(1000)
}

// normalizeBrokerURL maps the mqtt scheme aliases onto the transport schemes
// the client understands.
func normalizeBrokerURL(raw string) string {
	url := strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(url, "mqtt://"):
		return "tcp://" + strings.TrimPrefix(url, "mqtt://")
	case strings.HasPrefix(url, "mqtts://"):
		return "ssl://" + strings.TrimPrefix(url, "mqtts://")
	}
	return url
}
