// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt implements transport.Conn on top of the Eclipse Paho MQTT
// client. Queue groups map to MQTT v5 style shared subscriptions
// ($share/<group>/<topic>), which brokers such as FluxMQ and EMQX also
// honour for 3.1.1 clients.
//
// Paho has no reconnect attempt cap and no byte-sized reconnect buffer;
// MaxReconnects and ReconnectBufSize are therefore not applied.
package mqtt

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/absmach/lossbench/transport"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// DefaultURL is used when a migration names no target.
const DefaultURL = "mqtt://127.0.0.1:1883"

// SharePrefix is the topic prefix of shared subscriptions.
const SharePrefix = "$share/"

var _ transport.Dialer = (*Dialer)(nil)

// Dialer creates MQTT connections with a fixed option set.
type Dialer struct {
	opts transport.Options
}

// NewDialer returns a Dialer.
func NewDialer(opts transport.Options) *Dialer {
	if opts.DefaultURL == "" {
		opts.DefaultURL = DefaultURL
	}
	return &Dialer{opts: opts}
}

// Dial connects to url (mqtt://, mqtts://, tcp://, ssl://, ws://).
func (d *Dialer) Dial(rawURL string) (transport.Conn, error) {
	rawURL = d.opts.ResolveURL(rawURL)

	broker, err := BrokerURL(rawURL)
	if err != nil {
		return nil, err
	}

	c := &conn{
		url:  rawURL,
		subs: make(map[string]*subscription),
	}

	client := paho.NewClient(d.clientOptions(broker))
	tok := client.Connect()
	if !tok.WaitTimeout(d.opts.ConnectTimeout) {
		client.Disconnect(0)
		return nil, fmt.Errorf("failed to connect to %s: %w", rawURL, transport.ErrNotConnected)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rawURL, err)
	}
	c.client = client
	return c, nil
}

func (d *Dialer) clientOptions(broker string) *paho.ClientOptions {
	o := d.opts
	l := o.Listener

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(ClientID(o.Name)).
		SetCleanSession(true).
		SetConnectTimeout(o.ConnectTimeout).
		SetKeepAlive(o.PingInterval).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(o.ReconnectWait).
		SetOrderMatters(false)

	if l == nil {
		return opts
	}

	return opts.
		SetOnConnectHandler(func(_ paho.Client) {
			l.ConnectionEvent(o.Name, transport.EventConnected)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			l.ExceptionOccurred(o.Name, err)
			l.ConnectionEvent(o.Name, transport.EventDisconnected)
		}).
		SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
			l.ConnectionEvent(o.Name, transport.EventReconnected)
		})
}

// ClientID derives a unique MQTT client identifier from a connection name.
func ClientID(name string) string {
	if name == "" {
		name = "lossbench"
	}
	return name + "-" + uuid.NewString()[:8]
}

// BrokerURL converts a mqtt:// or mqtts:// address to the scheme Paho
// expects. tcp://, ssl://, ws:// and wss:// pass through unchanged.
func BrokerURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid broker url %q: %w", raw, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "mqtt":
		u.Scheme = "tcp"
	case "mqtts":
		u.Scheme = "ssl"
	case "tcp", "ssl", "tls", "ws", "wss":
	default:
		return "", fmt.Errorf("%w: %q", transport.ErrUnsupportedScheme, u.Scheme)
	}
	return u.String(), nil
}

// SharedTopic returns the shared subscription filter for queue.
func SharedTopic(queue, topic string) string {
	if queue == "" {
		return topic
	}
	return SharePrefix + queue + "/" + topic
}

// waitToken bounds a Paho token wait.
func waitToken(tok paho.Token, timeout time.Duration) error {
	if !tok.WaitTimeout(timeout) {
		return transport.ErrFlushTimeout
	}
	return tok.Error()
}
