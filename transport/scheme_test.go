// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedDialer(name string, calls *[]string) Dialer {
	return DialerFunc(func(url string) (Conn, error) {
		*calls = append(*calls, name+" "+url)
		return nil, errors.New(name)
	})
}

func TestScheme(t *testing.T) {
	assert.Equal(t, "nats", Scheme("nats://localhost:4222"))
	assert.Equal(t, "mqtt", Scheme("MQTT://localhost:1883"))
	assert.Equal(t, "", Scheme("localhost:4222"))
	assert.Equal(t, "", Scheme("://x"))
}

func TestSchemeDialer(t *testing.T) {
	var calls []string
	d := &SchemeDialer{
		Default: namedDialer("nats", &calls),
		Schemes: map[string]Dialer{
			"mqtt":  namedDialer("mqtt", &calls),
			"mqtts": namedDialer("mqtt", &calls),
		},
	}

	for _, url := range []string{"mqtt://a:1883", "mqtts://b:8883", "nats://c:4222", "tls://d:4222", "e:4222"} {
		_, err := d.Dial(url)
		require.Error(t, err)
	}

	assert.Equal(t, []string{
		"mqtt mqtt://a:1883",
		"mqtt mqtts://b:8883",
		"nats nats://c:4222",
		"nats tls://d:4222",
		"nats e:4222",
	}, calls)
}

func TestSchemeDialerNoDefault(t *testing.T) {
	d := &SchemeDialer{}
	_, err := d.Dial("amqp://localhost")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}
