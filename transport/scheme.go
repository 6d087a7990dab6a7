// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"strings"
)

// SchemeDialer routes Dial calls to a Dialer chosen by the url scheme.
// Urls without a scheme, and schemes with no entry, go to Default.
type SchemeDialer struct {
	Default Dialer
	Schemes map[string]Dialer
}

var _ Dialer = (*SchemeDialer)(nil)

// Dial dials url with the Dialer registered for its scheme.
func (d *SchemeDialer) Dial(url string) (Conn, error) {
	dl, err := d.For(url)
	if err != nil {
		return nil, err
	}
	return dl.Dial(url)
}

// For returns the Dialer that would serve url.
func (d *SchemeDialer) For(url string) (Dialer, error) {
	if dl, ok := d.Schemes[Scheme(url)]; ok {
		return dl, nil
	}
	if d.Default == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, Scheme(url))
	}
	return d.Default, nil
}

// Scheme returns the lower-cased scheme of url, or "" when it has none.
func Scheme(url string) string {
	i := strings.Index(url, "://")
	if i <= 0 {
		return ""
	}
	return strings.ToLower(url[:i])
}
