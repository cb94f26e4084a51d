// Package tlswarn provides a process-wide one-shot warning for
// plaintext backend connections.
package tlswarn

import (
	"log"
	"net/url"
	"sync"
)

var once sync.Once

// LogPlaintext emits a single warning to stderr (via log.Print) the first
// time it is called. Subsequent calls are no-ops. This prevents log spam
// when several transports to the same backend are built in one process.
func LogPlaintext() {
	once.Do(func() {
		log.Print("[TLS] WARNING: connecting to a remote backend without TLS. Tokens are sent in the clear.")
	})
}

// WarnIfPlaintextRemote warns once when endpoint uses an unencrypted
// scheme against a non-loopback host. Loopback backends are the common
// development setup and stay quiet.
func WarnIfPlaintextRemote(endpoint string) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return
	}
	if u.Scheme != "http" && u.Scheme != "ws" {
		return
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1", "":
		return
	}
	LogPlaintext()
}
