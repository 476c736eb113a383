// Package network provides helpers for multiplexing several protocols
// over a single listener.
package network

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/soheilhy/cmux"
)

type comparer struct {
	bytes []byte
	bl    int
}

func (c *comparer) matchPrefix(r io.Reader) bool {
	buf := make([]byte, c.bl)
	n, _ := io.ReadFull(r, buf)
	return bytes.Equal(c.bytes, buf[:n])
}

// ByteMatcher matches connections whose first byte equals b.
func ByteMatcher(b byte) cmux.Matcher {
	c := &comparer{
		bytes: []byte{b},
		bl:    1,
	}
	return c.matchPrefix
}

// ListenByte returns a listener for connections starting with header.
// The header byte is consumed before the connection is handed out.
func ListenByte(mux cmux.CMux, header byte) net.Listener {
	return &Listener{
		header: string(header),
		ln:     mux.Match(ByteMatcher(header)),
	}
}

// Listener serves connections accepted from a shared mux.
type Listener struct {
	header string
	ln     net.Listener

	mu sync.RWMutex
}

// Accept waits for and returns the next connection, stripping the mux header.
func (ln *Listener) Accept() (net.Conn, error) {
	ln.mu.RLock()
	defer ln.mu.RUnlock()

	conn, err := ln.ln.Accept()
	if err != nil {
		return nil, err
	}
	h := []byte(ln.header)
	if _, err = io.ReadFull(conn, h[:]); err != nil {
		return nil, fmt.Errorf("mux.Listener: cannot read header: %s", err)
	}

	return conn, nil
}

// Close removes the listener from its mux and closes it.
func (ln *Listener) Close() error {
	return ln.ln.Close()
}

// Addr returns the address of the multiplexed listener.
func (ln *Listener) Addr() net.Addr {
	ln.mu.RLock()
	defer ln.mu.RUnlock()

	if ln.ln == nil {
		return nil
	}

	return ln.ln.Addr()
}

// Dial connects to a muxed service, writing header first.
func Dial(network, address string, header byte) (net.Conn, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write([]byte{header}); err != nil {
		return nil, fmt.Errorf("write mux header: %s", err)
	}
	return conn, nil
}

// DialTimeout is Dial with a connection timeout.
func DialTimeout(network, address string, header byte, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Write([]byte{header}); err != nil {
		return nil, fmt.Errorf("write mux header: %s", err)
	}
	return conn, nil
}
