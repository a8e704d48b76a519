package shoutcast

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
)

var (
	icyProto  = []byte("ICY")
	httpProto = []byte("HTTP/1.0")
)

// icyConn rewrites a SHOUTcast "ICY 200 OK" status line into "HTTP/1.0 200 OK"
// so that net/http accepts the response.
type icyConn struct {
	net.Conn

	sniffed bool
	head    []byte
	err     error
}

func (c *icyConn) Read(p []byte) (int, error) {
	if !c.sniffed {
		c.sniff()
	}
	if len(c.head) > 0 {
		n := copy(p, c.head)
		c.head = c.head[n:]
		return n, nil
	}
	if c.err != nil {
		return 0, c.err
	}
	return c.Conn.Read(p)
}

func (c *icyConn) sniff() {
	c.sniffed = true

	head := make([]byte, len(icyProto))
	n, err := io.ReadFull(c.Conn, head)
	c.head = head[:n]
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		c.err = err
		return
	}

	if bytes.EqualFold(c.head, icyProto) {
		c.head = append([]byte(nil), httpProto...)
	}
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

func dialICY(d *net.Dialer) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &icyConn{Conn: conn}, nil
	}
}

// dialICYTLS rewrites the status line after TLS termination.
func dialICYTLS(d *net.Dialer, cfg *tls.Config) dialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		raw, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}

		c := &tls.Config{}
		if cfg != nil {
			c = cfg.Clone()
		}
		if c.ServerName == "" {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				host = addr
			}
			c.ServerName = host
		}

		conn := tls.Client(raw, c)
		if err := conn.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, err
		}
		return &icyConn{Conn: conn}, nil
	}
}
