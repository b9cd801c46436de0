// Package client connects to linechat server as a single participant.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wtask/linechat/internal/chat/message"
)

// ErrEmptyName - server rejects participants without name, so client does not even try.
var ErrEmptyName = errors.New("client: name is empty")

// DialError - server is not reachable.
type DialError struct {
	Addr string
	Err  error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("client: can't connect to %s: %v", e.Addr, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// Client - chat participant over TCP connection.
type Client struct {
	name         string
	conn         net.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	sent      atomic.Int64
	received  atomic.Int64
	closeOnce sync.Once
	closeErr  error
}

// Dial - connects to chat server and joins it under the given name.
// Timeout limits connecting and every following write, zero means no limit.
func Dial(ctx context.Context, address, name string, timeout time.Duration) (*Client, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &DialError{Addr: address, Err: err}
	}
	c := &Client{name: name, conn: conn, writeTimeout: timeout}
	if err := c.write(name); err != nil {
		conn.Close()
		return nil, fmt.Errorf("client.Dial: join: %w", err)
	}
	return c, nil
}

// Name - name the client joined with.
func (c *Client) Name() string {
	return c.name
}

// LocalAddr - local address of the connection.
func (c *Client) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// Send - sends text as a single chat line.
func (c *Client) Send(text string) error {
	text = strings.NewReplacer("\r\n", " ", "\n", " ").Replace(text)
	if err := c.write(text); err != nil {
		return err
	}
	c.sent.Add(1)
	return nil
}

func (c *Client) write(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(c.conn, text+"\n")
	return err
}

// Receive - calls handle for every line arrived from server until server closes connection,
// the client is closed or ctx is done. Lines are passed without terminator.
// Returns nil when server or Close has ended the connection.
func (c *Client) Receive(ctx context.Context, handle func(line string)) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	r := bufio.NewReader(c.conn)
	for {
		line, err := message.ReadLine(r, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		c.received.Add(1)
		if handle != nil {
			handle(line)
		}
	}
}

// Forward - sends every line of in until EOF, ctx is done or user types exit or quit.
func (c *Client) Forward(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		text := scanner.Text()
		if IsExit(text) {
			return nil
		}
		if err := c.Send(text); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// IsExit - reports whether line is a command to leave chat.
func IsExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit":
		return true
	}
	return false
}

// Stats - number of lines sent and received so far.
func (c *Client) Stats() (sent, received int) {
	return int(c.sent.Load()), int(c.received.Load())
}

// Close - leaves chat, repeated Close returns the first result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
