package broker

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wtask/linechat/internal/chat/history"
	"github.com/wtask/linechat/internal/chat/message"
)

// recorder - observer collecting broker events
type recorder struct {
	mu      sync.Mutex
	joins   []JoinEvent
	parts   []PartEvent
	relays  []MessageEvent
	rejects []RejectEvent
}

func (r *recorder) Joined(e JoinEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, e)
}

func (r *recorder) Parted(e PartEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parts = append(r.parts, e)
}

func (r *recorder) Relayed(e MessageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays = append(r.relays, e)
}

func (r *recorder) Rejected(e RejectEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejects = append(r.rejects, e)
}

func (r *recorder) counts() (joins, parts, relays, rejects int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.joins), len(r.parts), len(r.relays), len(r.rejects)
}

func (r *recorder) partOf(name string) (PartEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.parts {
		if e.Participant.Name == name {
			return e, true
		}
	}
	return PartEvent{}, false
}

// link - in-memory connection, brokerConn is served by broker
type link struct{ clientConn, brokerConn net.Conn }

// join - connects pipe to broker and sends the join line.
// Returned channel gets the result of HandleParticipant.
func join(test *testing.T, b *Broker, name string) (link, <-chan error) {
	test.Helper()
	c, s := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- b.HandleParticipant(s) }()
	_, err := io.WriteString(c, name+"\n")
	require.NoError(test, err)
	test.Cleanup(func() { c.Close() })
	return link{c, s}, done
}

// receiver - collects every line arrived to client side until the connection is closed
func receiver(conn net.Conn) <-chan string {
	lines := make(chan string, 1024)
	go func() {
		defer close(lines)
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			lines <- line
		}
	}()
	return lines
}

// chatLines - reads n relayed lines skipping server notices
func chatLines(test *testing.T, lines <-chan string, n int) []string {
	test.Helper()
	received := []string{}
	timeout := time.After(2 * time.Second)
	for len(received) < n {
		select {
		case line, ok := <-lines:
			if !ok {
				test.Fatalf("connection closed after %d line(s) of %d: %q", len(received), n, received)
			}
			if strings.HasPrefix(line, "["+message.SystemSender+"]") {
				continue
			}
			received = append(received, line)
		case <-timeout:
			test.Fatalf("timed out after %d line(s) of %d: %q", len(received), n, received)
		}
	}
	return received
}

func waitLen(test *testing.T, b *Broker, n int) {
	test.Helper()
	require.Eventually(test, func() bool { return b.Len() == n }, 2*time.Second, 5*time.Millisecond,
		"expected %d participant(s)", n)
}

func newBroker(test *testing.T, options ...Option) (*Broker, *recorder) {
	test.Helper()
	rec := &recorder{}
	b, err := New(append([]Option{WithObserver(rec), WithStopTimeout(time.Second)}, options...)...)
	require.NoError(test, err)
	test.Cleanup(func() { b.Stop() })
	return b, rec
}

func Test_New(test *testing.T) {
	req := require.New(test)
	stack, _ := history.NewStack(5)
	b, err := New(
		WithWriteTimeout(15*time.Second),
		WithIdleTimeout(time.Minute),
		WithHandshakeTimeout(time.Second),
		WithStopTimeout(2*time.Second),
		WithOutboxSize(3),
		WithMaxLineSize(100),
		WithHistory(stack, 10),
		WithJoinNotices(true),
		WithPartNotices(false),
	)
	req.NoError(err)
	req.Equal(15*time.Second, b.writeTimeout)
	req.Equal(time.Minute, b.idleTimeout)
	req.Equal(time.Second, b.handshakeTimeout)
	req.Equal(2*time.Second, b.stopTimeout)
	req.Equal(100, b.maxLineSize)
	req.Equal(3, b.greets, "greets are limited by outbox size")
	req.True(b.joinNotices)
	req.False(b.partNotices)
	req.Nil(b.Addr())

	invalid := []Option{
		WithLogger(nil),
		WithObserver(nil),
		WithWriteTimeout(0),
		WithIdleTimeout(-time.Second),
		WithHandshakeTimeout(-time.Second),
		WithStopTimeout(0),
		WithOutboxSize(0),
		WithMaxLineSize(-1),
		WithHistory(nil, 1),
		WithHistory(stack, -1),
	}
	for i, o := range invalid {
		_, err := New(o)
		req.Error(err, "option #%d", i)
	}
}

func TestBroker_Scenario(test *testing.T) {
	req := require.New(test)
	b, _ := newBroker(test)
	req.NoError(b.Start("127.0.0.1", 0))
	addr := b.Addr().String()

	dial := func(name string) (net.Conn, *bufio.Reader) {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		req.NoError(err)
		test.Cleanup(func() { conn.Close() })
		_, err = io.WriteString(conn, name+"\n")
		req.NoError(err)
		return conn, bufio.NewReader(conn)
	}

	alice, aliceReader := dial("alice")
	waitLen(test, b, 1)
	bob, bobReader := dial("bob")
	waitLen(test, b, 2)

	_, err := io.WriteString(alice, "hello\n")
	req.NoError(err)

	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bobReader.ReadString('\n')
	req.NoError(err)
	req.Equal("[alice]: hello\n", line)

	// no echo to the sender
	alice.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err = aliceReader.ReadString('\n')
	var netErr net.Error
	req.True(errors.As(err, &netErr) && netErr.Timeout(), "unexpected read result: %v", err)
}

func TestBroker_EmptyName(test *testing.T) {
	req := require.New(test)
	b, rec := newBroker(test)
	_, _ = join(test, b, "alice")
	waitLen(test, b, 1)

	for _, name := range []string{"", "   ", "\t \r"} {
		c, s := net.Pipe()
		done := make(chan error, 1)
		go func() { done <- b.HandleParticipant(s) }()
		_, err := io.WriteString(c, name+"\n")
		req.NoError(err)

		err = <-done
		var protoErr *ProtocolError
		req.True(errors.As(err, &protoErr), "unexpected error: %v", err)
		req.ErrorIs(err, ErrEmptyName)

		// connection is closed by broker
		_, err = c.Read(make([]byte, 1))
		req.ErrorIs(err, io.EOF)
		req.Equal(1, b.Len())
		c.Close()
	}
	_, _, _, rejects := rec.counts()
	req.Equal(3, rejects)
}

func TestBroker_HandshakeTimeout(test *testing.T) {
	req := require.New(test)
	b, _ := newBroker(test, WithHandshakeTimeout(20*time.Millisecond))
	c, s := net.Pipe()
	defer c.Close()
	err := b.HandleParticipant(s)
	var protoErr *ProtocolError
	req.True(errors.As(err, &protoErr), "unexpected error: %v", err)
	req.Equal(0, b.Len())
}

func TestBroker_RelayOrder(test *testing.T) {
	req := require.New(test)
	b, rec := newBroker(test)

	alice, _ := join(test, b, "alice")
	carol, _ := join(test, b, "carol")
	bob, _ := join(test, b, "bob")
	waitLen(test, b, 3)
	bobLines := receiver(bob.clientConn)
	aliceLines := receiver(alice.clientConn)

	const n = 50
	wg := sync.WaitGroup{}
	for _, sender := range []struct {
		name string
		conn net.Conn
	}{{"alice", alice.clientConn}, {"carol", carol.clientConn}} {
		wg.Add(1)
		go func(name string, conn net.Conn) {
			defer wg.Done()
			for i := 0; i < n; i++ {
				if _, err := fmt.Fprintf(conn, "%s-%d\n", name, i); err != nil {
					test.Error(name, "write error", err)
					return
				}
			}
		}(sender.name, sender.conn)
	}
	go func() {
		// carol has to drain lines of alice, otherwise her outbox is overflowed
		for range receiver(carol.clientConn) {
		}
	}()
	wg.Wait()

	received := chatLines(test, bobLines, 2*n)
	next := map[string]int{"alice": 0, "carol": 0}
	for _, line := range received {
		sender := strings.TrimPrefix(strings.SplitN(line, "]", 2)[0], "[")
		req.Contains(next, sender)
		req.Equal(fmt.Sprintf("[%s]: %s-%d\n", sender, sender, next[sender]), line)
		next[sender]++
	}

	fromCarol := chatLines(test, aliceLines, n)
	for i, line := range fromCarol {
		req.Equal(fmt.Sprintf("[carol]: carol-%d\n", i), line, "alice must not receive her own lines")
	}
	require.Eventually(test, func() bool {
		_, _, relays, _ := rec.counts()
		return relays == 2*n
	}, time.Second, 5*time.Millisecond)
}

func TestBroker_StuckParticipant(test *testing.T) {
	req := require.New(test)
	writeTimeout := 100 * time.Millisecond
	b, rec := newBroker(test, WithWriteTimeout(writeTimeout))

	alice, _ := join(test, b, "alice")
	normal, _ := join(test, b, "normal")
	_, stuckDone := join(test, b, "stuck") // never reads
	waitLen(test, b, 3)
	normalLines := receiver(normal.clientConn)
	go func() {
		for range receiver(alice.clientConn) {
		}
	}()

	from := time.Now()
	const n = 10
	for i := 0; i < n; i++ {
		_, err := fmt.Fprintf(alice.clientConn, "line-%d\n", i)
		req.NoError(err)
	}

	received := chatLines(test, normalLines, n)
	for i, line := range received {
		req.Equal(fmt.Sprintf("[alice]: line-%d\n", i), line)
	}

	waitLen(test, b, 2)
	req.Less(time.Since(from), 10*writeTimeout)
	part, ok := rec.partOf("stuck")
	req.True(ok)
	req.Equal(PartTimeout, part.Reason)
	var transportErr *TransportError
	req.True(errors.As(part.Err, &transportErr))
	req.True(transportErr.Timeout())

	select {
	case err := <-stuckDone:
		req.NoError(err)
	case <-time.After(time.Second):
		test.Fatal("handling unit of stuck participant is not done")
	}
}

func TestBroker_RemoveParticipant(test *testing.T) {
	req := require.New(test)
	b, rec := newBroker(test)
	alice, done := join(test, b, "alice")
	waitLen(test, b, 1)

	req.True(b.RemoveParticipant(alice.brokerConn))
	req.False(b.RemoveParticipant(alice.brokerConn))
	req.False(b.RemoveParticipant(alice.clientConn))
	req.Equal(0, b.Len())

	select {
	case err := <-done:
		req.NoError(err)
	case <-time.After(time.Second):
		test.Fatal("handling unit is not done")
	}
	_, err := alice.clientConn.Read(make([]byte, 1))
	req.ErrorIs(err, io.EOF)

	_, parts, _, _ := rec.counts()
	req.Equal(1, parts)
	part, _ := rec.partOf("alice")
	req.Equal(PartRemoved, part.Reason)
}

func TestBroker_ConnKept(test *testing.T) {
	b, _ := newBroker(test)
	alice, _ := join(test, b, "alice")
	waitLen(test, b, 1)
	require.ErrorIs(test, b.HandleParticipant(alice.brokerConn), ErrConnKept)
	require.Equal(test, 1, b.Len())
}

func TestBroker_PartNotice(test *testing.T) {
	req := require.New(test)
	b, _ := newBroker(test, WithJoinNotices(true))
	alice, _ := join(test, b, "alice")
	waitLen(test, b, 1)
	aliceLines := receiver(alice.clientConn)

	bob, bobDone := join(test, b, "bob")
	waitLen(test, b, 2)
	bob.clientConn.Close()
	<-bobDone
	waitLen(test, b, 1)

	expected := []string{
		message.Notice("bob has joined"),
		message.Notice("bob has left"),
	}
	for _, e := range expected {
		select {
		case line := <-aliceLines:
			req.Equal(e, line)
		case <-time.After(time.Second):
			test.Fatal("notice is not received:", e)
		}
	}
}

func TestBroker_Broadcast(test *testing.T) {
	req := require.New(test)
	b, _ := newBroker(test)
	network := []link{}
	for _, name := range []string{"alice", "bob", "alice"} {
		l, _ := join(test, b, name)
		network = append(network, l)
	}
	waitLen(test, b, 3) // duplicate names are allowed

	req.NoError(b.Broadcast("ops", "maintenance at noon"))
	for _, l := range network {
		received := chatLines(test, receiver(l.clientConn), 1)
		req.Equal([]string{"[ops]: maintenance at noon\n"}, received)
	}
}

func TestBroker_HistoryGreeting(test *testing.T) {
	req := require.New(test)
	stack, err := history.NewStack(10)
	req.NoError(err)
	b, rec := newBroker(test, WithHistory(stack, 2))

	alice, _ := join(test, b, "alice")
	waitLen(test, b, 1)
	for _, text := range []string{"one", "two", "three"} {
		_, err := io.WriteString(alice.clientConn, text+"\n")
		req.NoError(err)
	}
	require.Eventually(test, func() bool {
		_, _, relays, _ := rec.counts()
		return relays == 3
	}, time.Second, 5*time.Millisecond)

	bob, _ := join(test, b, "bob")
	received := chatLines(test, receiver(bob.clientConn), 2)
	req.Equal([]string{"[alice]: two\n", "[alice]: three\n"}, received)
}

func TestBroker_IdleTimeout(test *testing.T) {
	req := require.New(test)
	b, rec := newBroker(test, WithIdleTimeout(30*time.Millisecond))
	_, done := join(test, b, "sleepy")

	select {
	case err := <-done:
		var transportErr *TransportError
		req.True(errors.As(err, &transportErr), "unexpected error: %v", err)
		req.True(transportErr.Timeout())
	case <-time.After(time.Second):
		test.Fatal("idle participant is not dropped")
	}
	req.Equal(0, b.Len())
	part, ok := rec.partOf("sleepy")
	req.True(ok)
	req.Equal(PartTimeout, part.Reason)
}

func TestBroker_MaxLineSize(test *testing.T) {
	req := require.New(test)
	b, rec := newBroker(test, WithMaxLineSize(8))
	bob, done := join(test, b, "bob")
	waitLen(test, b, 1)

	_, err := io.WriteString(bob.clientConn, "0123456789\n")
	req.NoError(err)
	err = <-done
	req.ErrorIs(err, message.ErrLineTooLong)
	req.Equal(0, b.Len())
	part, _ := rec.partOf("bob")
	req.Equal(PartFailed, part.Reason)
}

func TestBroker_ConcurrentJoins(test *testing.T) {
	req := require.New(test)
	b, rec := newBroker(test)
	req.NoError(b.Start("127.0.0.1", 0))
	addr := b.Addr().String()

	const n = 20
	conns := make([]net.Conn, n)
	wg := sync.WaitGroup{}
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			if err != nil {
				test.Error("dial", err)
				return
			}
			conns[i] = conn
			fmt.Fprintf(conn, "user-%d\n", i)
		}(i)
	}
	wg.Wait()
	waitLen(test, b, n)
	req.Len(b.Participants(), n)

	for i, conn := range conns {
		if i%2 == 0 {
			conn.Close()
		}
	}
	waitLen(test, b, n/2)

	for i, conn := range conns {
		if i%2 != 0 {
			conn.Close()
		}
	}
	waitLen(test, b, 0)
	require.Eventually(test, func() bool {
		joins, parts, _, _ := rec.counts()
		return joins == n && parts == n
	}, time.Second, 5*time.Millisecond)
}

func TestBroker_BindError(test *testing.T) {
	req := require.New(test)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	b, _ := newBroker(test)
	err = b.Start("127.0.0.1", port)
	var bindErr *BindError
	req.True(errors.As(err, &bindErr), "unexpected error: %v", err)

	err = b.Start("127.0.0.1", 70000)
	req.True(errors.As(err, &bindErr), "unexpected error: %v", err)
}

func TestBroker_Stop(test *testing.T) {
	req := require.New(test)
	b, rec := newBroker(test)
	req.NoError(b.Start("127.0.0.1", 0))
	req.ErrorIs(b.Start("127.0.0.1", 0), ErrAlreadyServing)
	addr := b.Addr().String()

	conns := []net.Conn{}
	for _, name := range []string{"alice", "bob"} {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		req.NoError(err)
		defer conn.Close()
		fmt.Fprintln(conn, name)
		conns = append(conns, conn)
	}
	waitLen(test, b, 2)
	// stays in handshake
	pending, err := net.DialTimeout("tcp", addr, time.Second)
	req.NoError(err)
	defer pending.Close()
	conns = append(conns, pending)

	from := time.Now()
	req.NoError(b.Stop())
	req.Less(time.Since(from), time.Second)
	req.Equal(0, b.Len())

	for _, conn := range conns {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		_, err := io.ReadAll(conn)
		var netErr net.Error
		req.False(errors.As(err, &netErr) && netErr.Timeout(), "connection is not closed by Stop")
	}

	_, err = net.DialTimeout("tcp", addr, 100*time.Millisecond)
	req.Error(err)

	req.ErrorIs(b.Broadcast("ops", "late"), ErrShutdown)
	req.ErrorIs(b.Start("127.0.0.1", 0), ErrShutdown)
	c, s := net.Pipe()
	defer c.Close()
	err = b.HandleParticipant(s)
	var shutdownErr *ShutdownError
	req.True(errors.As(err, &shutdownErr))
	req.NoError(b.Stop())

	_, parts, _, _ := rec.counts()
	req.Equal(2, parts)
	part, _ := rec.partOf("alice")
	req.Equal(PartShutdown, part.Reason)
}

func TestBroker_Serve(test *testing.T) {
	req := require.New(test)
	b, _ := newBroker(test)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	req.NoError(err)

	served := make(chan error, 1)
	go func() { served <- b.Serve(listener) }()
	require.Eventually(test, func() bool { return b.Addr() != nil }, time.Second, 5*time.Millisecond)

	conn, err := net.DialTimeout("tcp", listener.Addr().String(), time.Second)
	req.NoError(err)
	defer conn.Close()
	fmt.Fprintln(conn, "alice")
	waitLen(test, b, 1)

	req.NoError(b.Stop())
	select {
	case err := <-served:
		req.NoError(err)
	case <-time.After(time.Second):
		test.Fatal("Serve is not finished after Stop")
	}
}
