package chat

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wtask/linechat/internal/chat/broker"
)

type nopObserver struct{}

func (nopObserver) Joined(broker.JoinEvent)     {}
func (nopObserver) Parted(broker.PartEvent)     {}
func (nopObserver) Relayed(broker.MessageEvent) {}
func (nopObserver) Rejected(broker.RejectEvent) {}

func TestDefaultBroker(test *testing.T) {
	req := require.New(test)

	_, err := DefaultBroker(DefaultBrokerConfig())(nil, nil)
	req.Error(err)

	c := DefaultBrokerConfig()
	c.OutboxSize = -1
	_, err = DefaultBroker(c)(nopObserver{}, nil)
	req.Error(err)

	c = DefaultBrokerConfig()
	c.IdleTimeout = -time.Second
	_, err = DefaultBroker(c)(nopObserver{}, nil)
	req.Error(err)
}

func TestDefaultBroker_History(test *testing.T) {
	req := require.New(test)
	c := DefaultBrokerConfig()
	c.HistorySize = 10
	c.Greets = 2
	c.StopTimeout = time.Second
	b, err := DefaultBroker(c)(nopObserver{}, nil)
	req.NoError(err)
	req.NoError(b.Start("127.0.0.1", 0))
	defer b.Stop()

	for _, text := range []string{"one", "two", "three"} {
		req.NoError(b.Broadcast("alice", text))
	}

	conn, err := net.DialTimeout("tcp", b.Addr().String(), time.Second)
	req.NoError(err)
	defer conn.Close()
	_, err = conn.Write([]byte("bob\n"))
	req.NoError(err)

	r := bufio.NewReader(conn)
	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	for _, want := range []string{"[alice]: two\n", "[alice]: three\n"} {
		line, err := r.ReadString('\n')
		req.NoError(err)
		req.Equal(want, line)
	}
}
