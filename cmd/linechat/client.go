package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"

	"github.com/wtask/linechat/internal/chat/client"
	"github.com/wtask/linechat/internal/chat/message"
	"github.com/wtask/linechat/internal/journal"
)

// printer - colored output of chat lines.
type printer struct {
	out    io.Writer
	self   string
	notice color.Style
	sender color.Style
	own    color.Style
	info   color.Style
}

func newPrinter(out io.Writer, self string) *printer {
	return &printer{
		out:    out,
		self:   self,
		notice: color.New(color.FgYellow),
		sender: color.New(color.FgGreen, color.OpBold),
		own:    color.New(color.FgCyan, color.OpBold),
		info:   color.New(color.FgGray),
	}
}

// line - prints line received from server.
func (p *printer) line(line string) {
	sender, text, ok := strings.Cut(line, "]: ")
	switch {
	case !ok || !strings.HasPrefix(sender, "["):
		fmt.Fprintln(p.out, line)
	case sender == "["+message.SystemSender:
		fmt.Fprintln(p.out, p.notice.Render(line))
	case sender == "["+p.self:
		fmt.Fprintln(p.out, p.own.Render(sender+"]:"), text)
	default:
		fmt.Fprintln(p.out, p.sender.Render(sender+"]:"), text)
	}
}

func (p *printer) infof(format string, args ...any) {
	fmt.Fprintln(p.out, p.info.Render(fmt.Sprintf(format, args...)))
}

// runClient - joins chat, forwards in to server and prints server lines to out,
// until user leaves, server closes connection or ctx is done.
func runClient(ctx context.Context, config Config, logger *slog.Logger, in io.Reader, out io.Writer) (int, error) {
	host := config.serverHost()
	address := net.JoinHostPort(host, strconv.Itoa(config.Port))
	session := journal.NewSession(journal.ClientSession, host, config.Port)
	session.Name = config.Name

	c, err := client.Dial(ctx, address, config.Name, config.DialTimeout)
	if err != nil {
		return exitRuntime, err
	}
	defer c.Close()

	p := newPrinter(out, c.Name())
	p.infof("Joined %s as %s, type exit or quit to leave", address, c.Name())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	received := make(chan error, 1)
	go func() {
		received <- c.Receive(ctx, p.line)
		cancel()
	}()
	forwarded := make(chan error, 1)
	go func() {
		// stdin read can't be interrupted, so nobody waits for this goroutine
		forwarded <- c.Forward(ctx, in)
		cancel()
	}()

	var runErr error
	select {
	case runErr = <-forwarded:
		c.Close()
		<-received
	case runErr = <-received:
		if runErr == nil && ctx.Err() == nil {
			p.infof("Server has closed connection")
		}
	case <-ctx.Done():
		c.Close()
		runErr = <-received
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	sent, got := c.Stats()
	session.Relayed = sent
	session.Received = got
	session.Finish(time.Now())
	if runErr != nil {
		session.Errors++
	}
	saveClientSession(config, logger, session)

	p.infof("Left chat, %d line(s) sent, %d received", sent, got)
	if runErr != nil {
		return exitRuntime, runErr
	}
	return exitOK, nil
}

// saveClientSession - best effort, store may be locked by server running on the same host.
func saveClientSession(config Config, logger *slog.Logger, session journal.Session) {
	if config.SessionDB == "" {
		return
	}
	store, err := journal.Open(config.SessionDB, logger)
	if err != nil {
		logger.Warn("Client session is not saved", "err", err)
		return
	}
	defer store.Close()
	if err := store.SaveSession(session); err != nil {
		logger.Warn("Client session is not saved", "err", err)
	}
}
