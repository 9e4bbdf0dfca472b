package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/davecgh/go-spew/spew"
	"github.com/pterm/pterm"

	"github.com/adwski/broadcast-link/backend/model"
)

const (
	chatStart = "start"
	chatText  = "text"
)

// chatMessage is the payload carried in user messages between two peers.
type chatMessage struct {
	Type string `json:"type" cbor:"type"`
	Name string `json:"name,omitempty" cbor:"name,omitempty"`
	Text string `json:"text,omitempty" cbor:"text,omitempty"`
}

type session interface {
	Connect() error
	Disconnect()
	Send(chatMessage) error
	State() model.ConnectionState
}

type console struct {
	sess session
	out  io.Writer
	name string
	dump bool

	mx         sync.Mutex
	remoteName string
}

func newConsole(out io.Writer, name string, dump bool) *console {
	return &console{out: out, name: name, dump: dump}
}

func (c *console) info(format string, args ...any) {
	pterm.Info.WithWriter(c.out).Println(fmt.Sprintf(format, args...))
}

func (c *console) success(format string, args ...any) {
	pterm.Success.WithWriter(c.out).Println(fmt.Sprintf(format, args...))
}

func (c *console) warn(format string, args ...any) {
	pterm.Warning.WithWriter(c.out).Println(fmt.Sprintf(format, args...))
}

func (c *console) fail(err error) {
	pterm.Error.WithWriter(c.out).Println(err.Error())
}

func (c *console) onConnecting() {
	c.info("looking for a peer")
}

func (c *console) onConnected() {
	st := c.sess.State()
	c.success("connected to %s", st.RemoteID)
	if err := c.sess.Send(chatMessage{Type: chatStart, Name: c.name}); err != nil {
		c.fail(err)
	}
}

func (c *console) onDisconnected() {
	c.mx.Lock()
	c.remoteName = ""
	c.mx.Unlock()
	c.warn("disconnected")
}

func (c *console) receive(msg chatMessage) {
	if c.dump {
		spew.Fdump(c.out, msg)
	}
	switch msg.Type {
	case chatStart:
		c.mx.Lock()
		c.remoteName = msg.Name
		c.mx.Unlock()
		c.info("%s joined", msg.Name)
	case chatText:
		c.mx.Lock()
		from := c.remoteName
		c.mx.Unlock()
		if from == "" {
			from = "peer"
		}
		_, _ = fmt.Fprintf(c.out, "%s: %s\n", pterm.Cyan(from), msg.Text)
	default:
		c.warn("unknown message type %q", msg.Type)
	}
}

// exec runs one input line and reports whether the console should exit.
func (c *console) exec(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		if err := c.sess.Send(chatMessage{Type: chatText, Text: input}); err != nil {
			c.fail(err)
		}
		return false
	}

	switch strings.ToLower(strings.Fields(input)[0]) {
	case "/connect", "/c":
		if err := c.sess.Connect(); err != nil {
			c.fail(err)
		}
	case "/disconnect", "/d":
		c.sess.Disconnect()
	case "/state", "/s":
		st := c.sess.State()
		c.info("status=%s local=%s remote=%s", st.Status, st.LocalID, st.RemoteID)
	case "/help", "/h":
		c.help()
	case "/quit", "/q":
		return true
	default:
		c.warn("unknown command %s, type /help", input)
	}
	return false
}

func (c *console) help() {
	_, _ = fmt.Fprintln(c.out, `Commands:
  /connect     find a peer on the channel
  /disconnect  leave the session
  /state       show connection state
  /quit        exit
Any other line is sent to the peer.`)
}

// run reads lines until quit, EOF or ctx is done.
func (c *console) run(ctx context.Context, rl *readline.Instance) {
	go func() {
		<-ctx.Done()
		_ = rl.Close()
	}()
	c.help()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}
		if c.exec(line) {
			return
		}
	}
}
