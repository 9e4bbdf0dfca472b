package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adwski/broadcast-link/backend/connection"
	"github.com/adwski/broadcast-link/backend/model"
)

type fakeSession struct {
	connects    int
	disconnects int
	sent        []chatMessage
	sendErr     error
	state       model.ConnectionState
}

func (f *fakeSession) Connect() error { f.connects++; return nil }
func (f *fakeSession) Disconnect()    { f.disconnects++ }

func (f *fakeSession) Send(msg chatMessage) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSession) State() model.ConnectionState { return f.state }

func newTestConsole(dump bool) (*console, *fakeSession, *bytes.Buffer) {
	pterm.DisableStyling()
	out := &bytes.Buffer{}
	sess := &fakeSession{state: model.ConnectionState{
		Status:   model.StatusConnected,
		LocalID:  "a",
		RemoteID: "b",
	}}
	c := newConsole(out, "alice", dump)
	c.sess = sess
	return c, sess, out
}

func TestExecCommands(t *testing.T) {
	c, sess, out := newTestConsole(false)

	assert.False(t, c.exec("/connect"))
	assert.False(t, c.exec("/d"))
	assert.False(t, c.exec("   "))
	assert.False(t, c.exec("/state"))
	assert.False(t, c.exec("/bogus"))
	assert.True(t, c.exec("/quit"))

	assert.Equal(t, 1, sess.connects)
	assert.Equal(t, 1, sess.disconnects)
	assert.Empty(t, sess.sent)
	assert.Contains(t, out.String(), "status=connected local=a remote=b")
	assert.Contains(t, out.String(), "unknown command /bogus")
}

func TestExecSendsText(t *testing.T) {
	c, sess, _ := newTestConsole(false)

	c.exec("hello there")
	require.Len(t, sess.sent, 1)
	assert.Equal(t, chatMessage{Type: chatText, Text: "hello there"}, sess.sent[0])
}

func TestExecReportsSendError(t *testing.T) {
	c, sess, out := newTestConsole(false)
	sess.sendErr = connection.ErrNotConnected

	c.exec("hello")
	assert.Contains(t, out.String(), connection.ErrNotConnected.Error())
}

func TestConnectedSendsStart(t *testing.T) {
	c, sess, out := newTestConsole(false)

	c.onConnected()
	require.Len(t, sess.sent, 1)
	assert.Equal(t, chatMessage{Type: chatStart, Name: "alice"}, sess.sent[0])
	assert.Contains(t, out.String(), "connected to b")

	sess.sendErr = errors.New("gone")
	c.onConnected()
	assert.Contains(t, out.String(), "gone")
}

func TestReceive(t *testing.T) {
	c, _, out := newTestConsole(false)

	c.receive(chatMessage{Type: chatText, Text: "anyone?"})
	assert.Contains(t, out.String(), "peer: anyone?")

	c.receive(chatMessage{Type: chatStart, Name: "bob"})
	c.receive(chatMessage{Type: chatText, Text: "hi"})
	assert.Contains(t, out.String(), "bob joined")
	assert.Contains(t, out.String(), "bob: hi")

	c.onDisconnected()
	c.receive(chatMessage{Type: chatText, Text: "still here"})
	assert.Contains(t, out.String(), "peer: still here")
}

func TestReceiveDump(t *testing.T) {
	c, _, out := newTestConsole(true)

	c.receive(chatMessage{Type: chatText, Text: "x"})
	assert.Contains(t, out.String(), "chatMessage")
}
