// ABOUTME: Tests for the terminal client's line parsing, rendering and session loop
// ABOUTME: Uses an in-process listener standing in for the gateway

package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/petchat-gateway/internal/protocol"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func TestParseLine(t *testing.T) {
	tests := []struct {
		line     string
		wantOK   bool
		wantQuit bool
		wantKind protocol.Kind
		wantTo   string
		wantText string
	}{
		{line: "   ", wantOK: false},
		{line: "hello there", wantOK: true, wantKind: protocol.KindChat, wantText: "hello there"},
		{line: "@bob  psst", wantOK: true, wantKind: protocol.KindPrivate, wantTo: "bob", wantText: "psst"},
		{line: "@bob", wantOK: true, wantKind: protocol.KindChat, wantText: "@bob"},
		{line: "/typing", wantOK: true, wantKind: protocol.KindTyping},
		{line: "/ping", wantOK: true, wantKind: protocol.KindPing},
		{line: "/quit", wantOK: true, wantQuit: true, wantKind: protocol.KindLeave},
		{line: "/ai what now", wantOK: true, wantKind: protocol.KindChat, wantText: "/ai what now"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			env, quit, ok := parseLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantQuit, quit)
			assert.Equal(t, tt.wantKind, env.Kind)
			assert.Equal(t, tt.wantTo, env.Recipient)
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, env.Content)
			}
		})
	}
}

func TestFormat(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)

	chat := protocol.Envelope{Kind: protocol.KindChat, Sender: "alice", Content: "hi", Timestamp: ts}
	assert.Equal(t, "10:00:00 alice: hi", format(chat))

	private := protocol.Envelope{Kind: protocol.KindPrivate, Sender: "bob", Content: "psst", Timestamp: ts}
	assert.Equal(t, "10:00:00 [private] bob: psst", format(private))

	roster, err := protocol.Envelope{Kind: protocol.KindRoster, Timestamp: ts}.WithData(protocol.RosterData{Users: []string{"alice", "bob"}})
	require.NoError(t, err)
	assert.Equal(t, "10:00:00 * online: alice, bob", format(roster))

	empty := protocol.Envelope{Kind: protocol.KindRoster, Timestamp: ts}
	assert.Equal(t, "10:00:00 * nobody else is here", format(empty))

	emotion := protocol.Envelope{Kind: protocol.KindEmotion, Content: "happy", Timestamp: ts}
	assert.Equal(t, "10:00:00 [emotion] happy", format(emotion))
}

// syncBuffer is a bytes.Buffer safe for the client's reader goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func readEnvelope(conn net.Conn) (protocol.Envelope, error) {
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		return protocol.Envelope{}, err
	}
	payload, err := protocol.ReadFrame(conn, 0)
	if err != nil {
		return protocol.Envelope{}, err
	}
	return protocol.DecodeEnvelope(payload)
}

func TestRun(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []protocol.Envelope, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		var got []protocol.Envelope
		for range 3 {
			env, err := readEnvelope(conn)
			if err != nil {
				break
			}
			got = append(got, env)
			if len(got) == 1 {
				roster, _ := protocol.New(protocol.KindRoster, protocol.ServerSender, "").WithData(protocol.RosterData{Users: []string{"bob"}})
				payload, _ := protocol.EncodeEnvelope(roster)
				_ = protocol.WriteFrame(conn, payload)
			}
		}
		received <- got
	}()

	in := strings.NewReader("hello\n@bob psst\n/quit\n")
	out := &syncBuffer{}
	require.NoError(t, run(context.Background(), ln.Addr().String(), "alice", in, out))

	var got []protocol.Envelope
	select {
	case got = <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive envelopes")
	}

	require.Len(t, got, 3)
	assert.Equal(t, protocol.KindJoin, got[0].Kind)
	assert.Equal(t, "alice", got[0].Sender)
	assert.Equal(t, protocol.KindChat, got[1].Kind)
	assert.Equal(t, "hello", got[1].Content)
	assert.Equal(t, protocol.KindPrivate, got[2].Kind)
	assert.Equal(t, "bob", got[2].Recipient)
}

func TestRun_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	err = run(context.Background(), addr, "alice", strings.NewReader(""), &syncBuffer{})
	assert.ErrorContains(t, err, "connecting to")
}
