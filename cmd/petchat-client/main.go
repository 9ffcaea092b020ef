// ABOUTME: Line-oriented terminal client for petchat-gateway
// ABOUTME: Joins with an identity, turns stdin lines into envelopes and prints what arrives

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/petchat-gateway/internal/protocol"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		addr     string
		identity string
	)

	cmd := &cobra.Command{
		Use:   "petchat-client",
		Short: "Chat with a petchat-gateway from the terminal",
		Long: `Lines typed on stdin are sent as chat messages. Special forms:
  @name text   private message to name
  /typing      typing indicator
  /ping        heartbeat
  /quit        leave and exit`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if identity == "" {
				return errors.New("--name is required")
			}
			return run(cmd.Context(), addr, identity, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:8888", "gateway chat address")
	cmd.Flags().StringVarP(&identity, "name", "n", "", "identity to join with")
	return cmd
}

func run(ctx context.Context, addr, identity string, in io.Reader, out io.Writer) error {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	c := &client{conn: conn, out: out}
	if err := c.send(protocol.Envelope{Kind: protocol.KindJoin, Sender: identity}); err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop() }()

	// Closing the socket unblocks the reader once we are done.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case err := <-readErr:
			if errors.Is(err, protocol.ErrConnectionClosed) {
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return c.send(protocol.Envelope{Kind: protocol.KindLeave})
			}
			env, quit, ok := parseLine(line)
			if !ok {
				continue
			}
			if err := c.send(env); err != nil {
				return err
			}
			if quit {
				return nil
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// parseLine turns one input line into an envelope. ok is false for blank
// lines; quit is true for /quit.
func parseLine(line string) (env protocol.Envelope, quit, ok bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return env, false, false
	case line == "/quit":
		return protocol.Envelope{Kind: protocol.KindLeave}, true, true
	case line == "/typing":
		return protocol.Envelope{Kind: protocol.KindTyping}, false, true
	case line == "/ping":
		return protocol.Envelope{Kind: protocol.KindPing, Content: time.Now().Format(time.RFC3339Nano)}, false, true
	case strings.HasPrefix(line, "@"):
		recipient, text, found := strings.Cut(line[1:], " ")
		if found && recipient != "" {
			return protocol.Envelope{Kind: protocol.KindPrivate, Recipient: recipient, Content: strings.TrimSpace(text)}, false, true
		}
	}
	return protocol.Envelope{Kind: protocol.KindChat, Content: line}, false, true
}

type client struct {
	conn net.Conn
	out  io.Writer

	mu sync.Mutex // serialises frame writes
}

func (c *client) send(env protocol.Envelope) error {
	payload, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return protocol.WriteFrame(c.conn, payload)
}

func (c *client) readLoop() error {
	for {
		payload, err := protocol.ReadFrame(c.conn, 0)
		if err != nil {
			return err
		}
		env, err := protocol.DecodeEnvelope(payload)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, format(env))
	}
}

var (
	dim     = color.New(color.FgHiBlack).SprintFunc()
	bold    = color.New(color.Bold).SprintFunc()
	magenta = color.New(color.FgMagenta).SprintFunc()
	yellow  = color.New(color.FgYellow).SprintFunc()
	red     = color.New(color.FgRed).SprintFunc()
)

// format renders env as one terminal line.
func format(env protocol.Envelope) string {
	ts := dim(env.Timestamp.Local().Format("15:04:05"))
	switch env.Kind {
	case protocol.KindChat:
		return fmt.Sprintf("%s %s: %s", ts, bold(env.Sender), env.Content)
	case protocol.KindPrivate:
		return fmt.Sprintf("%s %s %s: %s", ts, magenta("[private]"), bold(env.Sender), env.Content)
	case protocol.KindJoin, protocol.KindLeave:
		return fmt.Sprintf("%s %s", ts, dim("* "+env.Content))
	case protocol.KindTyping:
		return fmt.Sprintf("%s %s", ts, dim(env.Sender+" is typing..."))
	case protocol.KindSystem:
		return fmt.Sprintf("%s %s %s", ts, red("[system]"), env.Content)
	case protocol.KindSuggestion, protocol.KindMemory, protocol.KindEmotion:
		return fmt.Sprintf("%s %s %s", ts, yellow("["+string(env.Kind)+"]"), env.Content)
	case protocol.KindRoster:
		var data protocol.RosterData
		if len(env.Data) > 0 {
			_ = json.Unmarshal(env.Data, &data)
		}
		if len(data.Users) == 0 {
			return fmt.Sprintf("%s %s", ts, dim("* nobody else is here"))
		}
		return fmt.Sprintf("%s %s", ts, dim("* online: "+strings.Join(data.Users, ", ")))
	default:
		return fmt.Sprintf("%s [%s] %s", ts, env.Kind, env.Content)
	}
}
