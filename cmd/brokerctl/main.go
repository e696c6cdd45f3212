// Command brokerctl is a line-oriented terminal client for the broker.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/pelusa-v/pelusa-broker/internal/chat"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, in io.Reader, out io.Writer) error {
	var addr, username, room, avatar string

	flagSet := pflag.NewFlagSet("brokerctl", pflag.ContinueOnError)
	flagSet.StringVarP(&addr, "addr", "a", "ws://localhost:5000/ws", "broker websocket URL")
	flagSet.StringVarP(&username, "username", "u", "", "username to join as (required)")
	flagSet.StringVarP(&room, "room", "r", "", "room to join (broker default when empty)")
	flagSet.StringVar(&avatar, "avatar", "", "avatar seed")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if username == "" {
		return errors.New("--username is required")
	}
	if _, err := url.Parse(addr); err != nil {
		return fmt.Errorf("invalid --addr: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := writeIntent(conn, chat.JoinIntent{Username: username, Room: room, Avatar: avatar}); err != nil {
		return err
	}

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			fmt.Fprintln(out, formatEvent(data))
		}
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
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err

		case line, ok := <-lines:
			if !ok {
				return closeNormally(conn)
			}
			intent, err := parseLine(line)
			if errors.Is(err, errQuit) {
				return closeNormally(conn)
			}
			if err != nil {
				fmt.Fprintln(out, "!", err)
				continue
			}
			if intent == nil {
				continue
			}
			if err := writeIntent(conn, intent); err != nil {
				return err
			}
		}
	}
}

func writeIntent(conn *websocket.Conn, intent chat.Intent) error {
	data, err := chat.EncodeIntent(intent)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeNormally(conn *websocket.Conn) error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return conn.WriteMessage(websocket.CloseMessage, msg)
}
