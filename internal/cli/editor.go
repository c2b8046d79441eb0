package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/amaydixit11/cowrite/internal/awareness"
	"github.com/amaydixit11/cowrite/internal/session"
)

const editorHelp = `Commands:
  p                    print the text
  a <text>             append text
  i <index> <text>     insert text at index
  d <index> <count>    delete count characters at index
  set <text>           replace the whole text
  name <name>          change your display name
  cursor <index>       move your cursor
  who                  list participants
  status               show the connection state
  help                 show this help
  q                    leave the room
Text may be a Go quoted string, e.g. a "line\n".`

// editor is a line-oriented front end for a session.
type editor struct {
	s           *session.Session
	out         io.Writer
	interactive bool
}

func newEditor(s *session.Session, out io.Writer, interactive bool) *editor {
	return &editor{s: s, out: out, interactive: interactive}
}

// run reads commands from in until it is exhausted, the user quits or ctx
// is done.
func (e *editor) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	if e.interactive {
		sub := e.s.Subscribe(session.SubscriptionOptions{Events: []session.EventType{session.EventPresence}})
		defer sub.Close()
		go e.announce(sub)
		fmt.Fprintln(e.out, `Type "help" for commands.`)
	}

	for {
		e.prompt()
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			quit, err := e.exec(line)
			if err != nil {
				fmt.Fprintf(e.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (e *editor) prompt() {
	if e.interactive {
		fmt.Fprint(e.out, "> ")
	}
}

// announce prints peers joining and leaving until sub is closed.
func (e *editor) announce(sub session.Subscription) {
	for ev := range sub.Events() {
		if ev.Presence == nil || ev.Presence.Participant.Local {
			continue
		}
		p := ev.Presence.Participant
		switch ev.Presence.Kind {
		case awareness.Joined:
			fmt.Fprintf(e.out, "\n👋 %s joined\n", p.Name)
		case awareness.Left:
			fmt.Fprintf(e.out, "\n🚪 %s left\n", p.Name)
		}
	}
}

// exec runs one command line and reports whether the user asked to quit.
func (e *editor) exec(line string) (bool, error) {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
		return false, nil
	case "q", "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(e.out, editorHelp)
	case "p", "print":
		fmt.Fprintln(e.out, e.s.Text())
	case "a", "append":
		text, err := unquote(rest)
		if err != nil {
			return false, err
		}
		return false, e.s.Insert(e.s.Len(), text)
	case "i", "insert":
		idx, text, err := intArg(rest)
		if err != nil {
			return false, err
		}
		if text, err = unquote(text); err != nil {
			return false, err
		}
		return false, e.s.Insert(idx, text)
	case "d", "delete":
		idx, countArg, err := intArg(rest)
		if err != nil {
			return false, err
		}
		count, err := strconv.Atoi(strings.TrimSpace(countArg))
		if err != nil {
			return false, fmt.Errorf("count: %w", err)
		}
		return false, e.s.Delete(idx, count)
	case "set":
		text, err := unquote(rest)
		if err != nil {
			return false, err
		}
		return false, e.s.SetText(text)
	case "name":
		name := strings.TrimSpace(rest)
		return false, e.s.SetPresence(awareness.Fields{Name: &name})
	case "cursor":
		idx, _, err := intArg(rest)
		if err != nil {
			return false, err
		}
		return false, e.s.SetPresence(awareness.Fields{Cursor: &idx})
	case "who":
		for _, p := range e.s.Participants() {
			marker := " "
			if p.Local {
				marker = "*"
			}
			cursor := "-"
			if p.Cursor != nil {
				cursor = strconv.Itoa(*p.Cursor)
			}
			fmt.Fprintf(e.out, "%s %-20s %s cursor=%s\n", marker, p.Name, p.Color, cursor)
		}
	case "status":
		st := e.s.Status()
		fmt.Fprintf(e.out, "room %s: %s, %d peers, %d characters\n", e.s.RoomID(), st.State, st.PeerCount, e.s.Len())
	default:
		return false, fmt.Errorf("unknown command %q (try help)", cmd)
	}
	return false, nil
}

// intArg splits a leading integer from the rest of s.
func intArg(s string) (int, string, error) {
	first, rest, _ := strings.Cut(strings.TrimSpace(s), " ")
	n, err := strconv.Atoi(first)
	if err != nil {
		return 0, "", fmt.Errorf("index: %w", err)
	}
	return n, rest, nil
}

func unquote(s string) (string, error) {
	if strings.HasPrefix(s, `"`) {
		return strconv.Unquote(s)
	}
	return s, nil
}
