package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/amaydixit11/cowrite/internal/session"
	"github.com/amaydixit11/cowrite/internal/transport"
)

func newTestSession(t *testing.T, text string) *session.Session {
	t.Helper()
	net := transport.NewMemoryNetwork()
	cfg := session.DefaultConfig()
	cfg.Logger = zaptest.NewLogger(t).Sugar()
	ctrl := session.NewController(cfg, func() (transport.Transport, error) {
		return net.NewTransport(), nil
	})
	s, err := ctrl.HostRoom(context.Background(), "EDITOR01", text)
	require.NoError(t, err)
	t.Cleanup(func() {
		if !s.Closed() {
			s.Leave()
		}
	})
	return s
}

func TestEditorCommands(t *testing.T) {
	s := newTestSession(t, "world")
	var out bytes.Buffer
	ed := newEditor(s, &out, false)

	steps := []struct {
		line string
		want string
	}{
		{`i 0 "hello "`, "hello world"},
		{"a !", "hello world!"},
		{"d 5 6", "hello!"},
		{`set "two\nlines"`, "two\nlines"},
		{"", "two\nlines"},
	}
	for _, step := range steps {
		quit, err := ed.exec(step.line)
		require.NoError(t, err, step.line)
		assert.False(t, quit)
		assert.Equal(t, step.want, s.Text(), step.line)
	}

	_, err := ed.exec("p")
	require.NoError(t, err)
	assert.Equal(t, "two\nlines\n", out.String())
}

func TestEditorPresence(t *testing.T) {
	s := newTestSession(t, "abc")
	var out bytes.Buffer
	ed := newEditor(s, &out, false)

	_, err := ed.exec("name Ada Lovelace")
	require.NoError(t, err)
	_, err = ed.exec("cursor 2")
	require.NoError(t, err)

	me := s.Participants()[0]
	assert.Equal(t, "Ada Lovelace", me.Name)
	require.NotNil(t, me.Cursor)
	assert.Equal(t, 2, *me.Cursor)

	_, err = ed.exec("who")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "* Ada Lovelace")
	assert.Contains(t, out.String(), "cursor=2")
}

func TestEditorErrors(t *testing.T) {
	s := newTestSession(t, "abc")
	ed := newEditor(s, &bytes.Buffer{}, false)

	for _, line := range []string{
		"bogus",
		"i x text",
		"i 10 text",
		"d 1",
		"d 1 x",
		"d 1 9223372036854775807",
		"cursor -1",
		`a "unterminated`,
		"cursor",
	} {
		t.Run(line, func(t *testing.T) {
			quit, err := ed.exec(line)
			assert.Error(t, err)
			assert.False(t, quit)
		})
	}
	assert.Equal(t, "abc", s.Text())
}

func TestEditorRun(t *testing.T) {
	s := newTestSession(t, "")
	var out bytes.Buffer
	ed := newEditor(s, &out, false)

	err := ed.run(context.Background(), strings.NewReader("a one\nbogus\na  two\nq\na never\n"))
	require.NoError(t, err)
	assert.Equal(t, "one two", s.Text())
	assert.Contains(t, out.String(), `unknown command "bogus"`)
}

func TestEditorRunStopsAtEOF(t *testing.T) {
	s := newTestSession(t, "")
	ed := newEditor(s, &bytes.Buffer{}, false)

	require.NoError(t, ed.run(context.Background(), strings.NewReader("a x")))
	assert.Equal(t, "x", s.Text())
}

func TestEditorRunStopsOnCancel(t *testing.T) {
	s := newTestSession(t, "")
	ed := newEditor(s, &bytes.Buffer{}, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, w := io.Pipe()
	defer w.Close()
	assert.NoError(t, ed.run(ctx, r))
}
