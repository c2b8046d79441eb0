package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/term"

	"github.com/amaydixit11/cowrite/internal/search"
	"github.com/amaydixit11/cowrite/internal/session"
	"github.com/amaydixit11/cowrite/internal/storage"
	"github.com/amaydixit11/cowrite/internal/transport"
	"github.com/amaydixit11/cowrite/pkg/api"
)

// p2pFactory builds libp2p transports from the loaded config and remembers
// the last one so the caller can mint invites from its host.
type p2pFactory struct {
	opts *RootOptions
	last *transport.P2PTransport
}

func (f *p2pFactory) build() (transport.Transport, error) {
	t, err := transport.NewP2PTransport(f.opts.cfg.Transport(f.opts.sugar()))
	if err != nil {
		return nil, err
	}
	f.last = t
	return t, nil
}

func (o *RootOptions) controller(f *p2pFactory) *session.Controller {
	return session.NewController(o.cfg.Session(o.sugar()), f.build)
}

// runSession serves the API if configured, runs the line editor until the
// user quits or a signal arrives, then leaves the room.
func (o *RootOptions) runSession(cmd *cobra.Command, s *session.Session, label string, save bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if o.cfg.API.Listen != "" {
		srv = &http.Server{Addr: o.cfg.API.Listen, Handler: api.New(s)}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				o.sugar().Warnf("API server: %v", err)
			}
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "🌐 API listening on http://%s\n", o.cfg.API.Listen)
	}

	ed := newEditor(s, cmd.OutOrStdout(), isTerminal(cmd.InOrStdin()))
	runErr := ed.run(ctx, cmd.InOrStdin())

	var err error
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = multierr.Append(err, srv.Shutdown(shutdownCtx))
		cancel()
	}
	if save {
		doc := storage.Document{Room: s.RoomID(), Name: label, Text: s.Text()}
		if serr := o.retain(doc); serr != nil {
			err = multierr.Append(err, serr)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "💾 Saved room %s (%d characters)\n", doc.Room, len([]rune(doc.Text)))
		}
	}
	err = multierr.Append(err, s.Leave())
	fmt.Fprintln(cmd.OutOrStdout(), "👋 Left the room")
	return multierr.Append(runErr, err)
}

// retain saves doc to the store and indexes it for search.
func (o *RootOptions) retain(doc storage.Document) (err error) {
	store, err := o.cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	if err := store.Save(doc); err != nil {
		return fmt.Errorf("save room: %w", err)
	}
	saved, err := store.Get(doc.Room)
	if err != nil {
		return err
	}

	idx, err := search.NewIndex(o.cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, idx.Close()) }()
	return idx.Index(saved)
}

func isTerminal(r interface{}) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
