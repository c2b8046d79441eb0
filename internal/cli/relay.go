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

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/amaydixit11/cowrite/internal/transport"
)

// NewRelayCommand creates the relay command.
func NewRelayCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a signaling relay for peers that cannot find each other",
		Long: `Run a websocket signaling relay.

Peers configured with network.relay announce their addresses here and
learn the addresses of other peers in the same room. The relay only
forwards announcements; document content never passes through it.

Example:
  cowrite relay --listen :8787`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd, rootOpts, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8787", "address to listen on")
	return cmd
}

func relayRouter(relay *transport.RelayServer) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/", relay)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

func runRelay(cmd *cobra.Command, opts *RootOptions, listen string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: listen, Handler: relayRouter(transport.NewRelayServer(opts.sugar()))}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "📡 Relay listening on %s\n", listen)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Fprintln(cmd.OutOrStdout(), "🛑 Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
