package cli

import (
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/amaydixit11/cowrite/internal/transport"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
	Save  bool
	Label string
	Trust bool
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join <room|invite>",
		Short: "Join a room by code or invite",
		Long: `Join an existing room. The text is fetched from the peers already in it.

The argument is either an 8-character room code, found through the
configured discovery services, or an invite printed by "cowrite host
--invite", which dials the inviter directly.

Example:
  cowrite join ABCD1234
  cowrite join cowrite://eyJyIjoi...
  cowrite join --trust cowrite://eyJyIjoi...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Save, "save", false, "retain the text when leaving")
	cmd.Flags().StringVar(&opts.Label, "label", "", "label stored with the saved text")
	cmd.Flags().BoolVar(&opts.Trust, "trust", false, "add the inviter to the trusted-peer allowlist")

	return cmd
}

func runJoin(cmd *cobra.Command, opts *JoinOptions, arg string) error {
	room := arg
	if transport.IsInvite(arg) {
		inv, err := transport.ParseInvite(arg)
		if err != nil {
			return fmt.Errorf("invalid invite: %w", err)
		}
		opts.cfg.Network.Peers = append(opts.cfg.Network.Peers, inv.PeerAddrs()...)
		room = string(inv.Room)
		fmt.Fprintf(cmd.OutOrStdout(), "📨 Invite from %s, valid for %s\n", inv.PeerID, inv.ExpiresIn().Round(time.Second))
		if opts.Trust {
			if err := opts.trustInviter(inv); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Trusted %s\n", inv.PeerID)
		}
	} else if opts.Trust {
		return fmt.Errorf("--trust needs an invite, not a room code")
	}

	f := &p2pFactory{opts: opts.RootOptions}
	s, err := opts.controller(f).Join(cmd.Context(), room)
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "🔗 Joined room %s, waiting for peers...\n", s.RoomID())

	return opts.runSession(cmd, s, opts.Label, opts.Save)
}

// trustInviter adds the signer of a verified invite to the allowlist.
func (o *RootOptions) trustInviter(inv *transport.RoomInvite) error {
	id, err := peer.Decode(inv.PeerID)
	if err != nil {
		return fmt.Errorf("invalid invite peer id: %w", err)
	}
	return o.trust(id, "", inv.Addresses)
}
