package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/spf13/cobra"

	"github.com/amaydixit11/cowrite/internal/transport"
)

// NewPeersCommand creates the peers command and its subcommands.
func NewPeersCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Manage the trusted-peer allowlist",
		Long: `Manage the peers trusted to connect.

The list only restricts connections when network.strict_allowlist is set.`,
	}
	cmd.AddCommand(newPeersAddCommand(rootOpts))
	cmd.AddCommand(newPeersRemoveCommand(rootOpts))
	cmd.AddCommand(newPeersListCommand(rootOpts))
	return cmd
}

func newPeersAddCommand(opts *RootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "add <peer-id>",
		Short: "Trust a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := peer.Decode(args[0])
			if err != nil {
				return fmt.Errorf("invalid peer id: %w", err)
			}
			if err := opts.trust(id, name, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ Trusted %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the peer")
	return cmd
}

func newPeersRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <peer-id>",
		Short: "Stop trusting a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := peer.Decode(args[0])
			if err != nil {
				return fmt.Errorf("invalid peer id: %w", err)
			}
			al, err := opts.allowlist()
			if err != nil {
				return err
			}
			if err := al.Remove(id); err != nil {
				return fmt.Errorf("save allowlist: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Removed %s\n", id)
			return nil
		},
	}
}

func newPeersListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List trusted peers, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			al, err := opts.allowlist()
			if err != nil {
				return err
			}
			peers := al.List()
			if len(peers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No trusted peers.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PEER\tNAME\tADDED")
			for _, p := range peers {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.PeerID, p.Name, time.Unix(p.AddedAt, 0).Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func (o *RootOptions) allowlist() (*transport.Allowlist, error) {
	return transport.NewAllowlist(o.cfg.AllowlistPath(), o.cfg.Network.StrictAllowlist)
}

// trust adds id to the allowlist file.
func (o *RootOptions) trust(id peer.ID, name string, addrs []string) error {
	al, err := o.allowlist()
	if err != nil {
		return err
	}
	if err := al.Add(id, name, addrs); err != nil {
		return fmt.Errorf("save allowlist: %w", err)
	}
	return nil
}
