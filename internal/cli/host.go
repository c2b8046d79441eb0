package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/session"
	"github.com/amaydixit11/cowrite/internal/storage"
)

// HostOptions holds flags for the host command.
type HostOptions struct {
	*RootOptions
	Text         string
	File         string
	Resume       string
	Label        string
	Save         bool
	Invite       bool
	InviteExpiry time.Duration
}

// NewHostCommand creates the host command.
func NewHostCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HostOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create a room and start editing",
		Long: `Create a new room, seed it with an initial text and wait for peers.

The room code printed on start is what others pass to "cowrite join".
With --invite a signed invite is printed as well; peers joining with it
dial this host directly without any discovery service.

Example:
  cowrite host --text "Hello"
  cowrite host --file notes.txt --invite
  cowrite host --resume ABCD1234 --save`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Text, "text", "", "initial text")
	cmd.Flags().StringVar(&opts.File, "file", "", "read the initial text from a file")
	cmd.Flags().StringVar(&opts.Resume, "resume", "", "re-host a saved room with its retained text")
	cmd.Flags().StringVar(&opts.Label, "label", "", "label stored with the saved text")
	cmd.Flags().BoolVar(&opts.Save, "save", false, "retain the text when leaving")
	cmd.Flags().BoolVar(&opts.Invite, "invite", false, "print a signed invite and its QR code")
	cmd.Flags().DurationVar(&opts.InviteExpiry, "invite-expiry", time.Hour, "invite validity")
	cmd.MarkFlagsMutuallyExclusive("text", "file", "resume")

	return cmd
}

func runHost(cmd *cobra.Command, opts *HostOptions) error {
	room, text, label, err := opts.initial()
	if err != nil {
		return err
	}

	f := &p2pFactory{opts: opts.RootOptions}
	ctrl := opts.controller(f)
	var s *session.Session
	if room == "" {
		s, err = ctrl.Host(cmd.Context(), text)
	} else {
		s, err = ctrl.HostRoom(cmd.Context(), room, text)
	}
	if err != nil {
		return fmt.Errorf("failed to host room: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "🚀 Hosting room %s\n", s.RoomID())
	fmt.Fprintf(out, "   Peers join with: cowrite join %s\n", s.RoomID())
	for _, addr := range f.last.Addrs() {
		fmt.Fprintf(out, "   Listening on %s\n", addr)
	}

	if opts.Invite {
		if err := printInvite(cmd, f, opts.InviteExpiry); err != nil {
			s.Leave()
			return err
		}
	}

	return opts.runSession(cmd, s, label, opts.Save || opts.Resume != "")
}

// initial resolves the room and seed text from --text, --file or --resume.
func (opts *HostOptions) initial() (core.RoomID, string, string, error) {
	switch {
	case opts.File != "":
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return "", "", "", fmt.Errorf("read initial text: %w", err)
		}
		label := opts.Label
		if label == "" {
			label = opts.File
		}
		return "", string(data), label, nil

	case opts.Resume != "":
		room, err := core.ParseRoomID(opts.Resume)
		if err != nil {
			return "", "", "", err
		}
		store, err := opts.cfg.OpenStore()
		if err != nil {
			return "", "", "", err
		}
		defer store.Close()
		doc, err := store.Get(room)
		var notFound storage.ErrNotFound
		if errors.As(err, &notFound) {
			return "", "", "", fmt.Errorf("room %s was never saved", room)
		}
		if err != nil {
			return "", "", "", err
		}
		label := opts.Label
		if label == "" {
			label = doc.Name
		}
		return room, doc.Text, label, nil
	}
	return "", opts.Text, opts.Label, nil
}

func printInvite(cmd *cobra.Command, f *p2pFactory, expiry time.Duration) error {
	inv, err := f.last.Invite(expiry)
	if err != nil {
		return fmt.Errorf("failed to create invite: %w", err)
	}
	code, err := inv.Encode()
	if err != nil {
		return err
	}
	qr, err := inv.ToQRString()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\n📨 Invite (valid for %s):\n%s\n\n%s\n", expiry, code, qr)
	return nil
}
