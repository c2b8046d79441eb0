package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/amaydixit11/cowrite/internal/core"
	"github.com/amaydixit11/cowrite/internal/search"
	"github.com/amaydixit11/cowrite/internal/storage"
)

// NewRoomsCommand creates the rooms command and its subcommands.
func NewRoomsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Manage saved room texts",
	}
	cmd.AddCommand(newRoomsListCommand(rootOpts))
	cmd.AddCommand(newRoomsSearchCommand(rootOpts))
	cmd.AddCommand(newRoomsShowCommand(rootOpts))
	cmd.AddCommand(newRoomsDeleteCommand(rootOpts))
	cmd.AddCommand(newRoomsReindexCommand(rootOpts))
	return cmd
}

func newRoomsListCommand(opts *RootOptions) *cobra.Command {
	var filter storage.ListFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved rooms, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(func(store storage.Store) error {
				docs, err := store.List(filter)
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No saved rooms.")
					return nil
				}
				printDocs(cmd.OutOrStdout(), docs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&filter.Limit, "limit", 0, "maximum number of rooms (0 = all)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "skip this many rooms")
	return cmd
}

func newRoomsSearchCommand(opts *RootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over saved rooms",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(func(store storage.Store) (err error) {
				idx, err := search.NewIndex(opts.cfg.DataDir)
				if err != nil {
					return err
				}
				defer func() { err = multierr.Append(err, idx.Close()) }()

				results, err := idx.Search(strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				docs := make([]storage.Document, 0, len(results))
				for _, r := range results {
					doc, err := store.Get(r.Room)
					var notFound storage.ErrNotFound
					if errors.As(err, &notFound) {
						// deleted from the store behind the index's back
						continue
					}
					if err != nil {
						return err
					}
					docs = append(docs, doc)
				}
				if len(docs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No matches.")
					return nil
				}
				printDocs(cmd.OutOrStdout(), docs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of results")
	return cmd
}

func newRoomsShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <room>",
		Short: "Print the saved text of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := core.ParseRoomID(args[0])
			if err != nil {
				return err
			}
			return opts.withStore(func(store storage.Store) error {
				doc, err := store.Get(room)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), doc.Text)
				return nil
			})
		},
	}
}

func newRoomsDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <room>",
		Short: "Forget the saved text of a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			room, err := core.ParseRoomID(args[0])
			if err != nil {
				return err
			}
			return opts.withStore(func(store storage.Store) (err error) {
				if err := store.Delete(room); err != nil {
					return err
				}
				idx, err := search.NewIndex(opts.cfg.DataDir)
				if err != nil {
					return err
				}
				defer func() { err = multierr.Append(err, idx.Close()) }()
				if err := idx.Delete(room); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Deleted room %s\n", room)
				return nil
			})
		},
	}
}

func newRoomsReindexCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from the saved rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(func(store storage.Store) (err error) {
				docs, err := store.List(storage.ListFilter{})
				if err != nil {
					return err
				}
				idx, err := search.NewIndex(opts.cfg.DataDir)
				if err != nil {
					return err
				}
				defer func() { err = multierr.Append(err, idx.Close()) }()
				if err := idx.Rebuild(docs); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d rooms\n", len(docs))
				return nil
			})
		},
	}
}

func (o *RootOptions) withStore(fn func(storage.Store) error) (err error) {
	store, err := o.cfg.OpenStore()
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()
	return fn(store)
}

func printDocs(out io.Writer, docs []storage.Document) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOM\tSAVED\tLABEL\tTEXT")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Room, d.SavedAt.Local().Format(time.DateTime), d.Name, preview(d.Text, 40))
	}
	w.Flush()
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n-1]) + "…"
}
