package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shelfd/internal/books"
)

func newBooksCmd() *cobra.Command {
	var serverURL string

	cmd := &cobra.Command{
		Use:   "books",
		Short: "Manage books on a running shelfd server",
		Long: `Manage books on a running shelfd server.

Requests carry W3C trace-context and B3 headers; the trace ID is printed to
stderr so the server side of each call can be found in the tracing backend.

Examples:
  shelfd books create --title Dune --author "Frank Herbert" --year 1965
  shelfd books list
  shelfd books get 1
  shelfd books delete 1 --server http://books.internal:3000`,
	}
	cmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:3000", "shelfd server URL")

	c := func() *client { return newClient(serverURL) }

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all books",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var all []books.Book
			traceID, err := c().do(cmd.Context(), "GET", "/books/find", nil, &all)
			return report(cmd, traceID, all, err)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show one book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var b books.Book
			traceID, err := c().do(cmd.Context(), "GET", "/books/find/"+strconv.Itoa(id), nil, &b)
			return report(cmd, traceID, b, err)
		},
	})

	var create books.Book
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Add a book",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := create.Validate(); err != nil {
				return err
			}
			var b books.Book
			traceID, err := c().do(cmd.Context(), "POST", "/books/create", create, &b)
			return report(cmd, traceID, b, err)
		},
	}
	createCmd.Flags().StringVar(&create.Title, "title", "", "book title (required)")
	createCmd.Flags().StringVar(&create.Author, "author", "", "book author")
	createCmd.Flags().IntVar(&create.Year, "year", 0, "publication year")
	_ = createCmd.MarkFlagRequired("title")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var b books.Book
			traceID, err := c().do(cmd.Context(), "DELETE", "/books/delete/"+strconv.Itoa(id), nil, &b)
			return report(cmd, traceID, b, err)
		},
	})

	return cmd
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid book id %q: must be a positive integer", s)
	}
	return id, nil
}

// report prints v as indented JSON and the trace ID to stderr.
func report(cmd *cobra.Command, traceID string, v any, err error) error {
	if traceID != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "trace_id: %s\n", traceID)
	}
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
