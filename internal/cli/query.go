package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apopov/strata/driver"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	*RootOptions
	Where  []string
	Order  string
	Limit  int
	Offset int
	Select string
	First  bool
}

// QueryResult is the JSON payload of a query command.
type QueryResult struct {
	Table   string          `json:"table"`
	Count   int             `json:"count"`
	Records []driver.Record `json:"records"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <table>",
		Short: "Read records from a table",
		Long: `Read records from a table, with optional filtering, ordering,
pagination, and projection.

Each --where takes one "field op value" expression; expressions
combine with AND. Values parse as integers, floats, booleans, or
null when they look like one and as strings otherwise; quote a value
to force a string. The in operator takes a comma-separated list.

Examples:
  strata query users --where "zone == north"
  strata query users --where "age >= 27" --order "age desc" --limit 10
  strata query users --where "zone in north,south" --select name,age
  strata query users --where 'name == "42"' --first --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, `filter expression "field op value" (repeatable)`)
	cmd.Flags().StringVar(&opts.Order, "order", "", `sort keys, e.g. "age desc, name"`)
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum records to return (0 means all)")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "matching records to skip")
	cmd.Flags().StringVar(&opts.Select, "select", "", "comma-separated fields to return")
	cmd.Flags().BoolVar(&opts.First, "first", false, "return at most one record")

	return cmd
}

func runQuery(opts *QueryOptions, table string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := openStore(opts.RootOptions, nil)
	if err != nil {
		return outputError(formatter, ExitCommandError, ErrCodeOpenStore,
			fmt.Sprintf("failed to open store: %v", err), nil)
	}
	defer st.Shutdown()
	ctx := context.Background()

	b := st.Query(table)
	for _, expr := range opts.Where {
		field, op, value, err := parseWhere(expr)
		if err != nil {
			return outputError(formatter, ExitCommandError, ErrCodeBadQuery, err.Error(), nil)
		}
		b.Where(field, op, value)
	}
	if opts.Order != "" {
		b.OrderString(opts.Order)
	}
	if opts.Limit > 0 {
		b.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		b.Offset(opts.Offset)
	}
	if opts.Select != "" {
		b.Select(splitFields(opts.Select)...)
	}

	var rows []driver.Record
	if opts.First {
		rec, err := b.First(ctx)
		if err != nil {
			return outputError(formatter, ExitCommandError, ErrCodeStoreOp,
				fmt.Sprintf("query failed: %v", err), nil)
		}
		if rec != nil {
			rows = []driver.Record{rec}
		}
	} else {
		rows, err = b.Get(ctx)
		if err != nil {
			return outputError(formatter, ExitCommandError, ErrCodeStoreOp,
				fmt.Sprintf("query failed: %v", err), nil)
		}
	}

	formatter.VerboseLog("matched %d record(s) in %s", len(rows), table)

	if opts.Format == "json" {
		if rows == nil {
			rows = []driver.Record{}
		}
		return formatter.Success(QueryResult{Table: table, Count: len(rows), Records: rows})
	}

	w := cmd.OutOrStdout()
	for _, rec := range rows {
		fmt.Fprintln(w, formatRecord(rec))
	}
	fmt.Fprintf(w, "%d record(s)\n", len(rows))
	return nil
}
