package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// CountOptions holds options for the count command.
type CountOptions struct {
	*RootOptions
	Where []string
}

// CountResult is the JSON payload of a count command.
type CountResult struct {
	Table string `json:"table"`
	Count int64  `json:"count"`
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "count <table>",
		Short: "Count records in a table",
		Long: `Count the records in a table that match the given --where
expressions, or all records when none are given.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, `filter expression "field op value" (repeatable)`)

	return cmd
}

func runCount(opts *CountOptions, table string, cmd *cobra.Command) error {
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

	b := st.Query(table)
	for _, expr := range opts.Where {
		field, op, value, err := parseWhere(expr)
		if err != nil {
			return outputError(formatter, ExitCommandError, ErrCodeBadQuery, err.Error(), nil)
		}
		b.Where(field, op, value)
	}

	n, err := b.Count(context.Background())
	if err != nil {
		return outputError(formatter, ExitCommandError, ErrCodeStoreOp,
			fmt.Sprintf("count failed: %v", err), nil)
	}

	if opts.Format == "json" {
		return formatter.Success(CountResult{Table: table, Count: n})
	}
	fmt.Fprintln(cmd.OutOrStdout(), n)
	return nil
}
