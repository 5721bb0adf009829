package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apopov/strata"
)

// InfoOptions holds options for the info command.
type InfoOptions struct {
	*RootOptions
}

// InfoResult is the JSON payload of an info command.
type InfoResult struct {
	Driver         string   `json:"driver"`
	Source         string   `json:"source"`
	DataDir        string   `json:"data_dir"`
	SQLitePath     string   `json:"sqlite_path"`
	Operators      []string `json:"operators"`
	OrderBy        bool     `json:"order_by"`
	LimitOffset    bool     `json:"limit_offset"`
	Transactions   bool     `json:"transactions"`
	Returning      bool     `json:"returning"`
	NestedRollback string   `json:"nested_rollback"`
	NativeBulk     bool     `json:"native_bulk"`
}

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InfoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show the active driver and its capabilities",
		Long: `Show which driver the current configuration selects, where its
data lives, and what the driver can do.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(opts, cmd)
		},
	}

	return cmd
}

func runInfo(opts *InfoOptions, cmd *cobra.Command) error {
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

	cfg, source := st.ActiveConfig()
	caps := st.Capabilities()

	ops := make([]string, 0, len(caps.Operators))
	for op, ok := range caps.Operators {
		if ok {
			ops = append(ops, string(op))
		}
	}
	sort.Strings(ops)

	result := InfoResult{
		Driver:         string(cfg.Driver),
		Source:         string(source),
		DataDir:        cfg.DataDir,
		SQLitePath:     cfg.SQLitePath,
		Operators:      ops,
		OrderBy:        caps.OrderBy,
		LimitOffset:    caps.LimitOffset,
		Transactions:   caps.Transactions,
		Returning:      caps.Returning,
		NestedRollback: string(caps.NestedRollback),
		NativeBulk:     st.HasBulk(),
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Driver:          %s (source: %s)\n", result.Driver, result.Source)
	fmt.Fprintf(w, "Data dir:        %s\n", result.DataDir)
	if cfg.Driver == strata.DriverRelational {
		fmt.Fprintf(w, "SQLite path:     %s\n", result.SQLitePath)
	}
	fmt.Fprintf(w, "Operators:       %s\n", strings.Join(result.Operators, ", "))
	fmt.Fprintf(w, "Order by:        %v\n", result.OrderBy)
	fmt.Fprintf(w, "Limit/offset:    %v\n", result.LimitOffset)
	fmt.Fprintf(w, "Transactions:    %v\n", result.Transactions)
	fmt.Fprintf(w, "Returning:       %v\n", result.Returning)
	fmt.Fprintf(w, "Nested rollback: %s\n", result.NestedRollback)
	fmt.Fprintf(w, "Native bulk:     %v\n", result.NativeBulk)
	return nil
}
