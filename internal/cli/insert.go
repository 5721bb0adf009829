package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/apopov/strata"
	"github.com/apopov/strata/driver"
	"github.com/apopov/strata/validate"
)

// InsertOptions holds options for the insert command.
type InsertOptions struct {
	*RootOptions
	Data   string
	Schema string
	Unique []string
}

// InsertResult is the JSON payload of an insert command.
type InsertResult struct {
	Table  string        `json:"table"`
	Record driver.Record `json:"record"`
}

// NewInsertCommand creates the insert command.
func NewInsertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InsertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "insert <table>",
		Short: "Insert a record into a table",
		Long: `Insert one record into a table. The record is given as a JSON
object via --data; the store assigns the id and timestamps.

With --schema the record must satisfy the CUE schema in the given
file before it is written, and schema defaults fill absent fields.
With --unique the named fields must not repeat a value already in
the table.

Examples:
  strata insert users --data '{"name": "Ana", "age": 30}'
  strata insert users --data '{"name": "Ana"}' --schema users.cue --unique email`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInsert(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "", "record fields as a JSON object (required)")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file the record must satisfy")
	cmd.Flags().StringSliceVar(&opts.Unique, "unique", nil, "fields that must be unique within the table")
	_ = cmd.MarkFlagRequired("data")

	return cmd
}

func runInsert(opts *InsertOptions, table string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	dec := json.NewDecoder(strings.NewReader(opts.Data))
	dec.UseNumber()
	var rec driver.Record
	if err := dec.Decode(&rec); err != nil {
		return outputError(formatter, ExitCommandError, ErrCodeBadRecord,
			fmt.Sprintf("invalid --data JSON: %v", err), nil)
	}

	validator, err := buildValidator(table, opts.Schema, opts.Unique)
	if err != nil {
		return outputError(formatter, ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	st, err := openStore(opts.RootOptions, validator)
	if err != nil {
		return outputError(formatter, ExitCommandError, ErrCodeOpenStore,
			fmt.Sprintf("failed to open store: %v", err), nil)
	}
	defer st.Shutdown()

	stored, err := st.Create(context.Background(), table, rec)
	if err != nil {
		if fe, ok := strata.AsFieldErrors(err); ok {
			return outputError(formatter, ExitFailure, ErrCodeValidation, fe.Error(), fe)
		}
		return outputError(formatter, ExitCommandError, ErrCodeStoreOp,
			fmt.Sprintf("insert failed: %v", err), nil)
	}

	if opts.Format == "json" {
		return formatter.Success(InsertResult{Table: table, Record: stored})
	}

	w := cmd.OutOrStdout()
	id, _ := driver.RecordID(stored)
	fmt.Fprintf(w, "created record %d in %s\n", id, table)
	fmt.Fprintln(w, formatRecord(stored))
	return nil
}

// buildValidator assembles the write validator the flags ask for, or
// nil when neither --schema nor --unique was given.
func buildValidator(table, schemaPath string, unique []string) (strata.Validator, error) {
	if schemaPath == "" && len(unique) == 0 {
		return nil, nil
	}
	rules := validate.Rules{Unique: unique}
	if schemaPath != "" {
		src, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema: %w", err)
		}
		rules.Schema = string(src)
	}
	v := validate.New()
	if err := v.Register(table, rules); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return v, nil
}
