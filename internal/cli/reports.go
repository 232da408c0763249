package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/viewkit/internal/chore"
	"github.com/roach88/viewkit/internal/ir"
	"github.com/roach88/viewkit/internal/ledger"
)

// BalancesOptions holds flags for the balances command.
type BalancesOptions struct {
	*RootOptions
	Account  string
	Currency string
	At       string // RFC 3339 cutoff, inclusive
	Check    bool   // fail when any assertion disagrees
}

// NewBalancesCommand creates the balances command.
func NewBalancesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BalancesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Print ledger balances and assertion discrepancies",
		Long: `Print the reduced ledger state of every account and currency.

Each line shows the summed change, the running balance once an assertion
has been seen, and every balance assertion that disagrees with the
entries before it. --at limits one account and currency to entries at or
before a timestamp.

Exit codes:
  0 - Balances printed (and, with --check, no discrepancies)
  1 - --check found discrepancies or a group mixes accounts
  2 - Command error`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalances(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Account, "account", "", "only this account")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "only this currency")
	cmd.Flags().StringVar(&opts.At, "at", "", "cutoff timestamp (requires --account and --currency)")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "exit 1 when any balance assertion disagrees")

	return cmd
}

func runBalances(opts *BalancesOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.At != "" && (opts.Account == "" || opts.Currency == "") {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "--at requires --account and --currency")
	}

	b, err := opts.openBackend()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
	}
	defer b.Close()

	var groups []*ledger.Group
	if opts.At != "" {
		g, err := ledger.BalanceAt(cmd.Context(), b.store, opts.Account, opts.Currency, opts.At)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
		}
		groups = []*ledger.Group{g}
	} else {
		all, err := ledger.Balances(cmd.Context(), b.store)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
		}
		for _, g := range all {
			if (opts.Account == "" || g.Account == opts.Account) &&
				(opts.Currency == "" || g.Currency == opts.Currency) {
				groups = append(groups, g)
			}
		}
	}

	discrepancies := 0
	out := make(ir.Array, len(groups))
	for i, g := range groups {
		out[i] = ledger.Encode(g)
		discrepancies += len(g.Errors)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		if len(groups) == 0 {
			fmt.Fprintln(w, "No ledger entries.")
		}
		for _, g := range groups {
			balance := "-"
			if g.Balance.Valid {
				balance = g.Balance.Decimal.String()
			}
			fmt.Fprintf(w, "%s\t%s\tbalance %s\tdelta %s\n", g.Account, g.Currency, balance, g.Delta.String())
			for _, d := range g.Errors {
				fmt.Fprintf(w, "  ✗ %s asserts %s, entries give %s (off by %s)\n",
					d.DocID, d.Expected.String(), d.Calculated.String(), d.OffBy.String())
			}
		}
	}

	if opts.Check && discrepancies > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d balance assertion(s) disagree", discrepancies))
	}
	return nil
}

// ChoresOptions holds flags for the chores command.
type ChoresOptions struct {
	*RootOptions
	Now     string // RFC 3339; defaults to the current time
	Overdue bool   // only overdue chores
}

// ChoreEntry is one chore's latest completion.
type ChoreEntry struct {
	Chore    string `json:"chore"`
	LastDone string `json:"last_done"`
	LastID   string `json:"last_id"`
	NextDue  string `json:"next_due,omitempty"`
	Overdue  bool   `json:"overdue"`
}

// NewChoresCommand creates the chores command.
func NewChoresCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChoresOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "chores",
		Short:         "Print the latest completion of every chore",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChores(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Now, "now", "", "reference time for overdue checks (RFC 3339)")
	cmd.Flags().BoolVar(&opts.Overdue, "overdue", false, "only list overdue chores")

	return cmd
}

func runChores(opts *ChoresOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	now := time.Now()
	if opts.Now != "" {
		t, err := time.Parse(time.RFC3339, opts.Now)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("invalid --now: %v", err))
		}
		now = t
	}

	b, err := opts.openBackend()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
	}
	defer b.Close()

	statuses, err := chore.Statuses(cmd.Context(), b.store)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, err.Error())
	}

	entries := make([]ChoreEntry, 0, len(statuses))
	for _, s := range statuses {
		e := ChoreEntry{
			Chore:    s.Chore,
			LastDone: s.LastDone.UTC().Format(time.RFC3339),
			LastID:   s.LastID,
			Overdue:  s.Overdue(now),
		}
		if !s.NextDue.IsZero() {
			e.NextDue = s.NextDue.UTC().Format(time.RFC3339)
		}
		if opts.Overdue && !e.Overdue {
			continue
		}
		entries = append(entries, e)
	}

	if formatter.Format == "json" {
		return formatter.Success(entries)
	}
	w := formatter.Writer
	if len(entries) == 0 {
		fmt.Fprintln(w, "No chores.")
	}
	for _, e := range entries {
		mark := " "
		if e.Overdue {
			mark = "!"
		}
		due := "-"
		if e.NextDue != "" {
			due = e.NextDue
		}
		fmt.Fprintf(w, "%s %s\tdone %s (%s)\tdue %s\n", mark, e.Chore, e.LastDone, e.LastID, due)
	}
	return nil
}
