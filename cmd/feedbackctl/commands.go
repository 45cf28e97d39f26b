package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"feedbackd/pkg/client"
)

func (a *app) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return context.WithCancel(ctx)
}

func requestCommand(a *app) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "request <merchant> <charge>",
		Short: "Queue a transaction for review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			charge, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid charge %q: %w", args[1], err)
			}

			ctx, cancel := a.context(cmd)
			defer cancel()

			id, err := a.client.RequestFeedback(ctx, args[0], charge)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)

			if !wait {
				return nil
			}
			feedback, err := a.client.WaitForResult(ctx, id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), feedback)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until a reviewer answers and print the feedback")
	return cmd
}

func pendingCommand(a *app) *cobra.Command {
	var (
		all   bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Show the oldest pending transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()
			out := cmd.OutOrStdout()

			if !all {
				tx, err := a.client.PendingFeedback(ctx)
				if err != nil {
					return err
				}
				if tx == nil {
					fmt.Fprintln(out, "No pending transactions")
					return nil
				}
				printTransaction(out, *tx)
				return nil
			}

			txs, total, err := a.client.ListPending(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMERCHANT\tCHARGE\tCREATED")
			for _, tx := range txs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tx.ID, tx.Merchant, tx.Charge.StringFixed(2), tx.CreatedAt.Local().Format(time.DateTime))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d of %d pending\n", len(txs), total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list the whole queue in arrival order")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows with --all (server default when 0)")
	return cmd
}

func submitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <id> <feedback...>",
		Short: "Answer a pending transaction",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			feedback := strings.Join(args[1:], " ")
			if err := a.client.SubmitFeedback(ctx, args[0], feedback); err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("transaction %s is not pending", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded feedback for %s\n", args[0])
			return nil
		},
	}
}

func resultCommand(a *app) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "result <id>",
		Short: "Collect the answer for a request",
		Long:  "Collect the answer for a request. The server hands each answer out once.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			var (
				feedback string
				err      error
			)
			if wait {
				feedback, err = a.client.WaitForResult(ctx, args[0])
			} else {
				feedback, err = a.client.FeedbackResult(ctx, args[0])
			}
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("no result for %s: still pending, unknown, or already collected", args[0])
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), feedback)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the answer is available")
	return cmd
}

func categoriesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "List the quick-answer categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			cats, err := a.client.Categories(ctx)
			if err != nil {
				return err
			}
			printCategories(cmd.OutOrStdout(), cats)
			return nil
		},
	}
}

func historyCommand(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently archived answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			items, err := a.client.History(ctx, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(items) == 0 {
				fmt.Fprintln(out, "No archived feedback")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMERCHANT\tCHARGE\tFEEDBACK\tCOMPLETED")
			for _, f := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Merchant, f.Charge.StringFixed(2), f.Feedback, f.CompletedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (server default when 0)")
	return cmd
}

func reviewCommand(a *app) *cobra.Command {
	var (
		interval time.Duration
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Answer pending transactions interactively",
		Long: "Answer pending transactions interactively. Type a category number, " +
			"free text, or q to quit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.context(cmd)
			defer cancel()

			r := &reviewer{
				client:   a.client,
				in:       bufio.NewScanner(cmd.InOrStdin()),
				out:      cmd.OutOrStdout(),
				interval: interval,
				once:     once,
			}
			return r.run(ctx)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "how often to poll an empty queue")
	cmd.Flags().BoolVar(&once, "once", false, "stop when the queue is empty instead of polling")
	return cmd
}

type reviewer struct {
	client   *client.Client
	in       *bufio.Scanner
	out      io.Writer
	interval time.Duration
	once     bool

	categories []string
}

func (r *reviewer) run(ctx context.Context) error {
	cats, err := r.client.Categories(ctx)
	if err != nil {
		return err
	}
	r.categories = cats

	waiting := false
	for {
		tx, err := r.client.PendingFeedback(ctx)
		if err != nil {
			return err
		}
		if tx == nil {
			if r.once {
				fmt.Fprintln(r.out, "Queue is empty")
				return nil
			}
			if !waiting {
				fmt.Fprintln(r.out, "Waiting for transactions...")
				waiting = true
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.interval):
			}
			continue
		}
		waiting = false

		printTransaction(r.out, *tx)
		printCategories(r.out, r.categories)

		answer, quit := r.prompt()
		if quit {
			return nil
		}

		if err := r.client.SubmitFeedback(ctx, tx.ID, answer); err != nil {
			// Someone else answered first; move on to the next one.
			if errors.Is(err, client.ErrNotFound) {
				fmt.Fprintf(r.out, "Transaction %s was already answered\n", tx.ID)
				continue
			}
			return err
		}
		fmt.Fprintf(r.out, "Recorded %q for %s\n\n", answer, tx.ID)
	}
}

// prompt reads until a non-empty answer. quit is true on "q" or end of input.
func (r *reviewer) prompt() (answer string, quit bool) {
	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			return "", true
		}
		line := strings.TrimSpace(r.in.Text())
		switch {
		case line == "":
			continue
		case line == "q" || line == "quit":
			return "", true
		}
		return resolveAnswer(line, r.categories), false
	}
}

// resolveAnswer maps a 1-based category number to its label; anything else
// is returned as typed.
func resolveAnswer(line string, categories []string) string {
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(categories) {
		return categories[n-1]
	}
	return line
}

func printTransaction(w io.Writer, tx client.Transaction) {
	fmt.Fprintf(w, "[%s] %s  %s  (%s)\n", tx.ID, tx.Merchant, tx.Charge.StringFixed(2), tx.CreatedAt.Local().Format(time.DateTime))
}

func printCategories(w io.Writer, cats []string) {
	for i, c := range cats {
		fmt.Fprintf(w, "  %d) %s\n", i+1, c)
	}
}
