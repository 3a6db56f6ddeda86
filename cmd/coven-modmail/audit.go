// ABOUTME: The audit subcommand, a read-only view of the ticket ledger
// ABOUTME: Prints recent lifecycle events as a table followed by totals

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/2389/coven-modmail/internal/store"
)

type auditOptions struct {
	limit int
	user  string
	kind  string
}

func parseAuditFlags(args []string) (auditOptions, error) {
	var opts auditOptions
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.IntVar(&opts.limit, "limit", 50, "Maximum number of events to show")
	fs.StringVar(&opts.user, "user", "", "Only show events for this user id")
	fs.StringVar(&opts.kind, "kind", "", "Only show events of this kind (opened, closed, ...)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.kind != "" && !store.TicketEventKind(opts.kind).IsValid() {
		return opts, fmt.Errorf("unknown event kind %q", opts.kind)
	}
	return opts, nil
}

func runAudit(args []string) error {
	opts, err := parseAuditFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, _, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.Path == "" {
		return errors.New("the ticket ledger is disabled (database.path is empty)")
	}

	ledger, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ticket ledger: %w", err)
	}
	defer ledger.Close()

	ctx := context.Background()

	filter := store.TicketEventFilter{Limit: opts.limit}
	if opts.user != "" {
		filter.UserID = &opts.user
	}
	if opts.kind != "" {
		kind := store.TicketEventKind(opts.kind)
		filter.Kind = &kind
	}

	events, err := ledger.ListTicketEvents(ctx, filter)
	if err != nil {
		return err
	}
	stats, err := ledger.CountTicketEvents(ctx)
	if err != nil {
		return err
	}

	writeAuditTable(os.Stdout, events)
	fmt.Printf("\nopened: %d  closed: %d  delivery failures: %d\n", stats.Opened, stats.Closed, stats.DeliveryFailed)
	return nil
}

func writeAuditTable(w io.Writer, events []store.TicketEvent) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Kind", "User", "Channel", "Actor"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, e := range events {
		table.Append([]string{
			e.CreatedAt.UTC().Format(time.DateTime),
			string(e.Kind),
			e.UserID,
			dashIfEmpty(e.ChannelID),
			dashIfEmpty(e.ActorID),
		})
	}
	table.Render()
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
