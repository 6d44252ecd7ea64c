package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/lead-intake/internal/intake"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect and re-send stored leads",
}

// -- leads list --

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent leads with their delivery status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		since, _ := cmd.Flags().GetDuration("since")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.LeadFilter{Limit: limit}
		if since > 0 {
			filter.CreatedAfter = time.Now().Add(-since)
		}

		leads, err := st.ListLeads(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No leads found.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

// -- leads show --

var leadsShowCmd = &cobra.Command{
	Use:   "show <lead-id>",
	Short: "Show a stored lead and every delivery column",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate(); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		lead, err := st.GetLead(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "leads show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(lead)
	},
}

// -- leads resend --

var leadsResendCmd = &cobra.Command{
	Use:   "resend <lead-id>",
	Short: "Forward a stored lead again",
	Long:  "Runs the configured forwarders for a stored lead synchronously and records each outcome on the lead, overwriting earlier delivery columns.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		only, _ := cmd.Flags().GetStringSlice("only")

		svc := intake.NewService(env.Store, nil, env.Forwarders...)
		results, err := svc.Resend(ctx, args[0], only...)
		if err != nil {
			return err
		}

		if failed := formatResendResults(os.Stdout, results); failed > 0 {
			return eris.Errorf("leads resend: %d of %d forwarders failed", failed, len(results))
		}
		return nil
	},
}

func init() {
	leadsListCmd.Flags().Duration("since", 24*time.Hour, "only leads created within this window (0 for all)")
	leadsListCmd.Flags().Int("limit", 50, "max number of leads to display")

	leadsResendCmd.Flags().StringSlice("only", nil, "forwarders to run (webhook, ghl, salesforce); default all configured")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsShowCmd)
	leadsCmd.AddCommand(leadsResendCmd)
	rootCmd.AddCommand(leadsCmd)
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tTIMELINE\tCREATED\tWEBHOOK\tGHL\tSALESFORCE")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t-------\t-------\t---\t----------")

	for _, l := range leads {
		name := l.FirstName + " " + l.LastName
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(l.ID),
			name,
			l.Timeline,
			l.CreatedAt.Format("2006-01-02 15:04"),
			deliveryStatus(l.WebhookSent, l.WebhookSentAt),
			deliveryStatus(l.GHLSent, l.GHLSentAt),
			deliveryStatus(l.SFSent, l.SFSentAt),
		)
	}
	_ = w.Flush()
}

// formatResendResults writes one line per forwarder and returns the number
// that failed.
func formatResendResults(out io.Writer, results map[string]error) int {
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	failed := 0
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, name := range names {
		if err := results[name]; err != nil {
			failed++
			_, _ = fmt.Fprintf(w, "%s:\tfailed\t%v\n", name, err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s:\tsent\t\n", name)
	}
	_ = w.Flush()
	return failed
}

func deliveryStatus(sent bool, at *time.Time) string {
	switch {
	case sent:
		return "sent"
	case at != nil:
		return "failed"
	default:
		return "-"
	}
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
