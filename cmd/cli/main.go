package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/source-vetting/internal/app"
	"github.com/source-vetting/internal/config"
	"github.com/source-vetting/internal/models"
	"github.com/source-vetting/internal/pilot"
	"github.com/source-vetting/internal/storage"
	"github.com/source-vetting/pkg/logger"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	vetting *app.App
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vetting",
		Short: "Content source vetting and pilot management",
		Long: `Admits new content sources through automated validation, runs them through a
time-boxed pilot and promotes, extends or retires them based on measured performance.`,
		PersistentPreRunE:  initializeApp,
		PersistentPostRunE: closeApp,
		SilenceUsage:       true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./configs/config.yaml)")

	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(pilotCmd())
	rootCmd.AddCommand(productionCmd())
	rootCmd.AddCommand(dedupCmd())
	rootCmd.AddCommand(resumeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initializeApp(cmd *cobra.Command, args []string) error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log = logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	vetting, err = app.New(cmd.Context(), cfg, log)
	return err
}

func closeApp(cmd *cobra.Command, args []string) error {
	if vetting == nil {
		return nil
	}
	return vetting.Close()
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func printReasons(title string, reasons []string) {
	if len(reasons) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, r := range reasons {
		fmt.Printf("  - %s\n", r)
	}
}

// ============ SUBMISSION COMMANDS ============

func submitCmd() *cobra.Command {
	var (
		in       models.SourceSubmission
		samples  []string
		validate bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new content source for vetting",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			in.SampleURLs = samples

			sub, err := vetting.Service.CreateSubmission(ctx, in)
			if errors.Is(err, pilot.ErrDuplicateSource) {
				fmt.Printf("Submission %s rejected: %s\n", sub.ID, strings.Join(sub.StatusReasons, "; "))
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("Submission created: %s\n", sub.ID)

			if !validate {
				return nil
			}
			sub, err = vetting.Service.Advance(ctx, sub.ID)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			return printSubmission(ctx, sub)
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "", "Source name (required)")
	cmd.Flags().StringVar(&in.URL, "url", "", "Source URL (required)")
	cmd.Flags().StringVar(&in.ContactName, "contact-name", "", "Contact person")
	cmd.Flags().StringVar(&in.ContactEmail, "contact-email", "", "Contact email (required)")
	cmd.Flags().StringVar(&in.ContactRole, "contact-role", "", "Contact role at the organization")
	cmd.Flags().StringVar(&in.ClaimedType, "type", "", "Claimed source type: rss, api, newsletter, html")
	cmd.Flags().StringVar(&in.ClaimedFrequency, "frequency", "", "Claimed update frequency: daily, weekly, monthly")
	cmd.Flags().StringVar(&in.GeographicFocus, "geo", "", "Geographic focus")
	cmd.Flags().BoolVar(&in.HasPermission, "permission", false, "Submitter has permission to monitor the source")
	cmd.Flags().IntVar(&in.ExpectedVolume, "expected-volume", 0, "Expected items per month")
	cmd.Flags().StringSliceVar(&samples, "sample", nil, "Sample content URL (repeatable)")
	cmd.Flags().BoolVar(&validate, "validate", true, "Run validation immediately")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("url")
	cmd.MarkFlagRequired("contact-email")

	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [submission-id]",
		Short: "Show a submission with its history, pilot and latest evaluation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := vetting.Service.GetSubmissionStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printStatus(st)

			fmt.Println("\nHistory:")
			t := newTable()
			t.AppendHeader(table.Row{"At", "From", "To", "Reasons"})
			for _, h := range st.History {
				t.AppendRow(table.Row{h.At.Format(time.RFC3339), h.From, h.To, strings.Join(h.Reasons, "; ")})
			}
			t.Render()
			return nil
		},
	}
}

func printSubmission(ctx context.Context, sub *models.Submission) error {
	st, err := vetting.Service.GetSubmissionStatus(ctx, sub.ID)
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func printStatus(st *pilot.SubmissionStatus) {
	sub := st.Submission
	fmt.Printf("\n=== %s ===\n", sub.Name)
	fmt.Printf("ID:      %s\n", sub.ID)
	fmt.Printf("URL:     %s\n", sub.URL)
	fmt.Printf("Status:  %s\n", sub.Status)
	printReasons("Reasons", sub.StatusReasons)

	if v := st.Validation; v != nil {
		fmt.Printf("\nValidation (attempt %d): score %.2f, %s\n", v.Attempt, v.Score, v.Recommendation)
		printReasons("Suggestions", v.Suggestions)
	}
	if r := st.Review; r != nil {
		fmt.Printf("\nReview:  %s (%s priority)\n", r.State, r.Priority)
	}
	if p := st.Pilot; p != nil {
		fmt.Printf("\nPilot:   %s, %s → %s, extensions %d/%d\n",
			p.Status, p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"), p.ExtensionCount, p.MaxExtensions)
	}
	if st.Metrics != nil {
		printMetrics(st.Metrics)
	}
}

func printMetrics(m *models.PerformanceMetrics) {
	fmt.Printf("\nEvaluation %s: overall %.2f (%s), minimums met: %v\n",
		m.EvaluatedAt.Format("2006-01-02"), m.OverallScore, m.Status, m.MinimumsMet)
	t := newTable()
	t.AppendHeader(table.Row{"Volume", "Quality", "Technical", "Value"})
	t.AppendRow(table.Row{
		fmt.Sprintf("%.2f", m.VolumeScore),
		fmt.Sprintf("%.2f", m.QualityScore),
		fmt.Sprintf("%.2f", m.TechnicalScore),
		fmt.Sprintf("%.2f", m.ValueScore),
	})
	t.Render()
	printReasons("Recommendations", m.Recommendations)
}

func listCmd() *cobra.Command {
	var (
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.DefaultSubmissionFilter()
			filter.Limit = limit
			for _, s := range statuses {
				filter.Statuses = append(filter.Statuses, models.Status(s))
			}

			subs, err := vetting.Repo.ListSubmissions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Name", "Status", "Updated", "URL"})
			for _, s := range subs {
				t.AppendRow(table.Row{s.ID, s.Name, s.Status, s.UpdatedAt.Format("2006-01-02 15:04"), s.URL})
			}
			t.AppendFooter(table.Row{"", "", "", "Total", len(subs)})
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

// ============ REVIEW COMMANDS ============

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Manual review queue",
	}

	cmd.AddCommand(reviewListCmd())
	cmd.AddCommand(reviewResolveCmd())
	cmd.AddCommand(withdrawCmd())
	return cmd
}

func reviewListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending reviews, high priority first",
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := vetting.Repo.ListReviews(cmd.Context(), storage.PendingReviews(limit))
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("Review queue is empty")
				return nil
			}
			t := newTable()
			t.AppendHeader(table.Row{"Submission", "Name", "Priority", "Score", "Queued", "Issues"})
			for _, it := range items {
				t.AppendRow(table.Row{
					it.SubmissionID, it.Name, it.Priority,
					fmt.Sprintf("%.2f", it.Score),
					it.CreatedAt.Format("2006-01-02"),
					strings.Join(it.Issues, "; "),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	return cmd
}

func reviewResolveCmd() *cobra.Command {
	var decision, notes, reviewer string

	cmd := &cobra.Command{
		Use:   "resolve [submission-id]",
		Short: "Approve or reject a submission waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := models.ReviewDecision(decision)
			if d != models.DecisionApprove && d != models.DecisionReject {
				return fmt.Errorf("decision must be %q or %q", models.DecisionApprove, models.DecisionReject)
			}
			if reviewer == "" {
				reviewer = os.Getenv("USER")
			}

			sub, err := vetting.Service.ResolveManualReview(cmd.Context(), args[0], d, notes, reviewer)
			if err != nil {
				return err
			}
			fmt.Printf("Submission %s is now %s\n", sub.ID, sub.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&decision, "decision", "", "approve or reject (required)")
	cmd.Flags().StringVar(&notes, "notes", "", "Reviewer notes")
	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer name (default $USER)")
	cmd.MarkFlagRequired("decision")
	return cmd
}

func withdrawCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "withdraw [submission-id]",
		Short: "Withdraw a submission that has no decision yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := vetting.Service.Withdraw(cmd.Context(), args[0], note)
			if err != nil {
				return err
			}
			if !res.Applied {
				fmt.Printf("Nothing withdrawn: %s\n", res.Message)
				return nil
			}
			fmt.Printf("Submission %s withdrawn\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "Reason given by the submitter")
	return cmd
}

// ============ PILOT COMMANDS ============

func pilotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pilot",
		Short: "Pilot monitoring commands",
	}

	cmd.AddCommand(pilotStartCmd())
	cmd.AddCommand(pilotEvaluateCmd())
	cmd.AddCommand(pilotSweepCmd())
	return cmd
}

func pilotStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start [submission-id]",
		Short: "Start monitoring an approved source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := vetting.Service.StartPilot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Pilot started, evaluation due %s\n", p.EndDate.Format(time.RFC1123))
			return nil
		},
	}
}

func pilotEvaluateCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "evaluate [submission-id]",
		Short: "Evaluate a pilot and apply the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sub, err := vetting.Service.TriggerEvaluation(ctx, args[0], force)
			if errors.Is(err, pilot.ErrNotDue) {
				return fmt.Errorf("%w (use --force to evaluate early)", err)
			}
			if err != nil {
				return err
			}
			return printSubmission(ctx, sub)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Evaluate before the pilot window has elapsed")
	return cmd
}

func pilotSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate every pilot whose window has elapsed",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := vetting.Service.SweepPilots(cmd.Context())
			if err != nil {
				return err
			}
			printRun("Pilot Sweep", result)
			return nil
		},
	}
}

func printRun(title string, r *pilot.RunResult) {
	fmt.Printf("\n=== %s ===\n", title)
	fmt.Printf("Processed: %d\n", r.Processed)
	fmt.Printf("Succeeded: %d\n", r.Succeeded)
	fmt.Printf("Skipped:   %d\n", r.Skipped)
	fmt.Printf("Duration:  %s\n", r.Duration)

	if len(r.Errors) > 0 {
		fmt.Printf("\nErrors:\n")
		for _, e := range r.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

// ============ PRODUCTION COMMANDS ============

func productionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "production",
		Short: "Production source commands",
	}

	cmd.AddCommand(productionEvaluateCmd())
	return cmd
}

func productionEvaluateCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "evaluate [submission-id]",
		Short: "Re-evaluate production sources and suspend failing ones",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if all {
				result, err := vetting.Service.ReevaluateAllProduction(ctx)
				if err != nil {
					return err
				}
				printRun("Production Evaluation", result)
				return nil
			}
			if len(args) != 1 {
				return fmt.Errorf("submission id required unless --all is set")
			}

			m, err := vetting.Service.ReevaluateProduction(ctx, args[0])
			if err != nil {
				return err
			}
			printMetrics(m)
			if m.Failing() {
				fmt.Println("\nSource suspended")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Evaluate every production source")
	return cmd
}

// ============ DEDUP COMMANDS ============

func dedupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedup",
		Short: "Content duplicate detection",
	}

	cmd.AddCommand(dedupRecordCmd("check", "Compare a record against the corpus", false))
	cmd.AddCommand(dedupRecordCmd("add", "Register a record unless it duplicates one already known", true))
	return cmd
}

func dedupRecordCmd(use, short string, register bool) *cobra.Command {
	var (
		rec      models.Opportunity
		amount   string
		deadline string
	)

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if amount != "" {
				d, err := decimal.NewFromString(amount)
				if err != nil {
					return fmt.Errorf("invalid amount: %w", err)
				}
				rec.Amount = decimal.NewNullDecimal(d)
			}
			if deadline != "" {
				t, err := time.Parse("2006-01-02", deadline)
				if err != nil {
					return fmt.Errorf("invalid deadline, use YYYY-MM-DD")
				}
				rec.Deadline = &t
			}

			ctx := cmd.Context()
			var (
				match *models.DuplicateMatch
				err   error
			)
			if register {
				match, err = vetting.Service.RegisterContent(ctx, &rec)
			} else {
				match, err = vetting.Service.CheckContentForDuplicate(ctx, &rec)
			}
			if err != nil {
				return err
			}

			fmt.Printf("Action:     %s\n", match.Action)
			fmt.Printf("Match:      %s\n", match.MatchType)
			fmt.Printf("Similarity: %.2f (confidence %.2f)\n", match.Similarity, match.Confidence)
			if match.MatchedID != "" {
				fmt.Printf("Matched:    %s\n", match.MatchedID)
			}
			if len(match.Signals) > 0 {
				t := newTable()
				t.AppendHeader(table.Row{"Signal", "Score"})
				for _, typ := range []models.MatchType{models.MatchURL, models.MatchContent, models.MatchMetadata, models.MatchSemantic} {
					if v, ok := match.Signals[typ]; ok {
						t.AppendRow(table.Row{typ, fmt.Sprintf("%.2f", v)})
					}
				}
				t.Render()
			}
			printReasons("Reasons", match.Reasons)
			if register && !match.IsDuplicate() {
				fmt.Printf("\nRegistered as %s\n", rec.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&rec.ID, "id", "", "Record ID (generated when empty)")
	cmd.Flags().StringVar(&rec.SourceID, "source", "", "Submission ID of the contributing source")
	cmd.Flags().StringVar(&rec.Title, "title", "", "Title (required)")
	cmd.Flags().StringVar(&rec.URL, "url", "", "Record URL")
	cmd.Flags().StringVar(&rec.Description, "description", "", "Description")
	cmd.Flags().StringVar(&rec.Organization, "org", "", "Funding organization")
	cmd.Flags().StringVar(&amount, "amount", "", "Award amount")
	cmd.Flags().StringVar(&rec.Currency, "currency", "", "Award currency")
	cmd.Flags().StringVar(&deadline, "deadline", "", "Deadline (YYYY-MM-DD)")
	cmd.MarkFlagRequired("title")
	return cmd
}

// ============ MAINTENANCE COMMANDS ============

func resumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Advance submissions left mid-workflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := vetting.Service.ResumePending(cmd.Context())
			if err != nil {
				return err
			}
			printRun("Resume", result)
			return nil
		},
	}
}
