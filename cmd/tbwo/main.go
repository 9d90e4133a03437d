package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tbwo/internal/approval"
	"tbwo/internal/bus"
	"tbwo/internal/config"
	"tbwo/internal/engine"
	"tbwo/internal/model"
	"tbwo/internal/planner"
	"tbwo/internal/receipt"
	"tbwo/internal/store"
	"tbwo/internal/telemetry"
)

var rootCmd = &cobra.Command{
	Use:   "tbwo",
	Short: "Time-budgeted work order orchestration",
	Long: `tbwo plans and executes time-budgeted work orders: a work order gets a
phased execution plan scaled to its minute budget, role-scoped pods carry
the phases out under an approval-gated engine, and every finished order
receives a scored receipt.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TBWO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().String("config", config.DefaultFileName, "config file path")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor identifier for approvals and audit events")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(createCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(pauseCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(retryCmd())
	rootCmd.AddCommand(receiptCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(listCmd())
}

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetString("config"))
}

// componentLogger builds the logger handed to the planner, engine, and
// receipt generator, honoring the configured level: info chatter is dropped
// above info, debug adds call sites.
func componentLogger(cfg config.Config) *log.Logger {
	level := config.ParseLogLevel(cfg.Logging.Level)
	if !level.Enabled(config.LogLevelInfo) {
		return log.New(io.Discard, "", 0)
	}
	flags := log.LstdFlags
	if level == config.LogLevelDebug {
		flags |= log.Lshortfile
	}
	return log.New(os.Stderr, "tbwo ", flags)
}

// withStore opens the store for the configured path and runs fn against it.
func withStore(ctx context.Context, fn func(ctx context.Context, cfg config.Config, s *store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, cfg, s)
}

func createCmd() *cobra.Command {
	var woType, objective, quality, authority, scope string
	var budget int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a work order in draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			if objective == "" {
				return fmt.Errorf("--objective required")
			}
			if budget <= 0 {
				return fmt.Errorf("--budget must be a positive number of minutes")
			}
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				now := nowRFC3339()
				wo := model.NewWorkOrder(model.WorkOrderType(woType), objective, budget, now)
				if quality != "" {
					wo.QualityTarget = model.QualityTarget(quality)
				}
				if authority != "" {
					wo.Authority = model.AuthorityLevel(authority)
				}
				wo.Scope = scope
				if err := s.SaveWorkOrder(ctx, wo); err != nil {
					return err
				}
				if err := s.AppendEvent(ctx, wo.ID, "created", map[string]any{
					"objective": objective, "budget_minutes": budget, "actor": viper.GetString("actor"),
				}); err != nil {
					return err
				}
				return printWorkOrder(wo)
			})
		},
	}
	cmd.Flags().StringVar(&woType, "type", string(model.TypeGeneric), "work order type (website_build, code_project, research_report, generic)")
	cmd.Flags().StringVar(&objective, "objective", "", "what to accomplish")
	cmd.Flags().IntVar(&budget, "budget", 0, "time budget in minutes")
	cmd.Flags().StringVar(&quality, "quality", "", "quality target (draft, standard, premium, flagship)")
	cmd.Flags().StringVar(&authority, "authority", "", "authority level (supervised, standard, autonomous)")
	cmd.Flags().StringVar(&scope, "scope", "", "scope notes")
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <work-order-id>",
		Short: "Generate an execution plan scaled to the budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				wo, err := s.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				p := planner.New(nil, nil)
				p.Logger = componentLogger(cfg)
				if err := p.Generate(ctx, wo); err != nil {
					return err
				}
				if err := s.SaveWorkOrder(ctx, wo); err != nil {
					return err
				}
				if err := s.AppendEvent(ctx, wo.ID, "planned", map[string]any{
					"phases": len(wo.Plan.Phases), "estimated_minutes": wo.Plan.EstimatedMinutes,
				}); err != nil {
					return err
				}
				return printPlan(wo)
			})
		},
	}
	return cmd
}

func approveCmd() *cobra.Command {
	var phaseID string
	cmd := &cobra.Command{
		Use:   "approve <work-order-id>",
		Short: "Approve a plan, or a waiting checkpoint with --phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				actor := viper.GetString("actor")
				if phaseID != "" {
					// checkpoint approval goes through the watched directory
					if err := approval.Approve(cfg.Approvals.Dir, args[0], phaseID, actor); err != nil {
						return err
					}
					fmt.Printf("checkpoint %s/%s approved by %s\n", args[0], phaseID, actor)
					return s.AppendEvent(ctx, args[0], "checkpoint_approved", map[string]any{
						"phase_id": phaseID, "actor": actor,
					})
				}
				wo, err := s.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				p := planner.New(nil, nil)
				if err := p.Approve(wo, actor); err != nil {
					return err
				}
				if err := s.SaveWorkOrder(ctx, wo); err != nil {
					return err
				}
				if err := s.AppendEvent(ctx, wo.ID, "plan_approved", map[string]any{"actor": actor}); err != nil {
					return err
				}
				fmt.Printf("%s approved, status %s\n", wo.ID, wo.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&phaseID, "phase", "", "approve this waiting checkpoint instead of the plan")
	return cmd
}

func rejectCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "reject <work-order-id>",
		Short: "Reject a plan with feedback for the next attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				wo, err := s.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				p := planner.New(nil, nil)
				if err := p.Reject(wo, feedback); err != nil {
					return err
				}
				if err := s.SaveWorkOrder(ctx, wo); err != nil {
					return err
				}
				if err := s.AppendEvent(ctx, wo.ID, "plan_rejected", map[string]any{
					"feedback": feedback, "actor": viper.GetString("actor"),
				}); err != nil {
					return err
				}
				fmt.Printf("%s rejected, back to %s\n", wo.ID, wo.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "why the plan was rejected")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <work-order-id>",
		Short: "Execute an approved work order to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				wo, err := s.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}

				watcher, err := approval.NewWatcher(cfg.Approvals.Dir, componentLogger(cfg))
				if err != nil {
					return err
				}
				defer watcher.Close()

				emitter := telemetry.NewEmitter(cfg.Execution.TelemetryBufferSize)
				defer emitter.Close()

				eng := engine.New(bus.NewWithLogLimit(cfg.Bus.MaxLogEntries), emitter, watcher)
				eng.Logger = componentLogger(cfg)
				eng.MaxParallel = cfg.Execution.MaxConcurrentPhases
				runErr := eng.Run(ctx, wo)
				if saveErr := s.SaveWorkOrder(ctx, wo); saveErr != nil {
					return saveErr
				}
				if runErr != nil {
					return runErr
				}
				if err := s.AppendEvent(ctx, wo.ID, "run_finished", map[string]any{
					"status": string(wo.Status), "elapsed_minutes": wo.Budget.ElapsedMinutes,
				}); err != nil {
					return err
				}
				return printWorkOrder(wo)
			})
		},
	}
	return cmd
}

func pauseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause <work-order-id>",
		Short: "Pause an in-progress work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				wo, err := s.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				eng := engine.New(bus.New(), nil, nil)
				if err := eng.Pause(wo, reason); err != nil {
					return err
				}
				if err := s.SaveWorkOrder(ctx, wo); err != nil {
					return err
				}
				fmt.Printf("%s paused\n", wo.ID)
				return s.AppendEvent(ctx, wo.ID, "paused", map[string]any{"reason": reason})
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the work order is paused")
	return cmd
}

func resumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <work-order-id>",
		Short: "Resume a paused work order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				wo, err := s.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				eng := engine.New(bus.New(), nil, nil)
				if err := eng.Resume(wo); err != nil {
					return err
				}
				if err := s.SaveWorkOrder(ctx, wo); err != nil {
					return err
				}
				fmt.Printf("%s resumed; run it again to continue execution\n", wo.ID)
				return s.AppendEvent(ctx, wo.ID, "resumed", nil)
			})
		},
	}
	return cmd
}

func retryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retry <work-order-id> <phase-id>",
		Short: "Reset a failed or skipped phase for another run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				wo, err := s.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				eng := engine.New(bus.New(), nil, nil)
				if err := eng.RetryPhase(wo, args[1]); err != nil {
					return err
				}
				if err := s.SaveWorkOrder(ctx, wo); err != nil {
					return err
				}
				fmt.Printf("phase %s reset; run %s again to execute it\n", args[1], wo.ID)
				return s.AppendEvent(ctx, wo.ID, "phase_retried", map[string]any{"phase_id": args[1]})
			})
		},
	}
	return cmd
}

func receiptCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "receipt <work-order-id>",
		Short: "Generate (or regenerate) the work order's receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				wo, err := s.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				g := receipt.New(nil)
				g.Logger = componentLogger(cfg)
				r, err := g.Generate(ctx, wo, nil)
				if err != nil {
					return err
				}
				wo.Receipt = r
				if err := s.SaveWorkOrder(ctx, wo); err != nil {
					return err
				}
				if err := s.AppendEvent(ctx, wo.ID, "receipt_generated", map[string]any{
					"receipt_id": r.ID, "quality_score": r.Executive.QualityScore, "fallback": r.Fallback,
				}); err != nil {
					return err
				}
				if out != "" {
					if err := receipt.ExportYAML(out, r); err != nil {
						return err
					}
					fmt.Printf("receipt written to %s\n", out)
				}
				return printJSONOrValue(r)
			})
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "also write the receipt to this YAML file")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <work-order-id>",
		Short: "Show a work order's phases and pods",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				wo, err := s.GetWorkOrder(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSONOrValue(wo)
				}
				fmt.Printf("%s  %s  %s\n", wo.ID, wo.Status, wo.Objective)
				fmt.Printf("budget: %d/%d minutes\n", wo.Budget.ElapsedMinutes, wo.Budget.TotalMinutes)
				if wo.Plan != nil {
					printPhaseTable(wo)
				}
				if len(wo.Pods) > 0 {
					printPodTable(wo)
				}
				return nil
			})
		},
	}
	return cmd
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, cfg config.Config, s *store.Store) error {
				orders, err := s.ListWorkOrders(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSONOrValue(orders)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Budget", "Objective"})
				for _, wo := range orders {
					tw.AppendRow(table.Row{
						wo.ID, wo.Type, wo.Status,
						fmt.Sprintf("%d/%dm", wo.Budget.ElapsedMinutes, wo.Budget.TotalMinutes),
						wo.Objective,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func printPhaseTable(wo *model.WorkOrder) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Phase", "Name", "Status", "Progress", "Est", "Depends On"})
	for i := range wo.Plan.Phases {
		phase := &wo.Plan.Phases[i]
		tw.AppendRow(table.Row{
			phase.ID, phase.Name, phase.Status,
			fmt.Sprintf("%.0f%%", phase.Progress),
			fmt.Sprintf("%dm", phase.EstimatedMinutes),
			strings.Join(phase.DependsOn, ","),
		})
	}
	tw.Render()
}

func printPodTable(wo *model.WorkOrder) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Pod", "Role", "Name", "Status", "Tasks Done"})
	for _, st := range wo.Pods {
		tw.AppendRow(table.Row{st.ID, st.Role, st.Name, st.Status, len(st.CompletedTaskIDs)})
	}
	tw.Render()
}

func printWorkOrder(wo *model.WorkOrder) error {
	if viper.GetBool("json") {
		return printJSONOrValue(wo)
	}
	fmt.Printf("%s  %s  %s  (%dm budget)\n", wo.ID, wo.Status, wo.Objective, wo.Budget.TotalMinutes)
	return nil
}

func printPlan(wo *model.WorkOrder) error {
	if viper.GetBool("json") {
		return printJSONOrValue(wo.Plan)
	}
	fmt.Printf("%s  %s\n", wo.ID, wo.Status)
	fmt.Printf("plan: %s (%dm, confidence %.2f)\n", wo.Plan.Summary, wo.Plan.EstimatedMinutes, wo.Plan.Confidence)
	printPhaseTable(wo)
	return nil
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func printJSONOrValue(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
