package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aristath/gstdesign/internal/config"
	"github.com/aristath/gstdesign/internal/database"
	"github.com/aristath/gstdesign/internal/modules/circuits"
	"github.com/aristath/gstdesign/internal/modules/model"
	"github.com/aristath/gstdesign/internal/modules/pool"
	"github.com/aristath/gstdesign/internal/modules/runs"
	"github.com/aristath/gstdesign/internal/modules/selection"
	"github.com/aristath/gstdesign/internal/workers"
	"github.com/aristath/gstdesign/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	logLevel   string
	workers    int
	output     string
	configPath string
	gateSet    string
	sets       []string
	save       bool
}

type app struct {
	flags globalFlags
	log   zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "gstdesign",
		Short:         "Select fiducials and germs for gate-set tomography",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.log = logger.New(logger.Config{
				Level:  a.flags.logLevel,
				Pretty: true,
				Output: cmd.ErrOrStderr(),
			})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.IntVar(&a.flags.workers, "workers", 0, "worker pool size (0 = one per physical core)")
	pf.StringVarP(&a.flags.output, "output", "o", "text", "output format: text or json")
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "YAML selection file")
	pf.StringVarP(&a.flags.gateSet, "gateset", "g", "std1Q_XYI", "built-in gate set (ignored when the config file has a model)")
	pf.StringArrayVar(&a.flags.sets, "set", nil, "option override key=value (YAML value), applied to every selection")
	pf.BoolVar(&a.flags.save, "save", false, "store the run in the server's run database")

	root.AddCommand(
		a.gateSetsCmd(),
		a.fiducialsCmd(),
		a.germsCmd(),
		a.designCmd(),
		a.optionsCmd(),
		a.runsCmd(),
	)
	return root
}

func (a *app) gateSetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gatesets",
		Short: "List built-in gate sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			type info struct {
				Name           string           `json:"name"`
				NumQubits      int              `json:"num_qubits"`
				Labels         []circuits.Label `json:"labels"`
				NonGaugeParams int              `json:"non_gauge_params"`
			}
			var infos []info
			for _, name := range model.BuiltinNames() {
				m, err := model.Builtin(name)
				if err != nil {
					return err
				}
				ng, err := m.NumNonGaugeParams()
				if err != nil {
					return err
				}
				infos = append(infos, info{name, m.NumQubits(), m.Labels(), ng})
			}
			if a.flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			for _, i := range infos {
				fmt.Fprintf(cmd.OutOrStdout(), "%-16s qubits=%d gates=%v non-gauge=%d\n", i.Name, i.NumQubits, i.Labels, i.NonGaugeParams)
			}
			return nil
		},
	}
}

func (a *app) optionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "options",
		Short: "List selection option names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, n := range selection.OptionNames() {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func (a *app) fiducialsCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "fiducials",
		Short: "Select preparation and measurement fiducials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			fc, m, err := a.load()
			if err != nil {
				return err
			}
			cfg, err := a.decode(selection.DefaultFiducialConfig(), fc.Fiducials, m)
			if err != nil {
				return err
			}
			svc := a.service()

			if role == "" {
				pair, err := svc.SelectFiducialPair(ctx, m, cfg)
				if err != nil {
					return err
				}
				if err := a.store(ctx, runs.KindFiducials, m.Name(), !pair.Failed(), pair); err != nil {
					return err
				}
				if a.flags.output == "json" {
					return writeJSON(cmd.OutOrStdout(), pair)
				}
				printFiducials(cmd.OutOrStdout(), pair.Prep)
				printFiducials(cmd.OutOrStdout(), pair.Meas)
				return nil
			}

			r, err := pool.ParseRole(role)
			if err != nil || !r.IsFiducial() {
				return fmt.Errorf("--role must be prep or meas, got %q", role)
			}
			res, err := svc.SelectFiducials(ctx, m, r, cfg)
			if err != nil {
				return err
			}
			if err := a.store(ctx, runs.KindFiducials, m.Name(), res.Complete, res); err != nil {
				return err
			}
			if a.flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printFiducials(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "prep or meas (default both)")
	return cmd
}

func (a *app) germsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "germs",
		Short: "Select an amplificationally complete germ set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			fc, m, err := a.load()
			if err != nil {
				return err
			}
			cfg, err := a.decode(selection.DefaultGermConfig(), fc.Germs, m)
			if err != nil {
				return err
			}
			res, err := a.service().SelectGerms(ctx, m, cfg)
			if err != nil {
				return err
			}
			if err := a.store(ctx, runs.KindGerms, m.Name(), res.Complete, res); err != nil {
				return err
			}
			if a.flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printGerms(cmd.OutOrStdout(), res)
			return nil
		},
	}
}

func (a *app) designCmd() *cobra.Command {
	var maxLengths []int
	cmd := &cobra.Command{
		Use:   "design",
		Short: "Select fiducials and germs and list the experiment circuits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			fc, m, err := a.load()
			if err != nil {
				return err
			}
			fidCfg, err := a.decode(selection.DefaultFiducialConfig(), fc.Fiducials, m)
			if err != nil {
				return err
			}
			germCfg, err := a.decode(selection.DefaultGermConfig(), fc.Germs, m)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-lengths") && len(fc.MaxLengths) > 0 {
				maxLengths = fc.MaxLengths
			}

			res, err := a.service().Design(ctx, m, fidCfg, germCfg, maxLengths)
			if err != nil {
				return err
			}
			if err := a.store(ctx, runs.KindDesign, m.Name(), !res.Failed(), res); err != nil {
				return err
			}
			if a.flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			printFiducials(out, res.Prep)
			printFiducials(out, res.Meas)
			printGerms(out, res.Germs)
			if res.Failed() {
				fmt.Fprintln(out, "circuits: none (a selection failed)")
				return nil
			}
			fmt.Fprintf(out, "circuits (%d):\n", len(res.Circuits))
			for _, c := range res.Circuits {
				fmt.Fprintf(out, "  %s\n", c)
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&maxLengths, "max-lengths", []int{1, 2, 4, 8}, "maximum sequence lengths")
	return cmd
}

func (a *app) runsCmd() *cobra.Command {
	var filter runs.ListFilter
	var kind string
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored selection runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, closeDB, err := a.openRuns()
			if err != nil {
				return err
			}
			defer closeDB()

			filter.Kind = runs.Kind(kind)
			list, err := repo.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if a.flags.output == "json" {
				return writeJSON(cmd.OutOrStdout(), list)
			}
			for _, r := range list {
				status := "complete"
				if !r.Complete {
					status = "failed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-9s %-16s %-8s %s\n",
					r.ID, r.Kind, r.GateSet, status, r.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "fiducials, germs or design")
	cmd.Flags().StringVar(&filter.GateSet, "gateset-filter", "", "only runs for this gate set")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum runs to list")
	return cmd
}

func (a *app) load() (*fileConfig, *model.Model, error) {
	fc, err := loadFileConfig(a.flags.configPath)
	if err != nil {
		return nil, nil, err
	}
	m, err := resolveModel(fc, a.flags.gateSet)
	if err != nil {
		return nil, nil, err
	}
	return fc, m, nil
}

// decode layers the config file options and then the --set overrides on
// top of base.
func (a *app) decode(base selection.Config, fileOpts map[string]any, m *model.Model) (selection.Config, error) {
	opts := make(map[string]any, len(fileOpts)+len(a.flags.sets))
	for k, v := range fileOpts {
		opts[k] = v
	}
	for _, kv := range a.flags.sets {
		k, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return selection.Config{}, fmt.Errorf("--set %q: want key=value", kv)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return selection.Config{}, fmt.Errorf("--set %s: %w", k, err)
		}
		opts[k] = v
	}

	cfg, err := selection.DecodeOptions(base, opts, m.Labels())
	if err != nil {
		return selection.Config{}, err
	}
	for _, d := range cfg.Diagnostics {
		a.log.Warn().Str("option", d.Option).Msg(d.Message)
	}
	return cfg, nil
}

func (a *app) service() *selection.Service {
	return selection.NewService(workers.NewWorkerPool(a.flags.workers), a.log)
}

// store saves the run when --save is given.
func (a *app) store(ctx context.Context, kind runs.Kind, gateSet string, complete bool, result any) error {
	if !a.flags.save {
		return nil
	}
	repo, closeDB, err := a.openRuns()
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := runs.New(kind, gateSet, complete, "", result)
	if err != nil {
		return err
	}
	if err := repo.Save(ctx, run); err != nil {
		return err
	}
	a.log.Info().Str("id", run.ID).Msg("Run saved")
	return nil
}

// openRuns opens the run database the server uses, as located by GST_DATA_DIR.
func (a *app) openRuns() (*runs.Repository, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.New(database.Config{Path: cfg.DatabasePath(), Name: "runs"})
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return runs.NewRepository(db.Conn(), a.log), func() { _ = db.Close() }, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printFiducials(w io.Writer, res *selection.FiducialResult) {
	if res.Failure != nil {
		fmt.Fprintf(w, "%s: FAILED %s (%d of %d directions)\n", res.Role, res.Failure.Kind, res.Failure.Informative, res.Failure.Required)
		return
	}
	fmt.Fprintf(w, "%s (%d, score %s, pool %d): %s\n",
		res.Role, len(res.Fiducials), res.Evaluation.Score, res.PoolSize, strings.Join(circuits.Strings(res.Fiducials), " "))
}

func printGerms(w io.Writer, res *selection.GermResult) {
	if res.Failure != nil {
		fmt.Fprintf(w, "germs: FAILED %s (%d of %d non-gauge parameters)\n", res.Failure.Kind, res.Failure.Informative, res.Failure.Required)
		return
	}
	fmt.Fprintf(w, "germs (%d, score %s, pool %d): %s\n",
		len(res.Germs), res.Evaluation.Score, res.PoolSize, strings.Join(circuits.Strings(res.Germs), " "))
}
