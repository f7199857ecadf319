package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lensim/pkg/config"
	"lensim/pkg/logging"
	"lensim/pkg/multiband"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	return root.Execute()
}

// app is the state shared by all subcommands once the run file is loaded.
type app struct {
	configPath string
	envFile    string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	runID  string
	out    io.Writer
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	a := &app{out: stdout, logger: zap.NewNop()}
	root := &cobra.Command{
		Use:   "lensim",
		Short: "Simulate and fit multi-band strong-lensing images",
		Long: `lensim models imaging data of strong gravitational lenses.

Every command reads a YAML run file describing the bands, their PSFs and the
lens, light and point-source components. Linear amplitudes are always solved
for; nonlinear parameters are taken from the run file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "lensim.yaml", "run file")
	root.PersistentFlags().StringVar(&a.envFile, "env", ".env", "optional env file with LENSIM_* overrides")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(a.simulateCmd(), a.fitCmd(), a.positionsCmd())
	return root
}

func (a *app) setup(*cobra.Command, []string) error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logCfg := cfg.LoggingConfig()
	if a.verbose {
		logCfg.Level = "debug"
	}
	a.cfg = cfg
	a.runID = uuid.NewString()
	a.logger = logging.New(logCfg).With(zap.String("run_id", a.runID))
	a.logger.Debug("run file loaded",
		zap.String("path", a.configPath),
		zap.Int("bands", len(cfg.Bands)),
		zap.Int("point_source_sets", len(cfg.PointSources)))
	return nil
}

func (a *app) orchestrator(withData bool) (*multiband.Orchestrator, error) {
	bands, err := a.cfg.BuildBands(withData)
	if err != nil {
		return nil, err
	}
	return multiband.New(bands, a.cfg.PointSourceOptions(),
		multiband.WithLogger(a.logger),
		multiband.WithParallelism(a.cfg.Parallelism),
		multiband.WithSolverOptions(a.cfg.SolverOptions()),
		multiband.WithPointSourceErrorMap(a.cfg.PointSourceErrorMap),
	)
}

func (a *app) bandName(i int) string {
	if name := a.cfg.Bands[i].Name; name != "" {
		return name
	}
	return fmt.Sprintf("band%d", i)
}

func (a *app) heading(format string, args ...any) {
	color.New(color.FgCyan, color.Bold).Fprintf(a.out, format+"\n", args...)
}
