package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RyanBlaney/sonido-scribe/config"
	"github.com/RyanBlaney/sonido-scribe/ledger"
	"github.com/RyanBlaney/sonido-scribe/logging"
	"github.com/RyanBlaney/sonido-scribe/pipeline"
	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/spf13/pflag"
)

const usage = `Usage: sonido-scribe <command> [flags]

Commands:
  run       transcribe, re-render and evaluate one audio file
  compare   tabulate recorded runs from the ledger [run ids...]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, os.Args[2:])
	case "compare":
		err = compareCommand(ctx, os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		err := xerrors.New(err)
		logging.Error(err, "Command failed", logging.Fields{"command": os.Args[1]})
		stop()
		os.Exit(1)
	}
}

func commonFlags(fs *pflag.FlagSet) *string {
	configPath := fs.String("config", "", "YAML configuration file")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("ledger", "", "SQLite run ledger")
	return configPath
}

func loadConfig(fs *pflag.FlagSet, configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath, fs)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	return cfg, nil
}

func runCommand(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	configPath := commonFlags(fs)
	fs.StringP("input", "i", "", "input audio file")
	fs.StringP("output", "o", "results", "run output directory")
	fs.Float64P("threshold", "t", 0.6, "detection threshold in [0, 1]")
	fs.Bool("humanize", false, "apply seeded velocity and timing variation")
	fs.Int64("seed", 42, "run seed")
	fs.String("renderer", config.RendererAuto, "auto, fluidsynth or sine")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, *configPath)
	if err != nil {
		return err
	}
	if cfg.Input == "" && fs.NArg() > 0 {
		cfg.Input = fs.Arg(0)
	}
	if cfg.Input == "" {
		return fmt.Errorf("an input file is required (--input)")
	}

	deps := pipeline.Deps{}
	if cfg.Ledger.Path != "" {
		l, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return err
		}
		defer l.Close()
		deps.Ledger = l
	}

	runner, err := pipeline.New(cfg, deps)
	if err != nil {
		return err
	}

	logging.Info("Starting run", logging.Fields{
		"input":  cfg.Input,
		"output": cfg.Output,
		"seed":   cfg.Seed,
	})

	summary, err := runner.Run(ctx, cfg.Input)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func compareCommand(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("compare", pflag.ContinueOnError)
	configPath := commonFlags(fs)
	csvPath := fs.String("csv", "", "also write the comparison as CSV")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(fs, *configPath)
	if err != nil {
		return err
	}
	if cfg.Ledger.Path == "" {
		return fmt.Errorf("a ledger is required (--ledger)")
	}

	l, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return err
	}
	defer l.Close()

	cmp, err := l.Compare(ctx, fs.Args()...)
	if err != nil {
		return err
	}
	if len(cmp.Runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	if err := cmp.WriteTable(os.Stdout); err != nil {
		return err
	}

	if *csvPath != "" {
		f, err := os.Create(*csvPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", *csvPath, err)
		}
		defer f.Close()
		if err := cmp.WriteCSV(f); err != nil {
			return fmt.Errorf("failed to write %s: %w", *csvPath, err)
		}
		fmt.Printf("\nComparison saved to %s\n", *csvPath)
	}
	return nil
}
