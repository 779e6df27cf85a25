// Package main is the gmengine CLI entry point (SPEC_FULL.md §1's "[FULL]
// Entry point"): parse a YAML configuration, build an Engine from the
// sample analyzer registry, seed it, run it to quiescence, and hand the
// final blackboard to a screen. Plugin discovery and config schema
// validation beyond what engine.Config needs are out of scope; only the
// loader and screen contracts are exercised here, against the sample
// analyzers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/anthropics/gmengine/internal/config"
	"github.com/anthropics/gmengine/internal/gamemaster"
	"github.com/anthropics/gmengine/internal/logging"
	"github.com/anthropics/gmengine/internal/registry"
	"github.com/anthropics/gmengine/internal/sampleanalyzers"
	"github.com/anthropics/gmengine/internal/screen"
	"github.com/anthropics/gmengine/internal/screen/jsonscreen"
	"github.com/anthropics/gmengine/internal/store"
	"github.com/anthropics/gmengine/internal/version"
)

var (
	verbose    bool
	configPath string
	seedFile   string
	savePath   string
	saveSlot   string
	loadSlot   string
	indent     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gmengine",
	Short: "gmengine runs an analysis game to quiescence and prints the result",
	Long: `gmengine builds a GameMaster-coordinated analysis run from the
registered player/NPC/back-story analyzer modules, seeds it with one input
object, drives every tracker to quiescence, and renders the resulting
blackboard through a screen.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: runGame,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level CLI logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gmengine.yaml", "path to the YAML configuration file")
	rootCmd.Flags().StringVar(&seedFile, "seed-file", "", "path to a file whose contents seed the initial object")
	rootCmd.Flags().StringVar(&savePath, "save-path", "", "sqlite database path for save/restore (empty disables saving)")
	rootCmd.Flags().StringVar(&saveSlot, "save-slot", "", "slot name to save the final engine state under")
	rootCmd.Flags().StringVar(&loadSlot, "load-slot", "", "slot name to restore the engine state from before running")
	rootCmd.Flags().BoolVar(&indent, "indent", true, "indent the JSON screen output")
}

func runGame(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	graceTime, maxGameTime, maxTurnTime, temporaryBase := cfg.Engine.GameMasterConfig()
	if err := logging.Initialize(temporaryBase, logging.Config{
		DebugMode:  cfg.Logging.DebugMode,
		Categories: cfg.Logging.Categories,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		logger.Warn("file logging init failed, continuing without it", zap.Error(err))
	}

	reg := registry.New()
	if err := sampleanalyzers.RegisterAll(reg); err != nil {
		return fmt.Errorf("register analyzers: %w", err)
	}
	if err := reg.Register(registry.KindScreen, "jsonscreen.Screen", registry.Metadata{
		Name: "json",
	}, jsonscreen.New); err != nil {
		return fmt.Errorf("register screen: %w", err)
	}

	e := gamemaster.New(gamemaster.Config{
		GraceTime:     graceTime,
		MaxGameTime:   maxGameTime,
		MaxTurnTime:   maxTurnTime,
		TemporaryBase: temporaryBase,
	}, version.Current, reg, sampleanalyzers.Descriptors())

	e.Start(optionsFor(cfg))

	var sv *store.Store
	if savePath != "" {
		sv, err = store.Open(savePath)
		if err != nil {
			return err
		}
		defer sv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if loadSlot != "" {
		if sv == nil {
			return fmt.Errorf("--load-slot requires --save-path")
		}
		if err := sv.LoadEngine(ctx, loadSlot, e); err != nil {
			return err
		}
	} else if seedFile != "" {
		data, err := os.ReadFile(seedFile)
		if err != nil {
			return fmt.Errorf("read seed file: %w", err)
		}
		if _, err := e.SeedObject(data, nil, ""); err != nil {
			return fmt.Errorf("seed object: %w", err)
		}
	}

	if err := e.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	if saveSlot != "" {
		if sv == nil {
			return fmt.Errorf("--save-slot requires --save-path")
		}
		if err := sv.SaveEngine(context.Background(), saveSlot, e); err != nil {
			return err
		}
	}

	board := e.Blackboard()
	scr := screen.Screen(&jsonscreen.Screen{})
	snap, err := scr.Filter(board.Objects.All(), board.Facts.All(), board.Hyps.All(), nil)
	if err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	out, err := scr.Present(snap, map[string]interface{}{"indent": indent})
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	fmt.Println(out)
	return nil
}

// optionsFor merges each entity's configured option bag with the shared
// "common" bag (spec §6.2) across every section the registry can hold.
func optionsFor(cfg *config.Config) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	for _, section := range []map[string]config.OptionBag{cfg.Players, cfg.NPCS, cfg.BackStories, cfg.Screens, cfg.Actions} {
		for name, bag := range section {
			out[name] = config.Merged(bag, cfg.Common)
		}
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
