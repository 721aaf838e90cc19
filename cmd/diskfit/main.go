// Command diskfit fits a parametric disk model to an interferometric
// observation bundle and records the sampler chain in SQLite.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/matisse-tools/diskfit/internal/chainstore"
	"github.com/matisse-tools/diskfit/internal/config"
	"github.com/matisse-tools/diskfit/internal/fit"
	"github.com/matisse-tools/diskfit/internal/obs"
)

func main() {
	configPath := flag.String("config", "run.json", "run configuration JSON")
	dataPath := flag.String("data", "", "observation bundle JSON (required)")
	dbPath := flag.String("db", "chains.db", "chain database path")
	walkers := flag.Int("walkers", 0, "override the configured walker count")
	steps := flag.Int("steps", 0, "override the configured step count")
	seed := flag.Uint64("seed", 0, "override the configured random seed")
	flag.Parse()

	if *dataPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, *dataPath, *dbPath, *walkers, *steps, *seed); err != nil {
		log.Fatal(err)
	}
}

func run(configPath, dataPath, dbPath string, walkers, steps int, seed uint64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	bundle, err := obs.Load(dataPath)
	if err != nil {
		return fmt.Errorf("load data: %w", err)
	}

	mctx, err := cfg.BuildContext()
	if err != nil {
		return err
	}
	schema, err := cfg.BuildSchema()
	if err != nil {
		return err
	}
	problem, err := fit.NewProblem(schema, mctx, bundle, cfg.Fit.WavelengthsUm, cfg.Fit.WindowUm, cfg.Flags(), cfg.Fit.LnfBounds)
	if err != nil {
		return err
	}

	samplerCfg := cfg.SamplerSettings()
	if walkers > 0 {
		samplerCfg.Walkers = walkers
	}
	if steps > 0 {
		samplerCfg.Steps = steps
	}
	if seed != 0 {
		samplerCfg.Seed = seed
	}

	store, err := chainstore.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runID, err := store.CreateRun(cfg)
	if err != nil {
		return err
	}
	log.Printf("run %s: %d free parameters, %d walkers, %d steps",
		runID, problem.Dim(), samplerCfg.Walkers, samplerCfg.Steps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := fit.Run(ctx, problem, samplerCfg, store.Recorder(runID)); err != nil {
		if ctx.Err() != nil {
			log.Printf("interrupted, chain saved through last completed step")
		} else {
			return fmt.Errorf("sampling: %w", err)
		}
	}

	best, err := store.BestSample(runID)
	if err != nil {
		return err
	}
	log.Printf("best log probability %.3f at step %d walker %d", best.LogProb, best.Step, best.Walker)
	free := schema.FreeParameters()
	for i, p := range free {
		log.Printf("  %-12s = %.4g", p.Name, best.Theta[i])
	}
	log.Printf("  %-12s = %.4g", "lnf", best.Theta[len(best.Theta)-1])
	return nil
}
