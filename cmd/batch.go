package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hps-group/dealengine/internal/model"
	"github.com/hps-group/dealengine/internal/store"
)

var (
	batchDir     string
	batchPosture string
	batchOrg     string
	batchBy      string
	batchLimit   int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Underwrite a directory of deal files",
	Long:  "Runs the engine over every .json deal file in a directory concurrently and persists each run.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("batch"); err != nil {
			return err
		}

		defaults, err := loadPolicyDefaults()
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		paths, err := collectDealFiles(batchDir, batchLimit)
		if err != nil {
			return err
		}
		return processBatch(ctx, st, defaults, paths, cfg.Batch.MaxConcurrentDeals)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "directory of deal JSON files (required)")
	batchCmd.Flags().StringVar(&batchPosture, "posture", string(model.PostureBase), "underwriting posture for every deal")
	batchCmd.Flags().StringVar(&batchOrg, "org", "", "org ID (default from each deal or policy document)")
	batchCmd.Flags().StringVar(&batchBy, "by", "batch", "identity recorded as run creator")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of files to process (0 = all)")
	_ = batchCmd.MarkFlagRequired("dir")
	rootCmd.AddCommand(batchCmd)
}

// collectDealFiles lists .json files in dir, sorted by name, up to limit.
func collectDealFiles(dir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read deal directory %s", dir)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)
	if limit > 0 && len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

// processBatch underwrites each deal file concurrently. A failed file logs
// and counts; it does not stop the rest of the batch.
func processBatch(ctx context.Context, st store.Store, defaults *model.PolicyDefaults, paths []string, concurrency int) error {
	if len(paths) == 0 {
		zap.L().Info("no deal files found")
		return nil
	}

	zap.L().Info("processing batch",
		zap.Int("deals", len(paths)),
		zap.Int("concurrency", concurrency),
	)

	var succeeded, deduped, failed atomic.Int64
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, path := range paths {
		g.Go(func() error {
			deal, err := loadDeal(path)
			if err != nil {
				failed.Add(1)
				zap.L().Error("deal load failed", zap.String("path", path), zap.Error(err))
				return nil
			}

			outcome, err := runAnalysis(gctx, st, defaults, analysisRequest{
				OrgID:   batchOrg,
				Posture: model.Posture(batchPosture),
				Deal:    deal,
				By:      batchBy,
				Save:    true,
				Source:  "batch",
			})
			if err != nil {
				failed.Add(1)
				zap.L().Error("deal analysis failed", zap.String("path", path), zap.Error(err))
				return nil
			}

			succeeded.Add(1)
			if outcome.Deduped {
				deduped.Add(1)
			}
			zap.L().Info("deal analyzed",
				zap.String("path", path),
				zap.String("run_id", outcome.Run.ID),
				zap.String("workflow_state", string(outcome.Result.Outputs.WorkflowState)),
				zap.Bool("deduped", outcome.Deduped),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "batch")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("deduped", deduped.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
