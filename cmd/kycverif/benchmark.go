package main

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/pipeline"
)

var (
	benchImage    string
	benchLoops    int
	benchParallel bool
)

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Process the same image repeatedly and report throughput",
	RunE:  runBenchmark,
}

func init() {
	benchmarkCmd.Flags().StringVarP(&benchImage, "image", "i", "", "Path to the document image")
	benchmarkCmd.Flags().IntVarP(&benchLoops, "loops", "n", 20, "Number of times to process the image")
	benchmarkCmd.Flags().BoolVar(&benchParallel, "parallel", true, "Submit every loop at once and collect results through the callback")
	_ = benchmarkCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(benchmarkCmd)
}

func runBenchmark(cmd *cobra.Command, _ []string) error {
	if benchLoops < 1 {
		return errors.New("--loops must be within [1, inf]")
	}
	cfg, err := engineConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	data, err := os.ReadFile(benchImage)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	bar := progressbar.NewOptions(benchLoops,
		progressbar.OptionSetDescription("benchmark"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
	)

	statuses := map[kyc.Status]int{}
	record := func(res *kyc.Result) {
		statuses[res.Status]++
		_ = bar.Add(1)
	}

	var delivered chan *kyc.Result
	var pipeOpts []pipeline.Option
	if benchParallel {
		delivered = make(chan *kyc.Result, benchLoops+1)
		pipeOpts = append(pipeOpts, pipeline.WithCallback(func(res *kyc.Result) { delivered <- res }))
	}
	engine := pipeline.New(logger, pipeOpts...)
	if err := engine.Init(cfg); err != nil {
		return err
	}
	defer func() {
		if err := engine.Deinit(); err != nil {
			logger.Warn("deinit failed", zap.Error(err))
		}
	}()

	// The first call pays for warm-up and is not timed.
	if _, err := engine.Process(cmd.Context(), data); err != nil && !kyc.KindOf(err).Retryable() {
		return err
	}
	if benchParallel {
		<-delivered
	}

	start := time.Now()
	if benchParallel {
		var submit sync.WaitGroup
		for i := 0; i < benchLoops; i++ {
			submit.Add(1)
			go func() {
				defer submit.Done()
				_, _ = engine.Process(cmd.Context(), data)
			}()
		}
		submit.Wait()
		for i := 0; i < benchLoops; i++ {
			select {
			case res := <-delivered:
				record(res)
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
		}
	} else {
		for i := 0; i < benchLoops; i++ {
			res, err := engine.Process(cmd.Context(), data)
			if err != nil {
				res = kyc.ErrorResult(err)
			}
			record(res)
		}
	}
	elapsed := time.Since(start)
	_ = bar.Finish()

	fmt.Fprintf(cmd.OutOrStdout(), "\nelapsed: %s, loops: %d, estimated fps: %.2f\n",
		elapsed.Round(time.Millisecond), benchLoops, float64(benchLoops)/elapsed.Seconds())
	for status, n := range statuses {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d\n", status, n)
	}
	return nil
}
