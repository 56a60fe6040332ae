package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/kyc"
	"github.com/example/kyc-verif/internal/pipeline"
)

var (
	verifyImage    string
	verifyParallel bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify one document image and print the result as JSON",
	RunE:  runVerify,
}

func init() {
	verifyCmd.Flags().StringVarP(&verifyImage, "image", "i", "", "Path to the document image")
	verifyCmd.Flags().BoolVar(&verifyParallel, "parallel", false, "Also deliver the result through the asynchronous callback")
	_ = verifyCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, _ []string) error {
	cfg, err := engineConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	data, err := os.ReadFile(verifyImage)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	var delivered chan *kyc.Result
	var pipeOpts []pipeline.Option
	if verifyParallel {
		delivered = make(chan *kyc.Result, 1)
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

	res, err := engine.Process(cmd.Context(), data)
	if err != nil {
		res = kyc.ErrorResult(err)
	}
	if verifyParallel {
		select {
		case cb := <-delivered:
			logger.Info("parallel delivery", zap.String("status", string(cb.Status)), zap.Int("code", cb.Code))
		case <-time.After(5 * time.Second):
			logger.Warn("parallel delivery timed out")
		}
	}

	out, err := res.JSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	if !res.OK() {
		return fmt.Errorf("verification failed: %s", res.Phrase)
	}
	return nil
}
