package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/kyc-verif/internal/config"
	"github.com/example/kyc-verif/internal/logging"
)

// Options holds the engine flags shared by every subcommand.
type Options struct {
	ConfigPath       string
	AssetsFolder     string
	LicenseTokenFile string
	LicenseTokenData string
	GPUCtrlMemory    bool
	OpenVINO         string
}

var opts Options

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "kycverif",
	Short:         "Identity document verification engine",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "JSON file with engine options")
	flags.StringVar(&opts.AssetsFolder, "assets", "", "Path to the assets folder")
	flags.StringVar(&opts.LicenseTokenFile, "tokenfile", "", "Path to the license token file")
	flags.StringVar(&opts.LicenseTokenData, "tokendata", "", "Base64 license token data")
	flags.BoolVar(&opts.GPUCtrlMemory, "gpu_ctrl_mem", false, "Enable controlled GPU memory allocation")
	flags.StringVar(&opts.OpenVINO, "vino_activation", "", "Accelerator activation: auto, on or off")
}

// engineConfig merges the config file with the flags that were set.
func engineConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadFile(opts.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("assets") {
		cfg.AssetsFolder = opts.AssetsFolder
	}
	if flags.Changed("tokenfile") {
		cfg.LicenseTokenFile = opts.LicenseTokenFile
	}
	if flags.Changed("tokendata") {
		cfg.LicenseTokenData = opts.LicenseTokenData
	}
	if flags.Changed("gpu_ctrl_mem") {
		cfg.GPUCtrlMemoryEnabled = opts.GPUCtrlMemory
	}
	if flags.Changed("vino_activation") {
		cfg.OpenVINOActivation = opts.OpenVINO
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.NewConsoleLogger(cfg.LogLevel())
}
