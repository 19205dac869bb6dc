package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:   "ptychorecon",
		Short: "Iterative ptychographic reconstruction of 4D-STEM data",
		Long: `ptychorecon recovers a sample's transmission function and the probe from
overlapping diffraction patterns with gradient descent or generalised projections.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	initConfigCmd = &cobra.Command{
		Use:   "init-config [path]",
		Short: "Writes a configuration file with default values",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runInitConfig,
	}
	simulateCmd = &cobra.Command{
		Use:   "simulate",
		Short: "Simulates a synthetic dataset and prints its summary",
		RunE:  runSimulate,
	}
	reconstructCmd = &cobra.Command{
		Use:   "reconstruct",
		Short: "Simulates a dataset and reconstructs it",
		Long: `Generates the synthetic dataset described by the simulation section, runs the
reconstruction section on it and reports the error history. With output.metricsFile set the
run's Prometheus metrics are written as a node-exporter textfile.`,
		RunE: runReconstruct,
	}

	configPath string
	maxIter    int
	method     string
	imageDir   string
	force      bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml",
		"Configuration file (defaults are used when it does not exist)")

	rootCmd.AddCommand(initConfigCmd)
	initConfigCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&imageDir, "images", "", "Directory for PNG renderings of the ground truth")

	rootCmd.AddCommand(reconstructCmd)
	reconstructCmd.Flags().IntVarP(&maxIter, "max-iter", "n", 0, "Override reconstruction.maxIter")
	reconstructCmd.Flags().StringVarP(&method, "method", "m", "", "Override reconstruction.method")
	reconstructCmd.Flags().StringVar(&imageDir, "images", "", "Override output.imageDir")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
