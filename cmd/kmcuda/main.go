// Package main provides the kmcuda CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Zhiyu-Chen/kmcuda/pkg/config"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device/cpu"
	"github.com/Zhiyu-Chen/kmcuda/pkg/kmcuda/device/cuda"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kmcuda",
		Short: "kmcuda - multi-device K-means clustering",
		Long: `kmcuda partitions a set of feature vectors into K clusters using a
Yinyang-accelerated variant of Lloyd's K-means, with uniform random or
k-means++ centroid seeding, across one or more compute devices.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newClusterCmd(), newDevicesCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newClusterCmd() *cobra.Command {
	var configPath string
	flags := config.Default()

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Run a clustering job over a samples file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			overrideFromFlags(cmd, cfg, flags)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Input == "" {
				return fmt.Errorf("an input file is required (--input)")
			}
			return runCluster(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&flags.Input, "input", "", "samples file (.csv or raw .f32)")
	cmd.Flags().Uint32Var(&flags.Clusters, "clusters", flags.Clusters, "number of clusters")
	cmd.Flags().Uint16Var(&flags.Features, "features", 0, "features per sample (required for raw input)")
	cmd.Flags().StringVar(&flags.Init, "init", flags.Init, "seeding strategy: random or kmeans++")
	cmd.Flags().Float32Var(&flags.Tolerance, "tolerance", flags.Tolerance, "convergence tolerance in [0,1]")
	cmd.Flags().Float32Var(&flags.YinyangT, "yinyang-t", flags.YinyangT, "group fraction for bound pruning in [0,0.5]")
	cmd.Flags().Uint32Var(&flags.Seed, "seed", flags.Seed, "random seed")
	cmd.Flags().Uint32Var(&flags.DeviceMask, "device-mask", flags.DeviceMask, "bitmask of requested devices")
	cmd.Flags().StringVar(&flags.Backend, "backend", flags.Backend, "device backend: auto, cpu or cuda")
	cmd.Flags().IntVar(&flags.CPUDevices, "cpu-devices", flags.CPUDevices, "emulated device count for the cpu backend")
	cmd.Flags().Int32Var(&flags.Verbosity, "verbosity", flags.Verbosity, "0 silent, 1 progress, 2 diagnostics")
	cmd.Flags().StringVar(&flags.CentroidsOut, "centroids-out", flags.CentroidsOut, "output CSV for centroids")
	cmd.Flags().StringVar(&flags.AssignmentsOut, "assignments-out", flags.AssignmentsOut, "output CSV for assignments")

	return cmd
}

// overrideFromFlags copies every flag the user set on the command line over
// the loaded config, preserving the flags > env > file > defaults precedence.
func overrideFromFlags(cmd *cobra.Command, cfg, flags *config.Config) {
	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("input", func() { cfg.Input = flags.Input })
	set("clusters", func() { cfg.Clusters = flags.Clusters })
	set("features", func() { cfg.Features = flags.Features })
	set("init", func() { cfg.Init = flags.Init })
	set("tolerance", func() { cfg.Tolerance = flags.Tolerance })
	set("yinyang-t", func() { cfg.YinyangT = flags.YinyangT })
	set("seed", func() { cfg.Seed = flags.Seed })
	set("device-mask", func() { cfg.DeviceMask = flags.DeviceMask })
	set("backend", func() { cfg.Backend = flags.Backend })
	set("cpu-devices", func() { cfg.CPUDevices = flags.CPUDevices })
	set("verbosity", func() { cfg.Verbosity = flags.Verbosity })
	set("centroids-out", func() { cfg.CentroidsOut = flags.CentroidsOut })
	set("assignments-out", func() { cfg.AssignmentsOut = flags.AssignmentsOut })
}

func runCluster(cfg *config.Config) error {
	samples, samplesSize, featuresSize, err := readSamples(cfg.Input, cfg.Features)
	if err != nil {
		return err
	}

	backend, err := selectBackend(cfg)
	if err != nil {
		return err
	}

	initMethod := kmcuda.InitPlusPlus
	if cfg.Init == "random" {
		initMethod = kmcuda.InitRandom
	}

	opts := &kmcuda.Options{
		InitMethod: initMethod,
		Tolerance:  cfg.Tolerance,
		YinyangT:   cfg.YinyangT,
		Seed:       cfg.Seed,
		DeviceMask: cfg.DeviceMask,
		Verbosity:  cfg.Verbosity,
		DevicePtrs: -1,
		Backend:    backend,
	}

	centroids := make([]float32, int(cfg.Clusters)*int(featuresSize))
	assignments := make([]uint32, samplesSize)

	if err := kmcuda.Run(opts, samplesSize, featuresSize, cfg.Clusters, samples, centroids, assignments); err != nil {
		return err
	}

	if err := writeCentroids(cfg.CentroidsOut, centroids, int(featuresSize)); err != nil {
		return err
	}
	if err := writeAssignments(cfg.AssignmentsOut, assignments); err != nil {
		return err
	}
	fmt.Printf("clustered %d samples into %d clusters (%s, %s)\n",
		samplesSize, cfg.Clusters, cfg.Init, backend.Name())
	return nil
}

func selectBackend(cfg *config.Config) (device.Backend, error) {
	switch cfg.Backend {
	case "cpu":
		return cpu.New(cfg.CPUDevices), nil
	case "cuda":
		return cuda.New()
	default: // auto
		if cuda.IsAvailable() {
			return cuda.New()
		}
		return cpu.New(cfg.CPUDevices), nil
	}
}

func newDevicesCmd() *cobra.Command {
	var backendName string
	var cpuDevices int

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List and probe compute devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Backend = backendName
			cfg.CPUDevices = cpuDevices
			backend, err := selectBackend(cfg)
			if err != nil {
				return err
			}
			count, err := backend.DeviceCount()
			if err != nil {
				return err
			}
			fmt.Printf("backend: %s, devices: %d\n", backend.Name(), count)
			for dev := 0; dev < count; dev++ {
				if err := backend.SetDevice(dev); err != nil {
					fmt.Printf("  device %d: unavailable (%v)\n", dev, err)
					continue
				}
				free, total, err := backend.MemInfo()
				if err != nil {
					fmt.Printf("  device %d: usable, memory info unavailable\n", dev)
					continue
				}
				fmt.Printf("  device %d: usable, %d MB free of %d MB\n",
					dev, free>>20, total>>20)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&backendName, "backend", "auto", "device backend: auto, cpu or cuda")
	cmd.Flags().IntVar(&cpuDevices, "cpu-devices", 1, "emulated device count for the cpu backend")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kmcuda %s (%s)\n", version, commit)
		},
	}
}
