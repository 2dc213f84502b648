package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oxplot/isowriter/config"
	"github.com/oxplot/isowriter/disk"
	"github.com/oxplot/isowriter/transfer"
)

const (
	title     = "ISO Writer"
	envPrefix = "ISOWRITER"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "isowriter",
	Short: "Write disk images to USB drives and SD cards",
	Long: `isowriter copies a disk image (.iso, .img or .img.xz) byte for byte onto a
removable drive, or into a file on a mounted removable volume.

  List drives:        isowriter list
  Write an image:     isowriter write --source arch.iso --target /dev/sdb
  Guided terminal UI: isowriter interactive
  Desktop window:     isowriter gui`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.isowriter.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log drives with unreadable metadata")
	rootCmd.PersistentFlags().String("kind", "raw", "kind of drives to offer: raw, mounted or all")
	rootCmd.PersistentFlags().String("min-size", "0", "hide drives smaller than this (e.g. 4GiB)")
	rootCmd.PersistentFlags().String("chunk-size", "4MiB", "amount copied per step, a multiple of 512 bytes")
	rootCmd.PersistentFlags().Bool("sync", true, "flush the drive before reporting success")

	viper.BindPFlag(config.KeyVerbose, rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag(config.KeyKind, rootCmd.PersistentFlags().Lookup("kind"))
	viper.BindPFlag(config.KeyMinSize, rootCmd.PersistentFlags().Lookup("min-size"))
	viper.BindPFlag(config.KeyChunkSize, rootCmd.PersistentFlags().Lookup("chunk-size"))
	viper.BindPFlag(config.KeySync, rootCmd.PersistentFlags().Lookup("sync"))

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()

	rootCmd.AddCommand(
		newListCommand(),
		newWriteCommand(),
		newInteractiveCommand(),
		newGUICommand(),
		newInspectCommand(),
	)
}

func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".isowriter")
	}
	if err := viper.ReadInConfig(); err == nil {
		log.Printf("using config file: %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	c, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c
	disk.SetDebug(cfg.Verbose)
	return nil
}

func newEngine(status *transfer.Status) *transfer.Engine {
	return transfer.NewEngine(status,
		transfer.WithChunkSize(int(cfg.ChunkSize)),
		transfer.WithSync(cfg.Sync),
	)
}

func listDisks() ([]disk.Disk, error) {
	ds, err := disk.NewEnumerator(cfg.EnumeratorOptions()...).List()
	if err != nil {
		return nil, fmt.Errorf("failed to get list of drives: %w", err)
	}
	return ds, nil
}

func main() {
	log.SetFlags(0)
	log.SetPrefix(filepath.Base(os.Args[0]) + ": ")
	if err := rootCmd.Execute(); err != nil {
		log.Printf("error: %s", err)
		os.Exit(1)
	}
}
