package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version info (set by build)
	Version   = "dev"
	GitCommit = "unknown"

	// Global flags
	cfgFile   string
	assumeYes bool
)

var rootCmd = &cobra.Command{
	Use:   "usb-flasher",
	Short: "Format USB devices and write bootable images to them",
	Long: `usb-flasher formats USB block devices and writes bootable disk
images to them, driving lsblk, parted, the mkfs tools and dd/pv.

All destructive commands walk you through device selection and ask for
confirmation before touching anything. Run them as root.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/usb-flasher/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "append the activity log to this file")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "skip confirmation prompts (dangerous)")

	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))

	rootCmd.AddCommand(
		newListCmd(),
		newFormatCmd(),
		newWriteCmd(),
		newInstallCmd(),
		newVerifyCmd(),
		newVersionCmd(),
	)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "usb-flasher"))
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("USB_FLASHER")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("usb-flasher %s (commit: %s)\n", Version, GitCommit)
		},
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
