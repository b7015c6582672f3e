/*
Copyright © 2024 ant4g0nist

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	clihander "github.com/apex/log/handlers/cli"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// Verbose boolean flag for verbose logging
	Verbose bool
	// Color boolean flag for colorized output
	Color bool
	// AppVersion stores the plugin's version
	AppVersion string
	// AppBuildCommit stores the plugin's build commit
	AppBuildCommit string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vswap",
	Short: "Forge the entitlements the kernel reports for a process",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}

func init() {
	log.SetHandler(clihander.Default)

	cobra.OnInitialize(initConfig)

	// Flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/vswap/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&Verbose, "verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&Color, "color", false, "colorize output")
	// Offsets
	rootCmd.PersistentFlags().StringP("layout", "l", "", "Offset layout name (see 'vswap offsets')")
	rootCmd.PersistentFlags().String("os-version", "", "Target OS version used to pick an offset layout")
	rootCmd.PersistentFlags().Bool("pac", false, "Target is PAC-capable (arm64e)")
	rootCmd.PersistentFlags().String("offsets", "", "YAML file with extra offset layouts")
	rootCmd.MarkPersistentFlagFilename("offsets", "yaml", "yml")
	// Kernel memory
	rootCmd.PersistentFlags().String("backend", "gdb", "Kernel memory backend")
	rootCmd.PersistentFlags().String("gdb", "", "GDB remote stub address (host:port)")
	rootCmd.PersistentFlags().String("arena", "", "Kernel address of the arena used for allocations")
	rootCmd.PersistentFlags().String("arena-size", "", "Size of the allocation arena")
	rootCmd.PersistentFlags().Int("packet-size", 0, "Maximum bytes per GDB memory packet")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("color", rootCmd.PersistentFlags().Lookup("color"))
	viper.BindPFlag("offsets.layout", rootCmd.PersistentFlags().Lookup("layout"))
	viper.BindPFlag("offsets.version", rootCmd.PersistentFlags().Lookup("os-version"))
	viper.BindPFlag("offsets.pac", rootCmd.PersistentFlags().Lookup("pac"))
	viper.BindPFlag("offsets.file", rootCmd.PersistentFlags().Lookup("offsets"))
	viper.BindPFlag("kmem.backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("kmem.gdb.addr", rootCmd.PersistentFlags().Lookup("gdb"))
	viper.BindPFlag("kmem.gdb.arena", rootCmd.PersistentFlags().Lookup("arena"))
	viper.BindPFlag("kmem.gdb.arena-size", rootCmd.PersistentFlags().Lookup("arena-size"))
	viper.BindPFlag("kmem.gdb.packet-size", rootCmd.PersistentFlags().Lookup("packet-size"))
	viper.BindEnv("color", "CLICOLOR")
	// Settings
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(filepath.Join(home, ".config", "vswap"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("vswap")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
