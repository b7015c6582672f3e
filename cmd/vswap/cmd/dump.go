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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ant4g0nist/voucher-swap/internal/commands/entitle"
	"github.com/ant4g0nist/voucher-swap/internal/config"
)

func init() {
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringP("proc", "p", "", "Kernel address of the target proc")
	dumpCmd.MarkFlagRequired("proc")
	viper.BindPFlag("dump.proc", dumpCmd.Flags().Lookup("proc"))
}

// dumpCmd represents the dump command
var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the in-kernel signature and entitlements of a process",
	Example: heredoc.Doc(`
		# Show the current entitlements of a proc
		❯ vswap dump --layout ios12-arm64 --proc 0xffffffe0004ca000 --color`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		if Verbose {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = !viper.GetBool("color")

		settings, err := config.LoadConfig()
		if err != nil {
			return err
		}

		if err := entitle.Dump(&entitle.Config{
			Proc:     viper.GetString("dump.proc"),
			Verbose:  Verbose,
			Color:    viper.GetBool("color"),
			Settings: settings,
		}); err != nil {
			return fmt.Errorf("failed to dump proc signature: %v", err)
		}
		return nil
	},
}
