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

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/apex/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ant4g0nist/voucher-swap/internal/commands/entitle"
	"github.com/ant4g0nist/voucher-swap/internal/config"
)

func init() {
	rootCmd.AddCommand(entitleCmd)

	entitleCmd.Flags().StringP("proc", "p", "", "Kernel address of the target proc")
	entitleCmd.Flags().StringP("ent", "e", "", "Entitlements fragment inserted verbatim into the plist <dict>")
	entitleCmd.Flags().String("plist", "", "Read the entitlements from a plist file")
	entitleCmd.Flags().Bool("check", false, "Check the rendered plist parses before touching the kernel")
	entitleCmd.Flags().StringP("strategy", "s", "", "Override the patch strategy (copy|direct)")
	entitleCmd.RegisterFlagCompletionFunc("strategy", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"copy", "direct"}, cobra.ShellCompDirectiveNoFileComp
	})
	entitleCmd.MarkFlagFilename("plist", "plist", "entitlements", "xml")
	viper.BindPFlag("entitle.proc", entitleCmd.Flags().Lookup("proc"))
	viper.BindPFlag("entitle.ent", entitleCmd.Flags().Lookup("ent"))
	viper.BindPFlag("entitle.plist", entitleCmd.Flags().Lookup("plist"))
	viper.BindPFlag("entitle.check", entitleCmd.Flags().Lookup("check"))
	viper.BindPFlag("strategy", entitleCmd.Flags().Lookup("strategy"))
	entitleCmd.MarkFlagsMutuallyExclusive("ent", "plist")
	entitleCmd.MarkFlagsOneRequired("ent", "plist")
}

// entitleCmd represents the entitle command
var entitleCmd = &cobra.Command{
	Use:   "entitle",
	Short: "Replace the in-kernel entitlements of a process",
	Example: heredoc.Doc(`
		# Give a proc get-task-allow on an arm64 device
		❯ vswap entitle --layout ios12-arm64 --gdb 127.0.0.1:8864 \
			--proc 0xffffffe0004ca000 --ent '<key>get-task-allow</key><true/>'

		# Pick the layout by OS version and relocate the signature (arm64e)
		❯ vswap entitle --os-version 12.1.2 --pac --arena 0xffffffe100000000 \
			--proc 0xffffffe0004ca000 --plist ents.plist --check -V`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {

		if Verbose {
			log.SetLevel(log.DebugLevel)
		}
		color.NoColor = !viper.GetBool("color")

		settings, err := config.LoadConfig()
		if err != nil {
			log.Error(err.Error())
			os.Exit(1)
		}

		status, err := entitle.Run(&entitle.Config{
			Proc:      viper.GetString("entitle.proc"),
			Fragment:  viper.GetString("entitle.ent"),
			PlistFile: viper.GetString("entitle.plist"),
			Check:     viper.GetBool("entitle.check"),
			Verbose:   Verbose,
			Color:     viper.GetBool("color"),
			Settings:  settings,
		})
		if err != nil {
			log.Error(fmt.Sprintf("failed to entitle proc: %v", err))
		}
		os.Exit(status)
	},
}
