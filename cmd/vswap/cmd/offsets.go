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
	"text/tabwriter"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ant4g0nist/voucher-swap/pkg/csblob"
	"github.com/ant4g0nist/voucher-swap/pkg/kernel/offsets"
)

var colorName = color.New(color.Bold, color.FgHiMagenta).SprintFunc()

func init() {
	rootCmd.AddCommand(offsetsCmd)
}

// offsetsCmd represents the offsets command
var offsetsCmd = &cobra.Command{
	Use:   "offsets",
	Short: "List the available kernel offset layouts",
	Example: heredoc.Doc(`
		# List builtin layouts
		❯ vswap offsets

		# Include layouts from a file
		❯ vswap offsets --offsets ./ios12.4.yaml`),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {

		color.NoColor = !viper.GetBool("color")

		reg, err := offsets.Builtin()
		if err != nil {
			return err
		}
		if path := viper.GetString("offsets.file"); path != "" {
			if err := reg.LoadFile(path); err != nil {
				return err
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSIONS\tPAC\tSTRATEGY\tTEXTVP\tUBCINFO\tCS_BLOBS\tRECORD")
		for _, name := range reg.Names() {
			l, err := reg.Get(name)
			if err != nil {
				return err
			}
			strategy := csblob.StrategyDirect
			if l.PAC {
				strategy = csblob.StrategyCopy
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%#x\t%#x\t%#x\t%#x\n",
				colorName(l.Name), l.Constraints, l.PAC, strategy,
				l.Proc.TextVnode, l.Vnode.UbcInfo, l.UbcInfo.CSBlobs, l.Record.Size)
		}
		return w.Flush()
	},
}
