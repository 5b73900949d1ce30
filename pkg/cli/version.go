package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/trustcore/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show trustcore version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := FormatTable
			if rt != nil {
				writer = rt.Writer()
				format = rt.OutputFormat()
			}

			if format == FormatTable {
				_, err := fmt.Fprintln(writer, info.String())
				return err
			}
			return WriteObject(writer, format, info)
		},
	}
}
