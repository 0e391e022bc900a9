package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idcheck/internal/ocr/tesseract"
	"github.com/MeKo-Tech/idcheck/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintln(out, version.String())
		if withEngine, _ := cmd.Flags().GetBool("engine"); withEngine {
			_, _ = fmt.Fprintf(out, "tesseract %s\n", tesseract.New(tesseract.Options{}).Version())
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("engine", false, "also print the linked tesseract version")
}
