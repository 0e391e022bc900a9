package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/idcheck/internal/config"
	"github.com/MeKo-Tech/idcheck/internal/pipeline"
	"github.com/MeKo-Tech/idcheck/internal/verify"
)

// verifyCmd checks one card image against a claimed identity.
var verifyCmd = &cobra.Command{
	Use:   "verify [image]",
	Short: "Verify an identity card image against a claimed identity",
	Long: `Extract the name, date of birth and ID number from an identity card image
and compare them with the claimed values.

The claim is given with --name, --dob and --id-number, or read from a JSON
file with --claims ({"name": ..., "dob": ..., "id_number": ...}). Flags
override values from the file.

Supported formats: JPEG, PNG, BMP, TIFF, WebP and the first image of a PDF

Examples:
  idcheck verify card.jpg --name "John Smith" --dob 05/03/1999 --id-number "2345 6789 0123"
  idcheck verify --image card.png --claims claim.json --format json
  idcheck verify card.pdf --claims claim.json --classify --output result.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerifyCommand,
}

func runVerifyCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	imagePath, _ := cmd.Flags().GetString("image")
	if len(args) == 1 {
		imagePath = args[0]
	}
	if imagePath == "" {
		return errors.New("an image is required (argument or --image)")
	}

	claim, err := claimFromFlags(cmd)
	if err != nil {
		return err
	}

	classify, _ := cmd.Flags().GetBool("classify")
	failOnMismatch, _ := cmd.Flags().GetBool("fail-on-mismatch")

	p, err := buildPipeline(cfg, classify, nil)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := p.Verify(ctx, pipeline.Request{ImagePath: imagePath, Claim: claim, Classify: classify})

	if err := writeResult(cmd.OutOrStdout(), cfg, res); err != nil {
		return err
	}
	if failOnMismatch && !res.Verified() {
		return &exitError{code: 1, msg: "verification did not match"}
	}
	return nil
}

// claimFromFlags merges the --claims file with the individual flags.
func claimFromFlags(cmd *cobra.Command) (verify.Claim, error) {
	var claim verify.Claim
	if path, _ := cmd.Flags().GetString("claims"); path != "" {
		c, err := pipeline.LoadClaim(path)
		if err != nil {
			return verify.Claim{}, err
		}
		claim = c
	}
	if cmd.Flags().Changed("name") {
		claim.Name, _ = cmd.Flags().GetString("name")
	}
	if cmd.Flags().Changed("dob") {
		claim.DOB, _ = cmd.Flags().GetString("dob")
	}
	if cmd.Flags().Changed("id-number") {
		claim.IDNumber, _ = cmd.Flags().GetString("id-number")
	}
	return claim, nil
}

// writeResult renders res in the configured format to the output file or w.
func writeResult(w io.Writer, cfg *config.Config, res *pipeline.Result) error {
	var sb strings.Builder
	switch cfg.Output.Format {
	case "json":
		out, err := pipeline.ToJSON(res)
		if err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		sb.WriteString(out)
		sb.WriteString("\n")
	default:
		if err := pipeline.WriteText(&sb, res); err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
	}

	if cfg.Output.File != "" {
		if err := os.WriteFile(cfg.Output.File, []byte(sb.String()), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		return nil
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	f := verifyCmd.Flags()
	f.String("image", "", "path to the card image")
	f.String("name", "", "claimed full name")
	f.String("dob", "", "claimed date of birth (day first, e.g. 05/03/1999)")
	f.String("id-number", "", "claimed 12-digit ID number; spaces are ignored")
	f.String("claims", "", "JSON file with the claimed identity")
	f.Bool("classify", false, "also run the document classifier")
	f.Bool("fail-on-mismatch", false, "exit with status 1 unless every field matches")
	f.StringP("format", "f", "text", "output format: text or json")
	f.StringP("output", "o", "", "write the result to a file instead of stdout")
	f.Bool("debug-text", true, "include the recognised text in JSON output")
	f.StringSlice("variants", nil, "preprocessing variants in order (otsu, adaptive, denoise, bilateral)")
	f.String("language", "eng", "tesseract language")
	f.Int("name-threshold", 75, "minimum name similarity (0-100)")
	f.Bool("recognize-all", false, "recognise every variant even after all fields are found")

	bindFlags(verifyCmd, []flagBinding{
		{"output.format", "format"},
		{"output.file", "output"},
		{"output.include_debug", "debug-text"},
		{"preprocess.variants", "variants"},
		{"ocr.language", "language"},
		{"verify.name_threshold", "name-threshold"},
		{"ocr.recognize_all", "recognize-all"},
	})
}

