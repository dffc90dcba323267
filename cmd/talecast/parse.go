package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/MrWong99/talecast/internal/tags"
)

var (
	speakerColour  = color.New(color.FgCyan, color.Bold)
	narratorColour = color.New(color.FgMagenta)
	emotionColour  = color.New(color.FgYellow)
	issueColour    = color.New(color.FgRed, color.Bold)
)

func newParseCommand() *cobra.Command {
	var (
		strip     bool
		tolerance int
	)
	cmd := &cobra.Command{
		Use:   "parse [file]",
		Short: "Split tagged prose into speaker segments (reads stdin without a file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prose, err := readProse(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			if strip {
				fmt.Fprintln(cmd.OutOrStdout(), tags.StripTags(prose))
				return nil
			}
			return printSegments(cmd.OutOrStdout(), prose, tolerance)
		},
	}
	cmd.Flags().BoolVar(&strip, "strip", false, "Print the prose with all speaker tags removed")
	cmd.Flags().IntVar(&tolerance, "tolerance", 0, "Whitespace runes the segments may lose (0 keeps the default)")
	return cmd
}

func readProse(stdin io.Reader, args []string) (string, error) {
	var (
		b   []byte
		err error
	)
	if len(args) == 1 && args[0] != "-" {
		b, err = os.ReadFile(args[0])
	} else {
		b, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", fmt.Errorf("read prose: %w", err)
	}
	return string(b), nil
}

func printSegments(w io.Writer, prose string, tolerance int) error {
	if res := tags.ValidateBalance(prose); !res.Valid() {
		for _, is := range res.Issues {
			issueColour.Fprintf(w, "✗ %s\n", is)
		}
		return res.Err()
	}

	var opts []tags.Option
	if tolerance > 0 {
		opts = append(opts, tags.WithCoverageTolerance(tolerance))
	}
	res, err := tags.New(opts...).Parse(prose)
	if err != nil {
		return err
	}

	for i, seg := range res.Segments {
		label := narratorColour
		if !seg.IsNarrator() {
			label = speakerColour
		}
		fmt.Fprintf(w, "%3d ", i+1)
		label.Fprint(w, seg.Speaker)
		if seg.Emotion != "" {
			emotionColour.Fprintf(w, " (%s)", seg.Emotion)
		}
		fmt.Fprintf(w, ": %q\n", seg.Text)
	}
	fmt.Fprintf(w, "%d segments, %d speakers\n", len(res.Segments), len(res.Speakers))
	return nil
}
