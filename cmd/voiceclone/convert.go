package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/voiceclone-service/internal/app"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/spf13/cobra"
)

// Convert flags.
const (
	flagRef   = "ref"
	flagText  = "text"
	flagStyle = "style"
	flagOut   = "out"

	defaultOutputFile = "output.wav"
)

// Convert messages.
const (
	errReadReference   = "failed to read reference audio: %w"
	logConverting      = "Converting with reference %s (style: %s) to %s"
	msgConverted       = "Wrote %s (source: %s, target: %s, %s)\n"
	msgConversionError = "conversion failed: %s"
)

type convertFlags struct {
	ref   string
	text  string
	style string
	out   string
}

func newConvertCmd(state *session) *cobra.Command {
	var flags convertFlags

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Speak --text in the voice of the --ref recording",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runConvert(ctx, cmd, state, flags)
		},
	}

	cmd.Flags().StringVar(&flags.ref, flagRef, "", "Reference recording of the target voice (.wav)")
	cmd.Flags().StringVar(&flags.text, flagText, "", "Text to speak")
	cmd.Flags().StringVar(&flags.style, flagStyle, string(core.StyleDefault),
		fmt.Sprintf("Base speaker style, one of %v", core.Styles()))
	cmd.Flags().StringVar(&flags.out, flagOut, defaultOutputFile, "Output file path (.wav)")

	_ = cmd.MarkFlagRequired(flagRef)
	_ = cmd.MarkFlagRequired(flagText)

	return cmd
}

func runConvert(ctx context.Context, cmd *cobra.Command, state *session, flags convertFlags) error {
	reference, err := os.ReadFile(flags.ref)
	if err != nil {
		return fmt.Errorf(errReadReference, err)
	}

	components, err := app.Assemble(state.cfg, state.log)
	if err != nil {
		return err
	}

	state.log.Info(logConverting, flags.ref, flags.style, flags.out)

	result, err := components.Pipeline.Submit(ctx, core.ConversionRequest{
		ReferenceAudio: reference,
		Text:           flags.text,
		Style:          flags.style,
		OutputPath:     flags.out,
	})
	if err != nil {
		var stageErr *core.StageError
		if errors.As(err, &stageErr) {
			return fmt.Errorf(msgConversionError, stageErr.UserMessage())
		}

		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), msgConverted,
		result.OutputPath, result.SourceEmbedding, result.TargetEmbedding, result.Elapsed.Round(time.Millisecond))

	return err
}
