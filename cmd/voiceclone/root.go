package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/spf13/cobra"
)

// Flag names and descriptions.
const (
	flagConfig     = "config"
	flagConfigDesc = "Path to a TOML configuration file (defaults to the project configuration)"
)

// Log file names.
const (
	logFileBootstrap = "voiceclone-cli-bootstrap.log"
	logFileCLI       = "voiceclone-cli.log"
)

// session is the configuration and logger shared by every subcommand.
type session struct {
	configPath string
	cfg        *config.Config
	log        *logger.Logger
}

func newRootCmd() (*cobra.Command, *session) {
	state := &session{}

	cmd := &cobra.Command{
		Use:           "voiceclone",
		Short:         "Speak text in the voice of a reference recording",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return state.open()
		},
	}

	cmd.PersistentFlags().StringVar(&state.configPath, flagConfig, "", flagConfigDesc)

	cmd.AddCommand(newConvertCmd(state))
	cmd.AddCommand(newFetchEmbeddingsCmd(state))
	cmd.AddCommand(newHealthCmd(state))

	return cmd, state
}

// run executes cmd and closes the session log whether or not the command failed.
func run(cmd *cobra.Command, state *session) error {
	err := cmd.Execute()

	return errors.Join(err, state.close())
}

// open loads configuration from --config when given, otherwise through the
// configurator, and starts the CLI log.
func (s *session) open() error {
	if s.configPath != "" {
		cfg, err := config.LoadFile(s.configPath)
		if err != nil {
			return err
		}

		s.cfg = cfg
	} else {
		bootstrapLog, err := logger.New(os.TempDir(), logFileBootstrap)
		if err != nil {
			return fmt.Errorf("failed to create bootstrap logger: %w", err)
		}

		cfg, err := config.Load(bootstrapLog)

		err = errors.Join(err, bootstrapLog.Close())
		if err != nil {
			return err
		}

		s.cfg = cfg
	}

	log, err := logger.New(s.cfg.Paths.BaseLogsDir, logFileCLI)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	s.log = log

	return nil
}

func (s *session) close() error {
	if s.log == nil {
		return nil
	}

	err := s.log.Close()
	s.log = nil

	return err
}
