package main

import (
	"context"
	"fmt"
	"time"

	"github.com/book-expert/voiceclone-service/internal/inference"
	"github.com/spf13/cobra"
)

const healthCheckTimeout = 10 * time.Second

func newHealthCmd(state *session) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the inference service health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), healthCheckTimeout)
			defer cancel()

			client := inference.NewClient(state.cfg.Inference.ServiceURL, healthCheckTimeout)

			err := client.HealthCheck(ctx)
			if err != nil {
				state.log.Error("Health check failed: %v", err)

				return fmt.Errorf("inference service is not healthy: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "inference service is healthy")

			return err
		},
	}
}
