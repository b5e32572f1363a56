package main

import (
	"fmt"

	"github.com/book-expert/voiceclone-service/internal/app"
	"github.com/spf13/cobra"
)

func newFetchEmbeddingsCmd(state *session) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch-embeddings",
		Short: "Download every style embedding that is not cached locally yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			components, err := app.Assemble(state.cfg, state.log)
			if err != nil {
				return err
			}

			for _, name := range components.Embeddings.Names() {
				path, err := components.Embeddings.EnsureLocal(cmd.Context(), name)
				if err != nil {
					return fmt.Errorf("embedding %s: %w", name, err)
				}

				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, path)
				if err != nil {
					return err
				}
			}

			return nil
		},
	}
}
