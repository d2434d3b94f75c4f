package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucahttp/morti/internal/voice"
)

func newVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List available voices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := voice.NewStore(activeCfg.Paths.VoicesDir)
			if err != nil {
				return err
			}

			ids, err := store.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no voices found")
				return nil
			}

			for _, id := range ids {
				marker := " "
				if id == activeCfg.Synth.Voice {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, id)
			}
			return nil
		},
	}

	return cmd
}
