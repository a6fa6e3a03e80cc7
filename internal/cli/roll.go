package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mkessel/loremaster/internal/dice"
)

func newRollCmd() *cobra.Command {
	var (
		advantage    bool
		disadvantage bool
	)

	cmd := &cobra.Command{
		Use:   "roll <notation>",
		Short: "Roll dice in standard notation (e.g. 1d20, 2d6+3)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			notation := strings.Join(args, "")

			spec, err := dice.ParseNotation(notation)
			if err != nil {
				return err
			}
			spec.Advantage = advantage
			spec.Disadvantage = disadvantage

			result, err := dice.Roll(spec)
			if err != nil {
				return err
			}
			fmt.Println(result.Breakdown)
			return nil
		},
	}

	cmd.Flags().BoolVar(&advantage, "advantage", false, "roll 1d20 twice and take the higher")
	cmd.Flags().BoolVar(&disadvantage, "disadvantage", false, "roll 1d20 twice and take the lower")

	return cmd
}
