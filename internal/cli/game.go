package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mkessel/loremaster/internal/config"
	"github.com/mkessel/loremaster/internal/store"
)

func newGameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "game",
		Short: "Manage games from the command line",
	}

	cmd.AddCommand(newGameListCmd())
	cmd.AddCommand(newGameCreateCmd())
	cmd.AddCommand(newGameClearAgentCmd())
	return cmd
}

// openDB loads the config and opens the database at the resolved path.
func openDB() (*store.DB, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating data directories: %w", err)
	}
	return store.Open(paths.DatabasePath(&cfg), log)
}

func newGameListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all games",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			games, err := store.NewGameStore(db).List()
			if err != nil {
				return err
			}
			if len(games) == 0 {
				fmt.Println("No games yet. Create one with: loremaster game create <name>")
				return nil
			}
			for _, g := range games {
				fmt.Printf("%d\t%s\t%s\n", g.ID, g.Name, g.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
}

func newGameCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new game",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			game, err := store.NewGameStore(db).Create(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Created game %d: %s\n", game.ID, game.Name)
			return nil
		},
	}
}

func newGameClearAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear-agent <game-id>",
		Short: "Wipe a game's conversation history and plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid game id %q", args[0])
			}

			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := store.NewGameStore(db).Get(id); err != nil {
				return err
			}
			if err := store.NewAgentStore(db).Clear(id); err != nil {
				return err
			}
			fmt.Printf("Cleared agent state for game %d\n", id)
			return nil
		},
	}
}
