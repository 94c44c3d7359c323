package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pitchforge/engine/internal/adapters/turso"
	"github.com/pitchforge/engine/internal/app"
	"github.com/pitchforge/engine/internal/domain"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
	Long:  `List and manage incubator sessions.`,
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	Long: `List stored sessions.

Examples:
  pitchforge sessions list          # All sessions
  pitchforge sessions list --best   # Best session per team`,
	RunE: runSessionsList,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsBest bool

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)

	sessionsListCmd.Flags().BoolVar(&sessionsBest, "best", false, "Show only the best session per team")
}

func sessionRepo() (*turso.SessionRepository, func(), error) {
	cfg, err := app.New()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	db, err := turso.NewDB(cfg.DatabasePath, cfg.DatabaseAuthToken)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return turso.NewSessionRepository(db), func() { db.Close() }, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	repo, closeDB, err := sessionRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	var sessions []*domain.Session
	if sessionsBest {
		sessions, err = repo.GetBestPerTeam(ctx, 100)
	} else {
		sessions, err = repo.ListAll(ctx)
	}
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTEAM\tEXERCISE\tPHASE\tSCORE\tTIER\tCOMPLETE\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0f\t%s\t%v\t%s\n",
			s.ID, s.TeamID, s.Exercise.ID, s.CurrentPhase, s.TotalScore,
			domain.ScoreTier(s.TotalScore), s.IsComplete,
			s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d sessions\n", len(sessions))
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := sessionRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	if err := repo.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("delete session %s: %w", args[0], err)
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}
