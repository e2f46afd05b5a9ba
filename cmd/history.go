package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"landmarkload/internal/storage"
	"landmarkload/internal/tui/styles"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded load test runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		path, _ := cmd.Flags().GetString("history-db")
		if path == "" {
			path = viper.GetString("history-db")
		}
		store, err := openStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.List(limit)
		if err != nil {
			return err
		}
		return renderHistory(cmd.OutOrStdout(), records)
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "Max runs to show (0 = all)")
	historyCmd.Flags().String("history-db", "", "Run history database (default is $HOME/.landmarkload/history.db)")
}

func renderHistory(w io.Writer, records []storage.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded yet.")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.ColorBorder)).
		Headers("Time", "URL", "Users x Req", "OK", "Failed", "Mean", "Max")

	for _, r := range records {
		mean, max := "-", "-"
		if r.Summary != nil {
			mean = fmt.Sprintf("%.3fs", r.Summary.Mean)
			max = fmt.Sprintf("%.3fs", r.Summary.Max)
		}
		t.Row(
			r.Timestamp.Local().Format(time.RFC822),
			r.Config.URL,
			fmt.Sprintf("%d x %d", r.Config.Users, r.Config.RequestsPerUser),
			fmt.Sprint(r.Successful),
			fmt.Sprint(r.TransportFailures+r.ResponseFailures),
			mean,
			max,
		)
	}

	_, err := fmt.Fprintln(w, t.Render())
	return err
}
