package commands

import (
	"database/sql"
	"errors"
	"fmt"
	"iptu-backend/internal/chrono"
	"iptu-backend/internal/db"
	"iptu-backend/internal/store"
	"iptu-backend/internal/telemetry"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show <property code>",
	Short: "Prints what is stored for a property.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		database, err := cfg.Database.OpenDB(db.Schema)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer database.Close()

		st := store.NewStore(database, chrono.NewStandardTime(), telemetry.NewSlogAPI(slog.Default(), "show"))
		property, installments, err := st.Get(cmd.Context(), args[0])
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("property %s was never processed", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf(
			"%s: %s, updated %s\n",
			property.Code,
			property.Status,
			property.UpdatedAt.In(chrono.SaoPaulo()).Format("02/01/2006 15:04"),
		)

		t := newTable()
		t.AppendHeader(table.Row{"Year", "Installment", "Amount", "Due", "Original due", "Status", "Slip"})
		for _, inst := range installments {
			slip := "-"
			if len(inst.Document) > 0 {
				slip = humanize.Bytes(uint64(len(inst.Document)))
			}
			t.AppendRow(table.Row{
				inst.Year,
				inst.Number,
				fmt.Sprintf("R$ %.2f", inst.Amount),
				inst.DueDate,
				inst.OriginalDueDate,
				inst.StatusText,
				slip,
			})
		}
		t.Render()
		return nil
	},
}
