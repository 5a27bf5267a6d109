package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cnabflow/ingestor/internal/cli/prompt"
	"github.com/cnabflow/ingestor/internal/registry/postgres"
)

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "Administer persisted transactions",
}

var transactionsDeleteAllCmd = &cobra.Command{
	Use:   "delete-all",
	Short: "Delete every transaction, line hash, and file upload record",
	Long: `Delete every persisted transaction, line idempotency hash, and file
upload record. This is a destructive, irreversible admin operation: it
resets the registry's deduplication history, so previously-uploaded files
can be re-ingested as if for the first time.`,
	RunE: runTransactionsDeleteAll,
}

func init() {
	transactionsCmd.AddCommand(transactionsDeleteAllCmd)
}

func runTransactionsDeleteAll(cmd *cobra.Command, args []string) error {
	confirmed, err := prompt.ConfirmDanger(
		"This will permanently delete ALL transactions, line hashes, and file uploads", "delete-all")
	if err != nil {
		if prompt.IsAborted(err) {
			return nil
		}
		return err
	}
	if !confirmed {
		fmt.Println("aborted")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reg, err := postgres.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := reg.DeleteAllTransactions(context.Background()); err != nil {
		return fmt.Errorf("failed to delete all transactions: %w", err)
	}

	fmt.Println("all transactions, line hashes, and file uploads deleted")
	return nil
}
