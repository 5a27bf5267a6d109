package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cnabflow/ingestor/internal/cli/output"
	"github.com/cnabflow/ingestor/internal/cli/prompt"
	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/config"
	queueredis "github.com/cnabflow/ingestor/internal/queue/redis"
	"github.com/cnabflow/ingestor/internal/recoveryloop"
	"github.com/cnabflow/ingestor/internal/registry"
	"github.com/cnabflow/ingestor/internal/registry/postgres"

	goredis "github.com/redis/go-redis/v9"
)

var (
	uploadsPage     int
	uploadsPageSize int
	uploadsStatus   string
	resumeForce     bool
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Inspect and recover file uploads",
}

var uploadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List file uploads",
	RunE:  runUploadsList,
}

var uploadsIncompleteCmd = &cobra.Command{
	Use:   "incomplete",
	Short: "List uploads stuck past the recovery timeout",
	RunE:  runUploadsIncomplete,
}

var uploadsResumeCmd = &cobra.Command{
	Use:   "resume <upload-id>",
	Short: "Resume one stuck upload from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runUploadsResume,
}

var uploadsResumeAllCmd = &cobra.Command{
	Use:   "resume-all",
	Short: "Resume every upload stuck past the recovery timeout",
	RunE:  runUploadsResumeAll,
}

func init() {
	uploadsListCmd.Flags().IntVar(&uploadsPage, "page", 1, "page number")
	uploadsListCmd.Flags().IntVar(&uploadsPageSize, "page-size", 20, "page size")
	uploadsListCmd.Flags().StringVar(&uploadsStatus, "status", "", "filter by status (Pending, Processing, Success, Failed, Duplicate, PartiallyCompleted)")

	uploadsResumeAllCmd.Flags().BoolVar(&resumeForce, "force", false, "skip the confirmation prompt")

	uploadsCmd.AddCommand(uploadsListCmd, uploadsIncompleteCmd, uploadsResumeCmd, uploadsResumeAllCmd)
}

func openRegistryAndRecovery() (*config.Config, *postgres.Registry, *recoveryloop.RecoveryLoop, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	reg, err := postgres.New(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	q := queueredis.New(redisClient)

	return cfg, reg, recoveryloop.New(cfg.Recovery, reg, q, nil), nil
}

func runUploadsList(cmd *cobra.Command, args []string) error {
	_, reg, _, err := openRegistryAndRecovery()
	if err != nil {
		return err
	}

	ctx := context.Background()
	filter := registry.ListFilter{Status: model.UploadStatus(uploadsStatus)}
	uploads, total, err := reg.List(ctx, uploadsPage, uploadsPageSize, filter)
	if err != nil {
		return fmt.Errorf("failed to list uploads: %w", err)
	}

	if err := output.PrintTable(os.Stdout, &output.UploadTable{Uploads: uploads}); err != nil {
		return err
	}
	fmt.Printf("\npage %d, %d of %d total\n", uploadsPage, len(uploads), total)
	return nil
}

func runUploadsIncomplete(cmd *cobra.Command, args []string) error {
	cfg, reg, _, err := openRegistryAndRecovery()
	if err != nil {
		return err
	}

	ctx := context.Background()
	stuck, err := reg.FindStuck(ctx, cfg.Recovery.StuckUploadTimeout)
	if err != nil {
		return fmt.Errorf("failed to query stuck uploads: %w", err)
	}

	if len(stuck) == 0 {
		fmt.Println("no stuck uploads")
		return nil
	}
	return output.PrintTable(os.Stdout, &output.UploadTable{Uploads: stuck})
}

func runUploadsResume(cmd *cobra.Command, args []string) error {
	_, _, recovery, err := openRegistryAndRecovery()
	if err != nil {
		return err
	}

	result := recovery.Resume(context.Background(), args[0])
	if !result.Resumed {
		return fmt.Errorf("failed to resume upload %s: %s", result.UploadID, result.Error)
	}
	fmt.Printf("upload %s re-enqueued for processing\n", result.UploadID)
	return nil
}

func runUploadsResumeAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	confirmed, err := prompt.ConfirmWithForce(
		fmt.Sprintf("Resume every upload stuck for longer than %s", cfg.Recovery.StuckUploadTimeout), resumeForce)
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

	_, _, recovery, err := openRegistryAndRecovery()
	if err != nil {
		return err
	}

	results := recovery.ResumeAll(context.Background(), cfg.Recovery.StuckUploadTimeout)
	resumed := 0
	for _, r := range results {
		if r.Resumed {
			resumed++
			continue
		}
		fmt.Printf("failed to resume %s: %s\n", r.UploadID, r.Error)
	}
	fmt.Printf("resumed %d of %d stuck uploads\n", resumed, len(results))
	return nil
}
