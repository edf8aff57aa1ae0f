package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexigen/lexigen/pkg/config"
	"github.com/lexigen/lexigen/pkg/database"
	"github.com/lexigen/lexigen/pkg/llm"
	"github.com/lexigen/lexigen/pkg/models"
	"github.com/lexigen/lexigen/pkg/pipeline"
	"github.com/lexigen/lexigen/pkg/repository"
	"github.com/lexigen/lexigen/pkg/runs"
)

func newRunCmd() *cobra.Command {
	var (
		projectName string
		scope       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline run against a project and stream its logs",
		Long: `Executes a run and waits for it to finish.

Exit codes: 0 on completed, 1 on failed, 2 on cancelled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			catalog, err := database.OpenAndMigrate(
				filepath.Join(cfg.ProjectsRoot, "catalog.db"), database.CatalogMigrations)
			if err != nil {
				return err
			}
			defer catalog.Close()

			ctx := cmd.Context()
			project, err := repository.GetProjectByName(ctx, catalog, projectName)
			if err != nil {
				return fmt.Errorf("project %q: %w", projectName, err)
			}

			dbPath := filepath.Join(cfg.ProjectsRoot, project.Name, "project.db")
			db, err := database.OpenAndMigrate(dbPath, database.ProjectMigrations)
			if err != nil {
				return err
			}
			defer db.Close()

			tok, err := pipeline.NewKagomeTokenizer()
			if err != nil {
				return err
			}

			manager := runs.NewManager(project, db, dbPath, llm.Config{
				APIKey:  cfg.LLM.APIKey,
				BaseURL: firstNonEmpty(project.LLMBaseURL, cfg.LLM.BaseURL),
				Model:   firstNonEmpty(project.LLMModel, cfg.LLM.Model),
				Timeout: cfg.LLMTimeout(),
			}, tok)

			runID, err := manager.StartRun(ctx, models.Scope(scope), "cli", nil)
			if err != nil {
				return err
			}

			_, snapshot, live := manager.SubscribeLogs(runID)
			for _, ev := range snapshot {
				printEvent(cmd, ev.Level, ev.Message)
			}
			for ev := range live {
				if ev.Complete {
					break
				}
				printEvent(cmd, ev.Level, ev.Message)
			}
			manager.Wait()

			run, err := manager.GetRun(context.Background(), runID)
			if err != nil {
				return err
			}
			switch run.Status {
			case models.RunStatusCompleted:
				cmd.Printf("run %d completed in %s\n", runID, runDuration(run))
				return nil
			case models.RunStatusCancelled:
				return &exitError{code: 2, message: fmt.Sprintf("run %d cancelled", runID)}
			default:
				return &exitError{code: 1, message: fmt.Sprintf("run %d failed: %s", runID, run.ErrorMessage)}
			}
		},
	}

	cmd.Flags().StringVar(&projectName, "project", "", "project name")
	cmd.Flags().StringVar(&scope, "scope", string(models.ScopeFull),
		"run scope: full, extract, from_terms, or provisional_to_refined")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func printEvent(cmd *cobra.Command, level, message string) {
	if message == "" {
		return
	}
	cmd.Printf("[%s] %s\n", level, message)
}

func runDuration(run *models.Run) time.Duration {
	if run.StartedAt == nil || run.FinishedAt == nil {
		return 0
	}
	return run.FinishedAt.Sub(*run.StartedAt)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
