package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one spam sweep, purge stale captchas and repair counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			app, err := newApplication(commandContext(cmd), appConfig, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return runSweep(commandContext(cmd), app, cmd.OutOrStdout())
		},
	}
}

func runSweep(ctx context.Context, app *application, out io.Writer) error {
	report, err := app.policy.Sweep(ctx)
	if err != nil {
		return err
	}
	purged, err := app.captcha.Cleanup(ctx)
	if err != nil {
		return err
	}
	repaired, err := app.comments.RecomputeCounters(ctx)
	if err != nil {
		return err
	}
	app.logger.Info("maintenance finished",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("hidden", report.Hidden),
		zap.Int("failed", report.Failed),
		zap.Int64("captchas_purged", purged),
		zap.Int("counters_repaired", repaired))
	_, err = fmt.Fprintf(out, "evaluated=%d hidden=%d failed=%d captchas_purged=%d counters_repaired=%d\n",
		report.Evaluated, report.Hidden, report.Failed, purged, repaired)
	return err
}

func newModeratorCommand() *cobra.Command {
	moderatorCmd := &cobra.Command{
		Use:   "moderator",
		Short: "Manage moderator accounts",
	}

	var (
		addID   string
		addName string
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Register a moderator and print a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				moderator, err := app.moderators.Register(ctx, addID, addName)
				if err != nil {
					return err
				}
				return printToken(ctx, app, moderator.ModeratorID, cmd.OutOrStdout())
			})
		},
	}
	addCmd.Flags().StringVar(&addID, "id", "", "Moderator id used as the token subject")
	addCmd.Flags().StringVar(&addName, "name", "", "Display name (defaults to the id)")
	_ = addCmd.MarkFlagRequired("id")

	var tokenID string
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token for an active moderator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				moderator, err := app.moderators.Authorize(ctx, tokenID)
				if err != nil {
					return err
				}
				return printToken(ctx, app, moderator.ModeratorID, cmd.OutOrStdout())
			})
		},
	}
	tokenCmd.Flags().StringVar(&tokenID, "id", "", "Moderator id")
	_ = tokenCmd.MarkFlagRequired("id")

	var removeID string
	removeCmd := &cobra.Command{
		Use:   "remove",
		Short: "Revoke a moderator; running servers stop honoring its tokens within the cache TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *application) error {
				return removeModerator(ctx, app, removeID, cmd.OutOrStdout())
			})
		},
	}
	removeCmd.Flags().StringVar(&removeID, "id", "", "Moderator id")
	_ = removeCmd.MarkFlagRequired("id")

	moderatorCmd.AddCommand(addCmd, tokenCmd, removeCmd)
	return moderatorCmd
}

func withApplication(cmd *cobra.Command, run func(ctx context.Context, app *application) error) error {
	appConfig, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx := commandContext(cmd)
	app, err := newApplication(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return run(ctx, app)
}

func removeModerator(ctx context.Context, app *application, moderatorID string, out io.Writer) error {
	if err := app.moderators.Deactivate(ctx, moderatorID); err != nil {
		return err
	}
	app.logger.Info("moderator removed", zap.String("moderator_id", moderatorID))
	_, err := fmt.Fprintf(out, "moderator=%s removed\n", moderatorID)
	return err
}

func printToken(ctx context.Context, app *application, moderatorID string, out io.Writer) error {
	token, expiresIn, err := app.tokens.IssueModeratorToken(ctx, moderatorID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "moderator=%s expires_in=%ds\n%s\n", moderatorID, expiresIn, token)
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
