package main

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/settlement/internal/config"
	"github.com/MarkoPoloResearchLab/settlement/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/settlement/pkg/settlement"
	"github.com/spf13/cobra"
)

const (
	flagUserID     = "user-id"
	flagRole       = "role"
	flagEmail      = "email"
	flagJobID      = "job-id"
	flagProviderID = "provider-id"
)

func newMigrateCommand() *cobra.Command {
	cfg := &config.Config{}
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(cmd, cfg); err != nil {
				return err
			}
			return cfg.ValidateStorage()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if cfg.StoreDriver == config.StoreDriverPgx {
				opened, err := openBackend(ctx, *cfg)
				if err != nil {
					return err
				}
				return opened.close()
			}
			gormDB, cleanup, _, err := openDatabase(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database open: %w", err)
			}
			defer func() { _ = cleanup() }()
			if err := gormstore.Migrate(ctx, gormDB); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newDirectoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "directory",
		Short: "Maintain the party and job directory",
	}
	cmd.AddCommand(newUpsertPartyCommand())
	cmd.AddCommand(newUpsertJobCommand())
	return cmd
}

func newUpsertPartyCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:   "upsert-party",
		Short: "Create or update a party",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(cmd, cfg); err != nil {
				return err
			}
			return cfg.ValidateStorage()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rawUserID, _ := cmd.Flags().GetString(flagUserID)
			rawRole, _ := cmd.Flags().GetString(flagRole)
			email, _ := cmd.Flags().GetString(flagEmail)
			userID, err := settlement.NewUserID(rawUserID)
			if err != nil {
				return err
			}
			role, err := settlement.ParseRole(rawRole)
			if err != nil {
				return err
			}

			opened, err := openBackend(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer func() { _ = opened.close() }()
			if err := opened.store.UpsertParty(cmd.Context(), settlement.Party{ID: userID, Role: role, Email: email}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "party %s saved as %s\n", userID, role)
			return nil
		},
	}
	cmd.Flags().String(flagUserID, "", "party identifier")
	cmd.Flags().String(flagRole, "", "customer, artisan or admin")
	cmd.Flags().String(flagEmail, "", "contact email; must be unique")
	_ = cmd.MarkFlagRequired(flagUserID)
	_ = cmd.MarkFlagRequired(flagRole)
	_ = cmd.MarkFlagRequired(flagEmail)
	return cmd
}

func newUpsertJobCommand() *cobra.Command {
	cfg := &config.Config{}
	cmd := &cobra.Command{
		Use:   "upsert-job",
		Short: "Create or update a job and its assigned artisan",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readConfig(cmd, cfg); err != nil {
				return err
			}
			return cfg.ValidateStorage()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rawJobID, _ := cmd.Flags().GetString(flagJobID)
			rawProviderID, _ := cmd.Flags().GetString(flagProviderID)
			jobID, err := settlement.NewJobID(rawJobID)
			if err != nil {
				return err
			}
			providerID, err := settlement.NewUserID(rawProviderID)
			if err != nil {
				return err
			}

			opened, err := openBackend(cmd.Context(), *cfg)
			if err != nil {
				return err
			}
			defer func() { _ = opened.close() }()
			if err := opened.store.UpsertJob(cmd.Context(), settlement.Job{ID: jobID, AssignedProvider: providerID}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s assigned to %s\n", jobID, providerID)
			return nil
		},
	}
	cmd.Flags().String(flagJobID, "", "job identifier")
	cmd.Flags().String(flagProviderID, "", "artisan assigned to the job")
	_ = cmd.MarkFlagRequired(flagJobID)
	_ = cmd.MarkFlagRequired(flagProviderID)
	return cmd
}
