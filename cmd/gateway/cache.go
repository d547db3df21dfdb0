package main

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"simmgate-aigateway/internal/cache"
)

var errInMemoryCache = errors.New("the configured cache lives in the serving process; use the HTTP API to manage it")

func newProvisionCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Create the cache tables and buckets of every enabled plugin",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			names := a.adapters()
			if err := a.manager.EnsurePartitions(cmd.Context(), names...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "provisioned: %v\n", names)
			return nil
		},
	}
}

func newCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached plugin responses",
	}

	var userID string
	clearCmd := &cobra.Command{
		Use:   "clear <plugin>",
		Short: "Clear a plugin's cache, or one user's entries with --user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openPersistentCache(cmd.Context(), *configPath, args[0])
			if err != nil {
				return err
			}
			defer a.close()

			name := args[0]
			if err := a.manager.Clear(cmd.Context(), name, userID); err != nil {
				return err
			}
			if userID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared for plugin %s and user %s\n", name, userID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared for plugin %s\n", name)
			return nil
		},
	}
	clearCmd.Flags().StringVar(&userID, "user", "", "only clear entries owned by this user id")

	deleteCmd := &cobra.Command{
		Use:   "delete <plugin> <fingerprint>",
		Short: "Delete one cached image or audio artifact",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openPersistentCache(cmd.Context(), *configPath, args[0])
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.manager.DeleteBlob(cmd.Context(), args[0], cache.Fingerprint(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s from plugin %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.AddCommand(clearCmd, deleteCmd)
	return cmd
}

// openPersistentCache loads the app for an offline cache operation on one
// enabled plugin and makes sure its partitions exist.
func openPersistentCache(ctx context.Context, configPath, name string) (*app, error) {
	a, err := loadApp(configPath)
	if err != nil {
		return nil, err
	}
	if a.cfg.Cache.StructuredBackend == "memory" && a.cfg.Cache.BlobBackend == "memory" {
		a.close()
		return nil, errInMemoryCache
	}
	if !slices.Contains(a.adapters(), name) {
		a.close()
		return nil, fmt.Errorf("plugin %s not found", name)
	}
	if err := a.manager.EnsurePartitions(ctx, name); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}
