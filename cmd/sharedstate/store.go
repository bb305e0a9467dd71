package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/vango-dev/sharedstate/internal/config"
	"github.com/vango-dev/sharedstate/internal/errors"
	"github.com/vango-dev/sharedstate/pkg/persist"
)

// withStorage opens the configured storage for a one-shot command.
func withStorage(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, cfg *config.Config, store persist.Storage) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Persist.Timeout)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(ctx, cfg, store)
}

func getCmd(flags *globalFlags) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "get KEY",
		Short: "Print a stored cell",
		Long: `Print the stored record of a cell, read directly from the backend.

Examples:
  sharedstate get profile
  sharedstate get profile --raw`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, flags, func(ctx context.Context, cfg *config.Config, store persist.Storage) error {
				return runGet(ctx, cmd.OutOrStdout(), store, cfg.Persist.KeyPrefix+args[0], raw)
			})
		},
	}

	cmd.Flags().BoolVarP(&raw, "raw", "r", false, "Print only the value")

	return cmd
}

func runGet(ctx context.Context, out io.Writer, store persist.Storage, key string, raw bool) error {
	rec, err := store.Get(ctx, key)
	if err != nil {
		return errors.New("P001").WithSubject(key).Wrap(err)
	}
	if rec == nil {
		return errors.New("H003").WithSubject(key)
	}

	if raw {
		fmt.Fprintln(out, string(rec.Value))
		return nil
	}
	data, err := sonic.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.New("P003").WithSubject(key).Wrap(err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

func putCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put KEY JSON",
		Short: "Write a stored cell",
		Long: `Write a JSON value directly to the backend. Running servers that
watch the backend pick the change up.

Examples:
  sharedstate put theme '"dark"'
  sharedstate put profile '{"name":"ada"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, flags, func(ctx context.Context, cfg *config.Config, store persist.Storage) error {
				if err := runPut(ctx, store, cfg.Persist.KeyPrefix+args[0], cfg.Persist.Version, []byte(args[1])); err != nil {
					return err
				}
				success("Stored %s", args[0])
				return nil
			})
		},
	}

	return cmd
}

func runPut(ctx context.Context, store persist.Storage, key, version string, value []byte) error {
	if !sonic.Valid(value) {
		return errors.New("H001").
			WithSubject(key).
			WithSuggestion("Quote strings as JSON, e.g. '\"dark\"'")
	}
	rec := persist.Record{
		Value:        value,
		Version:      version,
		LastModified: time.Now().UnixMilli(),
	}
	if err := store.Set(ctx, key, rec); err != nil {
		return errors.New("P002").WithSubject(key).Wrap(err)
	}
	return nil
}

func deleteCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete KEY",
		Short: "Delete a stored cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cmd, flags, func(ctx context.Context, cfg *config.Config, store persist.Storage) error {
				key := cfg.Persist.KeyPrefix + args[0]
				if err := store.Delete(ctx, key); err != nil {
					return errors.New("P002").WithSubject(key).Wrap(err)
				}
				success("Deleted %s", args[0])
				return nil
			})
		},
	}

	return cmd
}
