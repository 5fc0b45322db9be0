package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/konard/MILANA808-Milana-backend/internal/auth"
	"github.com/konard/MILANA808-Milana-backend/internal/service/eventlog"
	"github.com/konard/MILANA808-Milana-backend/internal/service/proof"
	"github.com/konard/MILANA808-Milana-backend/internal/storage"
)

func genkeyCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Write an Ed25519 key pair for JWT signing",
		Long: `Writes jwt_private.pem and jwt_public.pem (mode 0600) into --dir.
Point AKSI_JWT_PRIVATE_KEY and AKSI_JWT_PUBLIC_KEY at them so issued tokens
survive restarts. Existing files are never overwritten.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
			privPath := filepath.Join(dir, "jwt_private.pem")
			pubPath := filepath.Join(dir, "jwt_public.pem")
			if err := auth.WriteKeyPair(privPath, pubPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nwrote %s\n", privPath, pubPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "data", "output directory")
	return cmd
}

func proofCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proof", Short: "Inspect stable proofs"}
	cmd.AddCommand(proofVerifyCmd())
	return cmd
}

func proofVerifyCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Re-hash every stored proof and check the chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = os.Getenv("DATABASE_URL")
			}
			if dsn == "" {
				return fmt.Errorf("--database-url or DATABASE_URL required")
			}
			ctx := cmd.Context()
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			store, err := storage.Open(ctx, dsn, logger)
			if err != nil {
				return err
			}
			defer store.Close(ctx)

			res, err := proof.New(store, "", eventlog.Nop{}).Verify(ctx)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendRows([]table.Row{
					{"checked", res.Checked},
					{"valid", res.Valid},
					{"root", res.RootHash},
					{"stored root", res.StoredRoot},
					{"bad hashes", len(res.BadHashes)},
					{"broken links", len(res.BrokenLinks)},
				})
				tw.Render()
			}
			if !res.Valid {
				return fmt.Errorf("proof chain is not valid")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "database-url", "", "store DSN (defaults to DATABASE_URL)")
	return cmd
}
