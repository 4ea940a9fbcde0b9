package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"stagegate/internal/config"
	"stagegate/internal/db"
	"stagegate/internal/migrate"
	"stagegate/internal/server"
)

func authCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "auth",
		Short: "Issue API credentials",
		Long:  "Bearer tokens are HS256 JWTs signed with STAGEGATE_JWT_SECRET. Roles map to permissions through rbac.roles; explicit permissions are carried in the token.",
	}
	a.AddCommand(authTokenCmd())
	return a
}

func authTokenCmd() *cobra.Command {
	var subject string
	var roles, perms []string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return errors.New("STAGEGATE_JWT_SECRET (or --jwt-secret) is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			for _, r := range roles {
				if _, ok := cfg.RBAC.Roles[r]; !ok {
					return fmt.Errorf("unknown role %q", r)
				}
			}
			tok, err := server.SignToken(secret, subject, roles, perms, ttl)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"token":       tok,
					"subject":     subject,
					"roles":       roles,
					"permissions": cfg.Permissions(roles),
					"expires_at":  time.Now().Add(ttl).UTC().Format(time.RFC3339),
				})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "actor id")
	cmd.Flags().StringArrayVar(&roles, "role", nil, "role (repeatable)")
	cmd.Flags().StringArrayVar(&perms, "permission", nil, "explicit permission (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect stagegate.yml",
		Long:  "Config holds the entity registry, routing rules and heuristics, pipeline and document settings, RBAC roles and webhooks. Missing keys fall back to the built-in defaults.",
	}
	c.AddCommand(configShowCmd())
	c.AddCommand(configValidateCmd())
	c.AddCommand(configInitCmd())
	return c
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default stagegate.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.DefaultYAML), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func dbCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "db",
		Short: "Inspect the sqlite store",
	}
	d.AddCommand(dbStatusCmd())
	d.AddCommand(dbMigrateCmd())
	return d
}

func dbStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, workspace string, conn *sql.DB) error {
				applied, pending, err := migrate.Status(ctx, conn)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"path": db.Path(workspace), "applied": applied, "pending": pending})
				}
				fmt.Println("database:", db.Path(workspace))
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "Name", "Applied At"})
				for _, a := range applied {
					tw.AppendRow(table.Row{a.Version, a.Name, a.AppliedAt})
				}
				for _, p := range pending {
					tw.AppendRow(table.Row{"-", p, "pending"})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func dbMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), func(ctx context.Context, workspace string, conn *sql.DB) error {
				if err := migrate.MigrateContext(ctx, conn); err != nil {
					return err
				}
				fmt.Println("migrations applied:", db.Path(workspace))
				return nil
			})
		},
	}
}
