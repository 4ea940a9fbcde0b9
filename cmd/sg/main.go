package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stagegate/internal/config"
	"stagegate/internal/db"
	stagegatesdk "stagegate/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "sg",
	Short: "stagegate CLI",
	Long: `stagegate routes triggers to the right entity and walks requests through a staged approval pipeline.
Core concepts:
- Entities: the actors (executors, coordinators, observers, trigger sources, partners) that own stages.
- Routing: ordered rules with metric conditions; when none match, ordered heuristics pick a fallback target.
- Pipeline: intake review, feasibility evaluation, execution planning, then an executive gate that approves or rejects.
- Documents: generated documents are signed or rejected; the generating actor then sends a follow-up.
- Event log: every change is recorded; view it with 'sg log tail'.
Local commands (route, entities, config, auth, db) read stagegate.yml from the workspace.
Pipeline, documents and log commands talk to a running 'sg serve'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STAGEGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (defaults to <workspace>/stagegate.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "stagegate API address")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the API")
	rootCmd.PersistentFlags().String("actor-id", "", "legacy X-Actor-Id when no token is set")
	rootCmd.PersistentFlags().String("jwt-secret", "", "HS256 secret for bearer tokens (serve, auth token)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("jwt-secret", rootCmd.PersistentFlags().Lookup("jwt-secret"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(entitiesCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(documentsCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(dbCmd())
}

// --- helpers ---

// loadConfig reads --config when set, otherwise the workspace file, falling
// back to the built-in defaults.
func loadConfig() (*config.Config, error) {
	workspace := viper.GetString("workspace")
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Workspace == "" || cfg.Storage.Workspace == "." {
		cfg.Storage.Workspace = workspace
	}
	return cfg, nil
}

func withClient(ctx context.Context, fn func(context.Context, *stagegatesdk.Client) error) error {
	c := stagegatesdk.New(viper.GetString("server"), viper.GetString("token"))
	c.ActorID = viper.GetString("actor-id")
	return fn(ctx, c)
}

// withDB opens the workspace database for maintenance commands.
func withDB(ctx context.Context, fn func(context.Context, string, *sql.DB) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: cfg.Storage.Workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, cfg.Storage.Workspace, conn)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
