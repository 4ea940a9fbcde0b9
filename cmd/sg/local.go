package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"stagegate/internal/domain"
	"stagegate/internal/observability"
	"stagegate/internal/registry"
	"stagegate/internal/routing"
)

func routeCmd() *cobra.Command {
	var actor, event, ruleID string
	var metrics []string
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Simulate routing a trigger through the configured rules",
		Long:  "Evaluates active rules in order; the first whose conditions all hold decides the target. Otherwise the heuristics pick a fallback. Metrics are key=value; numeric values are compared as numbers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			m, err := parseMetrics(metrics)
			if err != nil {
				return err
			}
			engine := routing.New(cfg, observability.NopLogger())
			res := engine.Route(cmd.Context(), cfg.Routing.Rules, actor, event, m, ruleID)
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Step", "Status", "Rule", "Agent", "Reasoning", "ms"})
			for _, s := range res.Steps {
				tw.AppendRow(table.Row{s.Type, s.Status, s.RuleID, s.Agent, s.Reasoning, s.DurationMS})
			}
			tw.AppendFooter(table.Row{"target", res.TargetAgent, res.MatchedRuleID, res.ActionType, fmt.Sprintf("fallback=%t", res.FallbackUsed), res.TotalDurationMS})
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "trigger actor")
	cmd.Flags().StringVar(&event, "event", "", "trigger event")
	cmd.Flags().StringVar(&ruleID, "rule-id", "", "evaluate only this rule")
	cmd.Flags().StringArrayVar(&metrics, "metric", nil, "metric as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

// parseMetrics turns key=value pairs into a metrics bag. Numbers and
// booleans are typed; anything else stays a string.
func parseMetrics(pairs []string) (routing.Metrics, error) {
	m := routing.Metrics{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid metric %q; want key=value", p)
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			m[k] = f
		} else if b, err := strconv.ParseBool(v); err == nil {
			m[k] = b
		} else {
			m[k] = v
		}
	}
	return m, nil
}

func entitiesCmd() *cobra.Command {
	ent := &cobra.Command{
		Use:   "entities",
		Short: "Inspect the entity registry",
		Long:  "Entities are classified by category; each stage kind only accepts certain categories (execution needs an executor, approval an executor or coordinator, and so on).",
	}
	ent.AddCommand(entitiesListCmd())
	ent.AddCommand(entitiesValidateCmd())
	ent.AddCommand(entitiesSuggestCmd())
	return ent
}

func entitiesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg.Entities)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Category", "Active", "Capabilities"})
			for _, e := range cfg.Entities {
				tw.AppendRow(table.Row{e.ID, e.DisplayName, e.Category, e.IsActive, strings.Join(e.Capabilities, ",")})
			}
			tw.Render()
			return nil
		},
	}
}

func entitiesValidateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a workflow's stage bindings",
		Long:  "Reads a YAML or JSON list of stages (id, name, kind, entity_id, required_capabilities) and reports every error and warning.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var stages []domain.StageBinding
			if err := yaml.Unmarshal(data, &stages); err != nil {
				return fmt.Errorf("parse stages: %w", err)
			}
			report := registry.ValidateWorkflow(stages, cfg.Entities)
			if viper.GetBool("json") {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				for _, e := range report.Errors {
					fmt.Println("error:  ", e)
				}
				for _, w := range report.Warnings {
					fmt.Println("warning:", w)
				}
				if report.IsValid {
					fmt.Println("workflow OK")
				}
			}
			if !report.IsValid {
				return fmt.Errorf("workflow invalid: %d error(s)", len(report.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "stages file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func entitiesSuggestCmd() *cobra.Command {
	var kind string
	var caps []string
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Rank entities for a stage kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			k, err := domain.ParseStageKind(kind)
			if err != nil {
				return err
			}
			ranked := registry.RankEntities(k, cfg.Entities, caps)
			if viper.GetBool("json") {
				return printJSON(ranked)
			}
			if len(ranked) == 0 {
				fmt.Printf("no active entity can own a %s stage\n", k)
				return nil
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"#", "ID", "Category", "Score"})
			for i, c := range ranked {
				tw.AppendRow(table.Row{i + 1, c.Entity.ID, c.Entity.Category, fmt.Sprintf("%.2f", c.MatchScore)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "stage kind (execution, observation, trigger, coordination, approval)")
	cmd.Flags().StringSliceVar(&caps, "capability", nil, "additional required capability (repeatable)")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}
