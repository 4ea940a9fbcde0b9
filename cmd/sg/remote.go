package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	stagegatesdk "stagegate/sdk/go"
)

func pipelineCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "pipeline",
		Short: "Submit and decide requests",
		Long:  "Requests move through intake review, evaluation and planning automatically, then wait at the executive gate for 'sg pipeline approve'.",
	}
	p.AddCommand(pipelineSubmitCmd())
	p.AddCommand(pipelineApproveCmd())
	p.AddCommand(pipelineListCmd())
	p.AddCommand(pipelinePendingCmd())
	p.AddCommand(pipelineShowCmd())
	return p
}

func pipelineSubmitCmd() *cobra.Command {
	var req stagegatesdk.Request
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				wf, err := c.Submit(ctx, req)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(wf)
				}
				fmt.Printf("submitted %s (%s)\n", wf.ID, wf.Request.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.ID, "id", "", "request id (generated when empty)")
	cmd.Flags().StringVar(&req.Title, "title", "", "title")
	cmd.Flags().StringVar(&req.Description, "description", "", "description")
	cmd.Flags().StringVar(&req.RequestedBy, "requested-by", "", "requester (defaults to the caller)")
	cmd.Flags().StringVar(&req.Priority, "priority", "medium", "low, medium, high or critical")
	cmd.Flags().Float64Var(&req.EstimatedCost, "cost", 0, "estimated cost")
	cmd.Flags().StringVar(&req.Justification, "justification", "", "business justification")
	cmd.Flags().StringArrayVar(&req.Requirements, "requirement", nil, "requirement (repeatable)")
	cmd.Flags().StringArrayVar(&req.Risks, "risk", nil, "known risk (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func pipelineApproveCmd() *cobra.Command {
	var reject bool
	var notes string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve (or --reject) a request waiting at the gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				wf, err := c.Approve(ctx, args[0], !reject, notes)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(wf)
				}
				fmt.Printf("%s %s\n", wf.ID, wf.Request.Status)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&reject, "reject", false, "reject instead of approve")
	cmd.Flags().StringVar(&notes, "notes", "", "decision notes")
	return cmd
}

func pipelineListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				items, err := c.Workflows(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Cost", "Status", "Stage"})
				for _, wf := range items {
					tw.AppendRow(table.Row{wf.ID, wf.Request.Title, wf.Request.Priority, wf.Request.EstimatedCost, wf.Request.Status, wf.CurrentStageIndex})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "request status filter")
	return cmd
}

func pipelinePendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "Requests awaiting the executive gate",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				items, err := c.PendingApprovals(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Requested By", "Priority", "Cost", "Submitted"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Title, r.RequestedBy, r.Priority, r.EstimatedCost, r.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func pipelineShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a workflow and its stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				wf, err := c.Workflow(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(wf)
				}
				fmt.Printf("%s  %s  [%s]\n", wf.ID, wf.Request.Title, wf.Request.Status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Role", "Status", "Recommendation", "Score", "Summary"})
				for i, s := range wf.Stages {
					var rec, summary string
					var score float64
					if s.Result != nil {
						rec, summary, score = s.Result.Recommendation, s.Result.Summary, s.Result.Score
					}
					tw.AppendRow(table.Row{i, s.Role, s.Status, rec, score, summary})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func documentsCmd() *cobra.Command {
	d := &cobra.Command{
		Use:   "documents",
		Short: "Track document sign-off",
		Long:  "Documents start pending. The first signed or rejected decision triggers the generating actor's follow-up; a deferred acknowledgment then moves it to acknowledged or agent_notified.",
	}
	d.AddCommand(documentsRegisterCmd())
	d.AddCommand(documentsStatusCmd())
	d.AddCommand(documentsAckCmd())
	d.AddCommand(documentsListCmd())
	return d
}

func documentsRegisterCmd() *cobra.Command {
	var docType, project, actor, department string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a generated document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				doc, err := c.RegisterDocument(ctx, docType, project, actor, department)
				if err != nil {
					return err
				}
				return printDocument(doc)
			})
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "document type")
	cmd.Flags().StringVar(&project, "project", "", "project")
	cmd.Flags().StringVar(&actor, "actor", "", "generating actor")
	cmd.Flags().StringVar(&department, "department", "", "department")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func documentsStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <status>",
		Short: "Set a document's status (signed, rejected, ...)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				doc, err := c.SetDocumentStatus(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return printDocument(doc)
			})
		},
	}
}

func documentsAckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ack <id>",
		Short: "Record the generating actor's acknowledgment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				doc, err := c.AcknowledgeDocument(ctx, args[0])
				if err != nil {
					return err
				}
				return printDocument(doc)
			})
		},
	}
}

func documentsListCmd() *cobra.Command {
	var status, department string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the document queue, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				docs, err := c.Documents(ctx, status, department)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(docs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Project", "Actor", "Department", "Status", "Acked", "Next Action"})
				for _, d := range docs {
					next := ""
					if d.FollowUp != nil {
						next = d.FollowUp.NextAction
					}
					tw.AppendRow(table.Row{d.ID, d.DocumentType, d.Project, d.GeneratingActor, d.Department, d.Status, d.ActorAcknowledged, next})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&department, "department", "", "department filter (case-insensitive)")
	return cmd
}

func printDocument(doc stagegatesdk.Document) error {
	if viper.GetBool("json") {
		return printJSON(doc)
	}
	fmt.Printf("%s %s (%s)\n", doc.ID, doc.Status, doc.DocumentType)
	if doc.FollowUp != nil {
		fmt.Printf("  follow-up from %s: %s\n  next action: %s\n", doc.GeneratingActor, doc.FollowUp.Message, doc.FollowUp.NextAction)
	}
	return nil
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The audit trail: workflow stage changes, gate decisions, document decisions and follow-ups, entity changes.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var q stagegatesdk.EventQuery
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), func(ctx context.Context, c *stagegatesdk.Client) error {
				page, err := c.EventsPage(ctx, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Kind", "Entity", "Actor"})
				for _, e := range page.Items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind, e.EntityID, e.ActorID})
				}
				tw.Render()
				if page.NextCursor != "" {
					fmt.Printf("more: --cursor %s\n", page.NextCursor)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&q.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&q.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&q.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&q.EntityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&q.Cursor, "cursor", "", "page cursor from a previous tail")
	return cmd
}
