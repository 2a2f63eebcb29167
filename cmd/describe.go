package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"converge/internal/sample/webpage"
	"converge/pkg/logging"
)

func newDescribeCmd() *cobra.Command {
	var garbageCollected bool
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Show the dependent-resource workflow of the WebPage controller",
		Long: `Prints the nodes of the WebPage workflow in the order they are reconciled,
with their dependencies and whether cleanup deletes them explicitly or leaves
them to garbage collection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logging.InitForCLI(logging.LevelWarn, cmd.ErrOrStderr())
			return describeWorkflow(cmd.OutOrStdout(), garbageCollected)
		},
	}
	cmd.Flags().BoolVar(&garbageCollected, "garbage-collected", true,
		"Describe the workflow as run against Kubernetes, where owned resources are garbage collected")
	return cmd
}

func describeWorkflow(out io.Writer, garbageCollected bool) error {
	wf, err := webpage.NewWorkflow(webpage.Stores{}, webpage.WorkflowOptions{GarbageCollected: garbageCollected})
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("NODE"),
		text.FgHiCyan.Sprint("DEPENDS ON"),
		text.FgHiCyan.Sprint("CLEANUP"),
		text.FgHiCyan.Sprint("CONDITIONS"),
	})

	for _, n := range wf.Nodes() {
		dependsOn := "-"
		if len(n.DependsOn) > 0 {
			dependsOn = strings.Join(n.DependsOn, ", ")
		}
		cleanup := "none"
		switch {
		case n.GC:
			cleanup = "garbage collected"
		case n.Deletable:
			cleanup = "deleted"
		}
		t.AppendRow(table.Row{n.Name, dependsOn, cleanup, n.Conditions})
	}
	t.Render()

	finalizer := "not needed"
	if wf.HasCleaner() {
		finalizer = "required"
	}
	fmt.Fprintf(out, "\n%s %s\n", text.FgHiBlue.Sprint("Finalizer:"), finalizer)
	return nil
}
