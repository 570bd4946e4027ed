package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/qcache/pkg/models"
)

func newTemplatesCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List, test and save query templates",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List templates in match order",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "#\tSOURCE\tKIND\tSCOPE\tPATTERN")
			for i, t := range rt.openRegistry().Templates() {
				d := t.Descriptor()
				source := "custom"
				if t.Builtin() {
					source = "builtin"
				}
				scope := strings.Join(d.ApplicableScope, ",")
				if scope == "" {
					scope = "-"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, source, d.DatabaseKind, scope, d.Pattern)
			}
			return w.Flush()
		},
	}

	var tables []string
	matchCmd := &cobra.Command{
		Use:   "match <question>",
		Short: "Show which template answers a question and the query it generates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := load(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			schema := models.Schema{Tables: make(map[string]models.Table, len(tables))}
			for _, name := range tables {
				schema.Tables[name] = models.Table{}
			}

			tpl, params, ok := rt.openRegistry().FindMatching(args[0], schema)
			if !ok {
				fmt.Println("No template matches.")
				return nil
			}
			q, ok := tpl.Generate(params, schema)
			if !ok {
				fmt.Printf("Template %q matched but produced no query.\n", tpl.Pattern())
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Template:\t%s\n", tpl.Pattern())
			fmt.Fprintf(w, "Parameters:\t%s\n", strings.Join(params, ", "))
			fmt.Fprintf(w, "Kind:\t%s\n", q.Kind)
			if q.Statement != "" {
				fmt.Fprintf(w, "Query:\t%s\n", q.Statement)
			} else {
				fmt.Fprintf(w, "Collection:\t%s\n", q.Collection)
				fmt.Fprintf(w, "Operation:\t%s\n", q.Operation)
				fmt.Fprintf(w, "Limit:\t%d\n", q.Limit)
			}
			return w.Flush()
		},
	}
	matchCmd.Flags().StringSliceVarP(&tables, "table", "t", nil, "table available in the target schema (repeatable)")

	var (
		pattern     string
		query       string
		generator   string
		kind        string
		description string
		scope       []string
	)
	saveCmd := &cobra.Command{
		Use:   "save",
		Short: "Add or replace a custom template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pattern == "" {
				return errors.New("--pattern is required")
			}
			if (query == "") == (generator == "") {
				return errors.New("exactly one of --query and --generator is required")
			}

			rt, err := load(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			desc := models.TemplateDescriptor{
				Pattern:         pattern,
				Description:     description,
				Generator:       generator,
				DatabaseKind:    models.DatabaseKind(kind),
				ApplicableScope: scope,
			}
			if query != "" {
				desc.QueryShapeTemplate = &query
			}

			reg := rt.openRegistry()
			if err := reg.SaveCustom(desc); err != nil {
				return fmt.Errorf("save template: %w", err)
			}
			fmt.Printf("Saved template %q to %s\n", pattern, reg.Path())
			return nil
		},
	}
	saveCmd.Flags().StringVar(&pattern, "pattern", "", "question pattern with {table}, {field}, {value} or {number} placeholders")
	saveCmd.Flags().StringVar(&query, "query", "", "query shape with $1, $2... markers")
	saveCmd.Flags().StringVar(&generator, "generator", "", "named generator instead of a query shape")
	saveCmd.Flags().StringVar(&kind, "kind", string(models.DatabaseSQL), "database kind (sql or mongodb)")
	saveCmd.Flags().StringVar(&description, "description", "", "human-readable description")
	saveCmd.Flags().StringSliceVar(&scope, "scope", nil, "tables the template applies to (repeatable)")

	cmd.AddCommand(listCmd, matchCmd, saveCmd)
	return cmd
}
