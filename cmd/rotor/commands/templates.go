package commands

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/rotor/internal/template"
)

func NewTemplatesCommand(opts *Options) *cobra.Command {
	var showInputs bool

	cmd := &cobra.Command{
		Use:   "templates [name]",
		Short: "List provider templates",
		Long: `List the provider templates rotor knows how to rotate, or show the
declared inputs and operations of a single template.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := template.LoadCatalog()
			if err != nil {
				return fmt.Errorf("failed to load template catalog: %w", err)
			}
			if len(args) == 1 {
				return printTemplate(catalog, args[0])
			}
			return printTemplateList(catalog, showInputs)
		},
	}

	cmd.Flags().BoolVar(&showInputs, "inputs", false, "Include each template's required inputs")

	return cmd
}

func printTemplateList(catalog *template.Catalog, showInputs bool) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTITLE\tOPERATIONS\tDUAL")
	for _, name := range catalog.Names() {
		t, err := catalog.Get(name)
		if err != nil {
			continue
		}
		dual := ""
		if t.Dual != nil {
			dual = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.Title, strings.Join(operationNames(t), ","), dual)
		if showInputs {
			for _, f := range t.Inputs {
				fmt.Fprintf(w, "  %s\t%s\t%s\t\n", f.Name, fieldKind(f), f.Description)
			}
		}
	}
	return w.Flush()
}

func printTemplate(catalog *template.Catalog, name string) error {
	t, err := catalog.Get(name)
	if err != nil {
		return err
	}

	fmt.Printf("%s", t.Name)
	if t.Title != "" {
		fmt.Printf(" - %s", t.Title)
	}
	fmt.Println()
	fmt.Printf("Operations: %s\n", strings.Join(operationNames(t), ", "))
	if t.Dual != nil {
		fmt.Printf("Dual credential: alternates %s between %s\n",
			t.Dual.InternalField, strings.Join(t.Dual.Inputs, " and "))
	}

	fmt.Println("\nInputs:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, f := range t.Inputs {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", f.Name, fieldKind(f), f.Description)
	}
	w.Flush()

	fmt.Println("\nOutputs:")
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, f := range t.Outputs {
		fmt.Fprintf(w, "  %s\t%s\n", f.Name, f.Description)
	}
	return w.Flush()
}

func operationNames(t *template.Template) []string {
	names := []string{template.OpNameSet}
	if t.HasOperation(template.OpNameRemove) {
		names = append(names, template.OpNameRemove)
	}
	if t.HasOperation(template.OpNameTest) {
		names = append(names, template.OpNameTest)
	}
	return names
}

func fieldKind(f template.Field) string {
	kind := string(f.Type)
	if kind == "" {
		kind = "string"
	}
	var marks []string
	if f.Required {
		marks = append(marks, "required")
	}
	if f.Sensitive {
		marks = append(marks, "sensitive")
	}
	if f.Default != nil {
		marks = append(marks, fmt.Sprintf("default: %v", f.Default))
	}
	if len(marks) > 0 {
		kind += " (" + strings.Join(marks, ", ") + ")"
	}
	return kind
}
