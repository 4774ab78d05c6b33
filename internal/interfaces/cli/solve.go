package cli

import (
	"github.com/spf13/cobra"
)

// NewSolveCmd creates the solve command.
func NewSolveCmd() *cobra.Command {
	var (
		file        string
		problemType string
		path        string
	)
	cmd := &cobra.Command{
		Use:   "solve",
		Short: "Solve a problem described in a JSON or YAML file",
		Long: `Solve a request document in one shot.

The document's "type" selects the problem type; --type overrides it.  A
document without a type is a generic model definition.  --path posts the
document to a domain endpoint instead, e.g. --path vehicle-assignment.`,
		Example: `  optiflow solve -f product-mix.yaml
  optiflow solve -f fleet.json --type vap -o table
  optiflow solve -f routes.json --path vehicle-routing --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			doc, err := readDocument(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			backend, err := cliCtx.Backend()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()

			if path != "" {
				res, err := backend.SolveDomain(ctx, path, doc)
				if err != nil {
					return err
				}
				return PrintResult(cmd, res)
			}
			if doc, err = withType(doc, problemType); err != nil {
				return err
			}
			res, err := backend.Solve(ctx, doc)
			if err != nil {
				return err
			}
			return PrintResult(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "request document, - for stdin (required)")
	cmd.Flags().StringVarP(&problemType, "type", "t", "", "problem type, overriding the document's")
	cmd.Flags().StringVar(&path, "path", "", "domain endpoint slug, e.g. vehicle-routing")
	cmd.MarkFlagsMutuallyExclusive("type", "path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// NewFlowsCmd creates the flows command.
func NewFlowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flows",
		Short: "List the registered problem types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			backend, err := cliCtx.Backend()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()
			flows, err := backend.Flows(ctx)
			if err != nil {
				return err
			}
			return PrintResult(cmd, flows)
		},
	}
}

//Personal.AI order the ending
