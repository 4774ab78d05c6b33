package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// NewModelCmd creates the model command group.  Stored models outlive the
// process only with the redis store or against a server.
func NewModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Build, run and delete stored models",
	}
	cmd.AddCommand(newModelBuildCmd(), newModelRunCmd(), newModelDeleteCmd())
	return cmd
}

func newModelBuildCmd() *cobra.Command {
	var file, problemType string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile a request document and store the model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			doc, err := readDocument(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if doc, err = withType(doc, problemType); err != nil {
				return err
			}
			backend, err := cliCtx.Backend()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()
			resp, err := backend.Build(ctx, doc)
			if err != nil {
				return err
			}
			return PrintResult(cmd, resp)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "request document, - for stdin (required)")
	cmd.Flags().StringVarP(&problemType, "type", "t", "", "problem type, overriding the document's")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newModelRunCmd() *cobra.Command {
	var params, solverCfg []string
	cmd := &cobra.Command{
		Use:   "run <model-id>",
		Short: "Solve a stored model, optionally overriding parameters",
		Example: `  optiflow model run 6f1c... --param time_limit=10
  optiflow model run 6f1c... --solver-config max_nodes=5000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			var run common.RunRequest
			if run.Parameters, err = parseAssignments("param", params); err != nil {
				return err
			}
			if run.SolverConfig, err = parseAssignments("solver-config", solverCfg); err != nil {
				return err
			}
			backend, err := cliCtx.Backend()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd, cliCtx)
			defer cancel()
			res, err := backend.Run(ctx, args[0], run)
			if err != nil {
				return err
			}
			return PrintResult(cmd, res)
		},
	}
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "parameter override key=value (repeatable)")
	cmd.Flags().StringArrayVar(&solverCfg, "solver-config", nil, "solver setting key=value (repeatable)")
	return cmd
}

func newModelDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <model-id>",
		Short: "Delete a stored model",
		Args:  cobra.ExactArgs(1),
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
			if err := backend.Delete(ctx, args[0]); err != nil {
				return err
			}
			PrintSuccess(cmd, fmt.Sprintf("model %s deleted", args[0]))
			return nil
		},
	}
}

//Personal.AI order the ending
