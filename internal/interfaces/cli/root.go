// Package cli implements the optiflow command tree.  Commands run against
// an in-process service assembled from the loaded configuration, or against
// a remote server when --server is set.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/turtacn/OptiFlow/internal/config"
	"github.com/turtacn/OptiFlow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/OptiFlow/pkg/errors"
	"github.com/turtacn/OptiFlow/pkg/types/common"
)

// Build-time variables injected via ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output formats.
const (
	OutputText  = "text"
	OutputJSON  = "json"
	OutputTable = "table"
)

type cliContextKey struct{}

// RootOptions holds global CLI flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	NoColor      bool
	Timeout      time.Duration
	ServerAddr   string
}

// CLIContext carries initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	ConfigPath   string
	Logger       logging.Logger
	OutputFormat string
	Timeout      time.Duration
	ServerAddr   string

	backend Backend
	factory func(*CLIContext) (Backend, error)
}

// Backend returns the backend for this invocation, creating it on first
// use.
func (c *CLIContext) Backend() (Backend, error) {
	if c.backend != nil {
		return c.backend, nil
	}
	b, err := c.factory(c)
	if err != nil {
		return nil, err
	}
	c.backend = b
	return b, nil
}

// NewRootCommand creates the root command with every subcommand attached.
func NewRootCommand() *cobra.Command {
	return newRootCommand(defaultBackend)
}

func newRootCommand(factory func(*CLIContext) (Backend, error)) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "optiflow",
		Short:   "OptiFlow CLI: build, solve and inspect optimization models",
		Long:    "OptiFlow turns business problems (vehicle assignment, routing, staffing,\nscheduling, risk simulation and more) into optimization models, solves\nthem, and reports the results in domain terms.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return persistentPreRun(cmd, opts, factory)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if cliCtx, err := GetCLIContext(cmd); err == nil && cliCtx.backend != nil {
				return cliCtx.backend.Close()
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file path (default: ./optiflow.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", OutputText, "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose output")
	pf.BoolVar(&opts.NoColor, "no-color", false, "disable colored output")
	pf.DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "global operation timeout")
	pf.StringVar(&opts.ServerAddr, "server", "", "API server address; empty solves in-process")

	cmd.AddCommand(
		NewServeCmd(),
		NewSolveCmd(),
		NewModelCmd(),
		NewFlowsCmd(),
		NewEventsCmd(),
		NewDBCmd(),
		NewVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions, factory func(*CLIContext) (Backend, error)) error {
	switch strings.ToLower(opts.OutputFormat) {
	case OutputText, OutputJSON, OutputTable:
	default:
		return errors.Validationf("unknown output format %q", opts.OutputFormat).WithDetail("field=output")
	}
	if opts.NoColor {
		color.NoColor = true
	}

	cfg, path, err := initConfig(opts)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}
	logger, err := initLogger(opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		ConfigPath:   path,
		Logger:       logger,
		OutputFormat: strings.ToLower(opts.OutputFormat),
		Timeout:      opts.Timeout,
		ServerAddr:   opts.ServerAddr,
		factory:      factory,
	}
	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cliCtx))
	return nil
}

// initConfig loads the configuration with priority flag > search path >
// environment and defaults.  It returns the file actually read, if any.
func initConfig(opts *RootOptions) (*config.Config, string, error) {
	if opts.ConfigPath != "" {
		cfg, err := config.Load(opts.ConfigPath)
		return cfg, opts.ConfigPath, err
	}
	searchPaths := []string{"./optiflow.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".optiflow", "config.yaml"))
	}
	searchPaths = append(searchPaths, "/etc/optiflow/config.yaml")
	for _, p := range searchPaths {
		if _, statErr := os.Stat(p); statErr == nil {
			cfg, err := config.Load(p)
			return cfg, p, err
		}
	}
	cfg, err := config.LoadFromEnv()
	return cfg, "", err
}

// initLogger creates a console logger on stderr so that stdout carries only
// command output.
func initLogger(opts *RootOptions) (logging.Logger, error) {
	level := opts.LogLevel
	if opts.Verbose {
		level = logging.LevelDebug
	}
	return logging.NewLogger(logging.LogConfig{
		Level:            level,
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	})
}

// GetCLIContext extracts CLIContext from a cobra command's context.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.Validation("command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.Validation("CLIContext not found in command context")
	}
	return cliCtx, nil
}

// commandContext bounds a command by --timeout.
func commandContext(cmd *cobra.Command, cliCtx *CLIContext) (context.Context, context.CancelFunc) {
	if cliCtx.Timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), cliCtx.Timeout)
}

// Execute is the main entry point for the CLI application.
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		PrintError(rootCmd, err)
		return err
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Output
// ─────────────────────────────────────────────────────────────────────────────

// PrintResult outputs data in the format specified by CLIContext.
func PrintResult(cmd *cobra.Command, data interface{}) error {
	format := OutputJSON
	if cliCtx, err := GetCLIContext(cmd); err == nil {
		format = cliCtx.OutputFormat
	}
	out := cmd.OutOrStdout()
	switch format {
	case OutputJSON:
		return printJSON(out, data)
	case OutputTable:
		return printTable(out, data)
	default:
		return printText(out, data)
	}
}

func printJSON(w io.Writer, data interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func printText(w io.Writer, data interface{}) error {
	switch v := data.(type) {
	case *common.Result:
		return printResultText(w, v)
	case []common.FlowInfo:
		for _, f := range v {
			fmt.Fprintf(w, "%-32s %s\n", color.CyanString(f.ID), f.Endpoint)
		}
		return nil
	case *common.BuildResponse:
		fmt.Fprintf(w, "%s %s\n", statusColor(v.Status), v.ModelID)
		return nil
	case string:
		fmt.Fprintln(w, v)
		return nil
	case fmt.Stringer:
		fmt.Fprintln(w, v.String())
		return nil
	default:
		return printJSON(w, v)
	}
}

func printResultText(w io.Writer, r *common.Result) error {
	fmt.Fprintf(w, "status:     %s\n", statusColor(r.Status))
	if r.Type != "" {
		fmt.Fprintf(w, "type:       %s\n", r.Type)
	}
	if r.ModelID != "" {
		fmt.Fprintf(w, "model:      %s\n", r.ModelID)
	}
	if r.ObjectiveValue != nil {
		fmt.Fprintf(w, "objective:  %s\n", formatNumber(*r.ObjectiveValue))
	}
	fmt.Fprintf(w, "solve time: %.3fs\n", r.SolveTime)
	if len(r.Solution) > 0 {
		fmt.Fprintln(w, "solution:")
		var pretty interface{}
		if err := json.Unmarshal(r.Solution, &pretty); err != nil {
			return err
		}
		data, err := json.MarshalIndent(pretty, "  ", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  %s\n", data)
	}
	return nil
}

// printTable renders the known result shapes with tablewriter, falling
// back to text.
func printTable(w io.Writer, data interface{}) error {
	switch v := data.(type) {
	case []common.FlowInfo:
		rows := make([][]string, 0, len(v))
		for _, f := range v {
			rows = append(rows, []string{f.ID, f.Family, f.Endpoint, f.Description})
		}
		renderTable(w, []string{"ID", "Family", "Endpoint", "Description"}, rows)
		return nil
	case *common.Result:
		obj := "-"
		if v.ObjectiveValue != nil {
			obj = formatNumber(*v.ObjectiveValue)
		}
		renderTable(w, []string{"Status", "Type", "Objective", "Solve Time", "Model"},
			[][]string{{v.Status, v.Type, obj, fmt.Sprintf("%.3fs", v.SolveTime), v.ModelID}})
		if values, ok := flatValues(v.Solution); ok {
			fmt.Fprintln(w)
			renderTable(w, []string{"Variable", "Value"}, values)
			return nil
		}
		if len(v.Solution) > 0 {
			fmt.Fprintln(w)
			var pretty interface{}
			_ = json.Unmarshal(v.Solution, &pretty)
			return printJSON(w, pretty)
		}
		return nil
	case *common.BuildResponse:
		renderTable(w, []string{"Model", "Status"}, [][]string{{v.ModelID, v.Status}})
		return nil
	default:
		return printText(w, v)
	}
}

func renderTable(w io.Writer, headers []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}

// flatValues turns a generic variable map into sorted rows.
func flatValues(raw json.RawMessage) ([][]string, bool) {
	var values map[string]float64
	if len(raw) == 0 || json.Unmarshal(raw, &values) != nil || len(values) == 0 {
		return nil, false
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, formatNumber(values[name])})
	}
	return rows, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', 10, 64)
}

func statusColor(status string) string {
	switch status {
	case "OPTIMAL", "FEASIBLE", "built":
		return color.GreenString(status)
	case "INFEASIBLE", "UNBOUNDED":
		return color.YellowString(status)
	case "ERROR", "FAILED":
		return color.RedString(status)
	default:
		return status
	}
}

// PrintError writes a formatted error message to stderr.
func PrintError(cmd *cobra.Command, err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", color.RedString("Error:"), err.Error())
}

// PrintSuccess writes a formatted success message to stdout.
func PrintSuccess(cmd *cobra.Command, msg string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.GreenString("OK:"), msg)
}

//Personal.AI order the ending
