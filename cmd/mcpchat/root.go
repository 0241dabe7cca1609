package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/m4xw311/mcpchat/agent"
	"github.com/m4xw311/mcpchat/agent/acp"
	"github.com/m4xw311/mcpchat/agent/terminal"
	"github.com/m4xw311/mcpchat/config"
	"github.com/m4xw311/mcpchat/errors"
	"github.com/m4xw311/mcpchat/llm"
	"github.com/m4xw311/mcpchat/logger"
	"github.com/m4xw311/mcpchat/tools"
	"github.com/m4xw311/mcpchat/tools/mcp"
	"github.com/m4xw311/mcpchat/usage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type options struct {
	configFile    string
	toolset       string
	mcpConfig     string
	acp           bool
	maxTokens     int64
	multiline     bool
	keepHistory   bool
	logLevel      string
	logFile       string
	mode          string
	toolVerbosity string
}

// NewRootCmd creates the mcpchat command.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "mcpchat [prompt...]",
		Short: "Chat with a language model that can call MCP tools",
		Long: "mcpchat couples a language model with the tools of one or more MCP servers " +
			"and runs a bounded model/tool loop for every query.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	f := root.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "config file to use instead of the .mcpchat/config.yaml layers")
	f.StringVarP(&opts.toolset, "toolset", "t", "", "toolset to activate (defaults to 'default')")
	f.StringVar(&opts.mcpConfig, "mcp-config", "", "path to the MCP server list (mcp.json)")
	f.BoolVar(&opts.acp, "acp", false, "serve the Agent Client Protocol over stdio")
	f.Int64Var(&opts.maxTokens, "max-tokens", 0, "completion token limit")
	f.BoolVar(&opts.multiline, "multiline", false, "start in multi-line input mode")
	f.BoolVar(&opts.keepHistory, "keep-history", false, "carry the conversation across queries")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	f.StringVar(&opts.logFile, "log-file", "", "write logs to this file instead of stderr")
	f.StringVarP(&opts.mode, "mode", "m", "auto", "execution mode: 'auto' or 'prompt'")
	f.StringVar(&opts.toolVerbosity, "tool-verbosity", "none", "tool verbosity level: 'none', 'info', or 'all'")

	return root
}

// loadConfig reads the config file layers and applies flags the user set.
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configFile != "" {
		if _, statErr := os.Stat(opts.configFile); statErr != nil {
			return nil, errors.Coded(statErr, errors.CodeConfigLoad, "config file '%s'", opts.configFile)
		}
		cfg, err = config.LoadFiles(opts.configFile)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("max-tokens") {
		cfg.MaxTokens = opts.maxTokens
	}
	if flags.Changed("multiline") {
		cfg.Multiline = opts.multiline
	}
	if flags.Changed("keep-history") {
		cfg.KeepHistory = opts.keepHistory
	}
	if flags.Changed("mcp-config") {
		cfg.MCPConfig = opts.mcpConfig
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if flags.Changed("log-file") {
		cfg.Log.File = opts.logFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}

	mode, err := agent.ParseMode(opts.mode)
	if err != nil {
		return err
	}
	verbosity, err := agent.ParseToolVerbosity(opts.toolVerbosity)
	if err != nil {
		return err
	}

	lg, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Pretty: cfg.Log.Pretty,
		Out:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	client, err := llm.New(ctx, cfg.LLMClient, cfg.Model)
	if err != nil {
		return err
	}

	router, err := buildRouter(ctx, cfg, opts.toolset, cmd.ErrOrStderr(), log)
	if err != nil {
		return err
	}
	defer router.Close()

	a, err := agent.New(cfg, client, usage.NewAccounting(), log)
	if err != nil {
		return err
	}
	a.Mode = mode
	a.Verbosity = verbosity

	if opts.acp {
		// stdout carries only JSON-RPC frames in this mode
		return acp.Run(ctx, a, router, cmd.InOrStdin(), cmd.OutOrStdout(), log)
	}

	out := cmd.OutOrStdout()
	descs, err := router.Discover(ctx)
	if err != nil {
		return err
	}
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	fmt.Fprintf(out, "Connected with tools: [%s]\n", strings.Join(names, ", "))

	term := terminal.New(a, router, terminal.Options{
		In:          cmd.InOrStdin(),
		Out:         out,
		Multiline:   cfg.Multiline,
		KeepHistory: cfg.KeepHistory,
		Pricing:     cfg.Pricing,
	})
	if err := term.Run(ctx, strings.Join(args, " ")); err != nil && ctx.Err() == nil {
		return errors.Wrapf(err, "chat stopped")
	}
	return nil
}

// buildRouter registers the builtin tools and every reachable MCP server. A
// server that fails to start is reported and skipped.
func buildRouter(ctx context.Context, cfg *config.Config, toolsetName string, errOut io.Writer, log zerolog.Logger) (*tools.Router, error) {
	toolset, err := cfg.GetToolset(toolsetName)
	if err != nil {
		return nil, err
	}
	servers, err := cfg.MCPServers()
	if err != nil {
		return nil, err
	}

	router := tools.NewRouter(toolset, log)
	router.Add(tools.BuiltinSource, tools.NewRegistry(cfg, log))

	for _, srv := range servers {
		if srv.Name == tools.BuiltinSource {
			log.Warn().Str("mcp_server", srv.Name).Msg("Skipping MCP server with reserved name")
			continue
		}
		c, err := mcp.Connect(ctx, srv, log)
		if err != nil {
			log.Error().Err(err).Str("mcp_server", srv.Name).Msg("MCP server unavailable")
			fmt.Fprintf(errOut, "Failed to connect to MCP server '%s': %v\n", srv.Name, err)
			continue
		}
		router.Add(srv.Name, c)
	}
	return router, nil
}
