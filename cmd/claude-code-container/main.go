package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DefikitTeam/claude-code-container/acp"
	"github.com/DefikitTeam/claude-code-container/agent"
	"github.com/DefikitTeam/claude-code-container/config"
	"github.com/DefikitTeam/claude-code-container/engine"
	"github.com/DefikitTeam/claude-code-container/session"
)

func main() {
	engineFlag := flag.String("e", "", "Execution engine: 'anthropic', 'openai', 'gemini', 'bedrock', or 'mock'")
	modelFlag := flag.String("m", "", "Model name passed to the engine")
	traceFlag := flag.String("trace", "", "Write a debug trace log to the given file")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}
	if *engineFlag != "" {
		cfg.Engine = *engineFlag
	}
	if *modelFlag != "" {
		cfg.Model = *modelFlag
	}

	logger, err := buildLogger(*traceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %+v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	gateway, err := buildGateway(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing engine '%s': %+v\n", cfg.Engine, err)
		os.Exit(1)
	}

	store, err := session.NewStore(cfg.SessionDirectory())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening session store: %+v\n", err)
		os.Exit(1)
	}

	rt := agent.NewRuntime(cfg, store, gateway, logger)

	in := bufio.NewReader(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	if err := acp.Run(ctx, rt, in, out, logger); err != nil {
		fmt.Fprintf(os.Stderr, "ACP server failed: %+v\n", err)
		os.Exit(1)
	}
}

// buildLogger keeps stdout clean for JSON-RPC: logs go to stderr, or to the
// trace file (at debug level) when -trace is given.
func buildLogger(tracePath string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.OutputPaths = []string{"stderr"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	if tracePath != "" {
		zapCfg.OutputPaths = []string{tracePath}
		zapCfg.ErrorOutputPaths = []string{tracePath}
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zapCfg.Build()
}

func buildGateway(ctx context.Context, cfg *config.Config) (engine.Gateway, error) {
	switch cfg.Engine {
	case "anthropic":
		return engine.NewAnthropicGateway(ctx, cfg.Model)
	case "openai":
		return engine.NewOpenAIGateway(ctx, cfg.Model)
	case "gemini":
		return engine.NewGeminiGateway(ctx, cfg.Model)
	case "bedrock":
		return engine.NewBedrockGateway(ctx, cfg.Model)
	default:
		return &engine.MockGateway{}, nil
	}
}
