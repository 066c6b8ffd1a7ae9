package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mykhaliev/agent-eval/engine"
	"github.com/mykhaliev/agent-eval/generator"
	"github.com/mykhaliev/agent-eval/logger"
	"github.com/mykhaliev/agent-eval/templates"
	"github.com/mykhaliev/agent-eval/version"
)

const (
	AppName = "agent-eval"
)

func main() {
	evalPath := flag.String("f", "", "Path to the eval configuration file (YAML)")
	genPath := flag.String("g", "", "Path to a generator configuration file (generates an eval file instead of running)")
	outputDir := flag.String("o", "generated", "Output directory for generated eval files")
	reportName := flag.String("r", "", "Base name for report files (default: derived from the eval file)")
	reportTypes := flag.String("reportTypes", "json,md", "Comma-separated report types to write (json, md)")
	logPath := flag.String("l", "", "Path to the log file (if not set, logs to stdout)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	showVersion := flag.Bool("v", false, "Show version and exit")
	dryRun := flag.Bool("dry-run", false, "Generation mode: print the generated eval to stdout instead of writing a file")
	seed := flag.Int64("seed", 0, "Generation mode: seed for randomisation decisions")

	flag.Parse()

	fmt.Printf("Version: %s\nCommit: %s\nBuildDate: %s\n",
		version.Version, version.Commit, version.BuildDate)
	if *showVersion {
		return
	}

	// Initialize Logger
	logWriter, logFile, err := logger.SetupLogWriter(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to setup logging: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.SetupLogger(logWriter, *verbose)
	templates.RegisterHelpers()

	// Generation mode takes precedence over run mode.
	if *genPath != "" {
		generator.Run(context.Background(), *genPath, *outputDir, *dryRun, *seed)
		return
	}

	// Validate input
	if *evalPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -f <eval-file> or -g <generator-file> is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	// Validate report types
	types := splitReportTypes(*reportTypes)
	for _, rt := range types {
		if err := engine.ValidateReportType(rt); err != nil {
			logger.Logger.Error("Invalid report type", "error", err)
			os.Exit(1)
		}
	}

	logger.Logger.Info("Starting application",
		"app", AppName,
		"config", *evalPath,
		"reports", *reportTypes,
		"logfile", *logPath,
		"verbose", *verbose)

	engine.Run(evalPath, verbose, reportName, types)
}

func splitReportTypes(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
