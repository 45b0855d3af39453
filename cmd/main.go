package main

import (
	"flag"
	"fmt"
	"os"

	"blockjit/internal/compiler"
	"blockjit/internal/logger"
	"blockjit/pkg/color"

	"github.com/charmbracelet/log"
)

// Main entry point for blockjit.
func main() {
	options := compiler.Compiler{}

	flag.BoolVar(&options.Help, "h", false, "Show help")
	flag.BoolVar(&options.Verbose, "v", false, "Verbose mode")
	flag.BoolVar(&options.ShouldInterpret, "r", false, "Run with the interpreter only")
	flag.BoolVar(&options.DumpCode, "d", false, "Dump compiled code")
	flag.BoolVar(&options.ShowStats, "s", false, "Show exit statistics")
	flag.BoolVar(&options.NoColor, "n", false, "No color")
	flag.StringVar(&options.ConfigFile, "config", "", "Configuration file (default: blockjit.toml next to the program)")
	flag.StringVar(&options.StatsOut, "stats-out", "", "Write the exit report as CBOR to this file")

	flag.Parse()
	args := flag.Args()

	logger.Init(options.Verbose, options.NoColor)
	if options.Help {
		fmt.Printf("Usage: %s [options] <program.yaml>\n", os.Args[0])
		fmt.Println("Options:")
		flag.PrintDefaults()
		return
	}

	if options.NoColor {
		color.EnableColor(false)
	}

	if len(args) == 0 {
		log.Fatal("No input file provided", "help", fmt.Sprintf("%s -h", os.Args[0]))
	}

	options.SourceFile = args[0]

	if err := options.Compile(); err != nil {
		log.Fatal("Run failed", "error", err)
	}
}
