package compiler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"blockjit/internal/config"
	"blockjit/pkg/bytecode"
	"blockjit/pkg/color"
	"blockjit/pkg/interpreter"
	"blockjit/pkg/jit"

	"github.com/charmbracelet/log"
)

type Compiler struct {
	Help            bool   // Show help message
	Verbose         bool   // Enable verbose output
	ShouldInterpret bool   // Run in the interpreter only, JIT disabled
	DumpCode        bool   // Print the listing of every compiled code block
	ShowStats       bool   // Print the exit counters
	NoColor         bool   // Disable colored output
	ConfigFile      string // Path to a blockjit.toml, looked up next to the source if empty
	StatsOut        string // Path to write the CBOR exit report to
	SourceFile      string // Path to the YAML instruction sequence

	Out io.Writer // defaults to os.Stdout
}

// Compile loads the instruction sequence, runs it with the configured
// interpreter and reports the result, the compiled code and the exit
// statistics as requested.
func (opts *Compiler) Compile() error {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	log.Info("Processing file", "file", opts.SourceFile)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	f, err := os.Open(opts.SourceFile)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	defer f.Close()

	iseq, err := bytecode.LoadISeq(f)
	if err != nil {
		return fmt.Errorf("%s: %w", opts.SourceFile, err)
	}

	if opts.Verbose {
		if err := opts.disassemble(iseq); err != nil {
			return err
		}
	}

	it, err := interpreter.NewInterpreter(cfg.Options()...)
	if err != nil {
		return fmt.Errorf("interpreter setup failed: %w", err)
	}

	v, runErr := it.Invoke(iseq)
	if runErr == nil {
		fmt.Fprintln(opts.Out, color.GreenText("=== Result ==="))
		fmt.Fprintln(opts.Out, bytecode.Inspect(v))
	}

	if opts.DumpCode {
		if err := opts.dumpCode(it.Resolver().CodeBlocks()); err != nil {
			return err
		}
	}
	if opts.ShowStats {
		opts.printStats(it.ExitStats())
	}
	if opts.StatsOut != "" {
		if err := writeStats(opts.StatsOut, it.ExitStats()); err != nil {
			return err
		}
	}

	if runErr != nil {
		return fmt.Errorf("execution failed: %w", runErr)
	}
	return nil
}

func (opts *Compiler) loadConfig() (config.Config, error) {
	path := opts.ConfigFile
	if path == "" {
		candidate := filepath.Join(filepath.Dir(opts.SourceFile), config.FileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		} else if !errors.Is(err, os.ErrNotExist) {
			return config.Config{}, err
		}
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
		log.Debug("Loaded configuration", "file", path)
	}

	if opts.ShouldInterpret {
		cfg.JIT.Enabled = false
	}
	if opts.ShowStats || opts.StatsOut != "" {
		cfg.JIT.CollectStats = true
	}
	return cfg, nil
}

func (opts *Compiler) disassemble(iseq *bytecode.ISeq) error {
	insns, err := iseq.Disassemble()
	if err != nil {
		return err
	}

	fmt.Fprintln(opts.Out, color.GreenText("=== "+iseq.Location()+" ==="))
	for _, in := range insns {
		fmt.Fprintln(opts.Out, in)
	}
	return nil
}

func (opts *Compiler) dumpCode(blocks []*jit.CodeBlock) error {
	fmt.Fprintln(opts.Out, color.GreenText("\n=== Compiled Code ==="))
	if len(blocks) == 0 {
		fmt.Fprintln(opts.Out, color.GrayText("No code compiled."))
		return nil
	}

	for _, cb := range blocks {
		if _, err := cb.WriteListing(opts.Out, color.Instr); err != nil {
			return err
		}
	}
	return nil
}

func (opts *Compiler) printStats(stats *jit.ExitStats) {
	fmt.Fprintln(opts.Out, color.GreenText("\n=== Exits ==="))
	report := stats.Report()
	if len(report) == 0 {
		fmt.Fprintln(opts.Out, color.GrayText("No exits."))
		return
	}

	for _, row := range report {
		fmt.Fprintf(opts.Out, "%-12s %s\n", row.Insn, color.YellowText(fmt.Sprintf("%8d", row.Count)))
	}
	fmt.Fprintf(opts.Out, "%-12s %8d\n", "total", stats.Total())
}

func writeStats(path string, stats *jit.ExitStats) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	if _, err := stats.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	log.Info("Wrote exit report", "file", path)
	return f.Close()
}
