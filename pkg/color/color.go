package color

import (
	"os"
	"strings"

	"blockjit/pkg/asm"

	"github.com/mattn/go-isatty"
)

const (
	Reset = "\033[0m"
	Bold  = "\033[1m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Blue   = "\033[34m"
	Cyan   = "\033[36m"
	Gray   = "\033[90m"

	BrightRed = "\033[91m"
)

var colorEnabled = true

func init() {
	if os.Getenv("NO_COLOR") != "" || !isTerminal(os.Stdout.Fd()) {
		colorEnabled = false
	}
}

func isTerminal(fd uintptr) bool {
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return false
	}
	term := os.Getenv("TERM")
	return term != "" && term != "dumb"
}

func EnableColor(enable bool) {
	colorEnabled = enable
}

func IsColorEnabled() bool {
	return colorEnabled
}

func Colorize(color, text string) string {
	if !colorEnabled {
		return text
	}
	return color + text + Reset
}

func BrightRedText(text string) string {
	return Colorize(BrightRed, text)
}

func GreenText(text string) string {
	return Colorize(Green, text)
}

func YellowText(text string) string {
	return Colorize(Yellow, text)
}

func BlueText(text string) string {
	return Colorize(Blue, text)
}

func CyanText(text string) string {
	return Colorize(Cyan, text)
}

func GrayText(text string) string {
	return Colorize(Gray, text)
}

func BoldText(text string) string {
	return Colorize(Bold, text)
}

func Error(message string) string {
	if !colorEnabled {
		return message
	}
	return BrightRedText("Error: ") + message
}

// Instr renders one listing line: annotations gray, labels cyan,
// control transfers yellow, everything else with a blue mnemonic.
func Instr(in asm.Instr) string {
	text := in.String()
	if !colorEnabled {
		return text
	}

	switch in.Op {
	case asm.OpComment:
		return GrayText(text)
	case asm.OpLabel:
		return CyanText(text)
	case asm.OpCall, asm.OpJmp, asm.OpJz, asm.OpJnz, asm.OpRet:
		return colorMnemonic(Yellow, text)
	default:
		return colorMnemonic(Blue, text)
	}
}

func colorMnemonic(color, text string) string {
	op, rest, found := strings.Cut(text, " ")
	if !found {
		return Colorize(color, op)
	}
	return Colorize(color, op) + " " + rest
}
