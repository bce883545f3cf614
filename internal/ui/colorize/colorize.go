package colorize

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
)

// assemblyLexer returns the first assembly lexer Chroma knows about.
func assemblyLexer() chroma.Lexer {
	for _, name := range []string{"armasm", "gas", "nasm"} {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func terminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// IsDisabled returns true if colors are disabled via environment
func IsDisabled() bool {
	return os.Getenv("HNXC_NO_COLOR") != "" || os.Getenv("NO_COLOR") != ""
}

// paint wraps s in a 24-bit foreground color given as #RRGGBB.
func paint(hex, s string) string {
	if IsDisabled() {
		return s
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil {
		return s
	}
	return fmt.Sprintf("\033[38;2;%d;%d;%dm%s\033[0m", v>>16&0xff, v>>8&0xff, v&0xff, s)
}

// Instruction colorizes an assembly instruction using Chroma
func Instruction(insn string) string {
	if IsDisabled() {
		return insn
	}
	lexer := assemblyLexer()
	if lexer == nil {
		return insn
	}

	iterator, err := lexer.Tokenise(nil, insn)
	if err != nil {
		return insn
	}

	var buf strings.Builder
	if err := terminalFormatter().Format(&buf, TraceDark, iterator); err != nil {
		return insn
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Address formats an address
func Address(addr uint64) string {
	return paint(ColorAddress, fmt.Sprintf("%08X", addr))
}

// Tag formats a hashtag
func Tag(tag string) string {
	return paint(ColorTag, tag)
}

// Syscall formats a syscall name
func Syscall(name string) string {
	return paint(ColorAddress, name)
}

// Detail formats detail text
func Detail(detail string) string {
	return paint(ColorDetail, detail)
}

// Border formats border characters
func Border(s string) string {
	return paint(ColorBorder, s)
}

// Comment formats comments
func Comment(s string) string {
	return paint(ColorComment, s)
}

// Header formats header text
func Header(s string) string {
	return paint(ColorHeader, s)
}

// HexBytes formats opcode bytes
func HexBytes(s string) string {
	return paint(ColorDetail, s)
}

// Error formats error messages
func Error(s string) string {
	return paint(ColorNumber, s)
}

// Number formats a numeric value
func Number(s string) string {
	return paint(ColorNumber, s)
}

// Result formats a raw syscall result: errors in the error color, everything else
// as a plain number.
func Result(ret int64) string {
	s := strconv.FormatInt(ret, 10)
	if ret < 0 && ret >= -4095 {
		return Error(s)
	}
	return paint(ColorOK, s)
}
