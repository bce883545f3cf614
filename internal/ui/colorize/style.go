// Package colorize renders trace output for a terminal: instructions through Chroma,
// everything else as 24-bit ANSI colors from one palette.
package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// Palette colors, shared by the Chroma style and the ANSI helpers.
const (
	ColorAddress  = "#FFC800" // yellow
	ColorMnemonic = "#FFFFFF" // white
	ColorRegister = "#87CEEB" // light blue
	ColorNumber   = "#FF80C0" // pink
	ColorComment  = "#FF8000" // orange
	ColorDetail   = "#B4B4B4" // light gray
	ColorBorder   = "#505050" // dark gray
	ColorHeader   = "#569CD6" // blue
	ColorTag      = "#FFB4C8" // light pink
	ColorOK       = "#00FF00" // green
)

// TraceDark is the Chroma style for instruction lines.
var TraceDark = styles.Register(chroma.MustNewStyle("hnxc-trace", chroma.StyleEntries{
	chroma.Text:           ColorMnemonic,
	chroma.Background:     "bg:#000000",
	chroma.Comment:        ColorComment,
	chroma.CommentPreproc: ColorComment,

	chroma.Keyword:       ColorMnemonic,
	chroma.KeywordPseudo: ColorMnemonic,
	chroma.Name:          ColorRegister,
	chroma.NameBuiltin:   ColorRegister,
	chroma.NameVariable:  ColorRegister,
	chroma.NameFunction:  ColorMnemonic,
	chroma.NameLabel:     ColorAddress,

	chroma.LiteralNumber:        ColorNumber,
	chroma.LiteralNumberHex:     ColorNumber,
	chroma.LiteralNumberInteger: ColorNumber,

	chroma.Operator:    ColorMnemonic,
	chroma.Punctuation: ColorMnemonic,
	chroma.String:      ColorOK,
}))
