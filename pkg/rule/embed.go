package rule

import "embed"

// builtinRulesFS embeds the built-in rules directory.
//
//go:embed rules/*.yar
var builtinRulesFS embed.FS
