package gcode

import "strings"

// Tokenize strips the ';' comment and surrounding whitespace from a raw
// line and splits the rest on whitespace runs. The first token is the
// mnemonic. Blank and comment-only lines yield no tokens.
func Tokenize(line string) []string {
	if idx := strings.IndexByte(line, ';'); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
