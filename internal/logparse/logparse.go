// Package logparse classifies Angular CLI output. Every function works on a
// full snapshot of the captured log and keeps no state between calls.
package logparse

import (
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// failureGlyphs are the symbols the Angular CLI and esbuild prefix failures with.
var failureGlyphs = []string{"✖", "✘", "×", "❌"}

var (
	tsDiagnosticPattern   = regexp.MustCompile(`(?m)(?:error|\[ERROR\])[ \t]+(TS\d+):[ \t]*(.+?)[ \t]*$`)
	fileDiagnosticPattern = regexp.MustCompile(`(?m)ERROR in[ \t]+([^\s:]+\.(?:ts|html|scss|css|js|mjs))(?::(\d+):(\d+))?[ \t]*[:\-]?[ \t]*(.*?)[ \t]*$|([^\s:]+\.(?:ts|html|scss|css|js|mjs)):(\d+):(\d+)[ \t]+-[ \t]+(.+?)[ \t]*$`)
	genericErrorPattern   = regexp.MustCompile(`(?m)^[ \t]*(?:[✖✘×❌][ \t]*)?((?:[A-Z]\w*)?Error:[ \t]*.+?)[ \t]*$`)
	servedURLPattern      = regexp.MustCompile(`https?://(?:localhost|127\.0\.0\.1|0\.0\.0\.0):(\d+)`)
)

// successMarkers are printed once a (re)build finished without errors.
var successMarkers = []string{
	"Compiled successfully",
	"Application bundle generation complete",
}

// StripANSI removes terminal escape sequences from text.
func StripANSI(text string) string {
	return ansi.Strip(text)
}

// HasCompilationErrors reports whether text carries any compilation failure
// signal. It is deliberately broader than ExtractErrors.
func HasCompilationErrors(text string) bool {
	text = StripANSI(text)

	if strings.Contains(text, "error TS") || strings.Contains(text, "ERROR in") {
		return true
	}
	for _, glyph := range failureGlyphs {
		if i := strings.Index(text, glyph); i >= 0 {
			rest := text[i:]
			if strings.Contains(rest, "Failed to compile") || strings.Contains(rest, "[ERROR]") {
				return true
			}
		}
	}
	return strings.Contains(text, "Build at:") && strings.Contains(text, "error")
}

// HasCompiledSuccessfully reports whether a successful build was announced.
func HasCompiledSuccessfully(text string) bool {
	text = StripANSI(text)
	for _, marker := range successMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// ExtractErrors pulls individual diagnostics out of text: TypeScript codes
// first, then file diagnostics, then generic "Error:" lines. Duplicates are
// dropped, keeping first-seen order.
func ExtractErrors(text string) []string {
	text = StripANSI(text)

	seen := make(map[string]struct{})
	var errs []string
	add := func(msg string) {
		msg = strings.TrimSpace(msg)
		if msg == "" {
			return
		}
		if _, ok := seen[msg]; ok {
			return
		}
		seen[msg] = struct{}{}
		errs = append(errs, msg)
	}

	for _, m := range tsDiagnosticPattern.FindAllStringSubmatch(text, -1) {
		add(m[1] + ": " + m[2])
	}

	for _, m := range fileDiagnosticPattern.FindAllStringSubmatch(text, -1) {
		if m[1] != "" {
			add(formatDiagnostic(m[1], m[2], m[3], m[4]))
		} else {
			add(formatDiagnostic(m[5], m[6], m[7], m[8]))
		}
	}

	for _, m := range genericErrorPattern.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	return errs
}

func formatDiagnostic(file, line, col, rest string) string {
	loc := file
	if line != "" {
		loc += ":" + line + ":" + col
	}
	if rest == "" {
		return loc
	}
	return loc + ": " + rest
}

// ServedURL returns the last local dev-server URL printed in text, rewritten
// to use localhost.
func ServedURL(text string) (string, bool) {
	text = StripANSI(text)
	matches := servedURLPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return "", false
	}
	port := matches[len(matches)-1][1]
	return "http://localhost:" + port, true
}
