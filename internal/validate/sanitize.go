package validate

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

const forbiddenNameChars = `<>:"/\|?*`

// Windows device names, forbidden as file stems regardless of extension.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

var runsOfSeparators = regexp.MustCompile(`[\s_]+`)

// SanitizeName normalizes a user-supplied file name into one that is safe
// on every filesystem the processing side touches. The result always ends
// in ".pdf" and never exceeds 255 bytes.
func SanitizeName(name string) string {
	s := strings.Map(dropForbidden, name)
	s = runsOfSeparators.ReplaceAllString(s, "_")

	ext := filepath.Ext(s)
	stem := strings.TrimSuffix(s, ext)
	if !strings.EqualFold(ext, ".pdf") {
		// Unexpected extensions stay visible inside the stem
		stem = s
	}

	stem = strings.TrimRight(stem, "._")
	if stem == "" {
		stem = "file"
	}
	if isReservedName(stem) {
		stem = "file_" + stem
	}

	stem = truncateRunes(stem, 255-len(".pdf"))
	return stem + ".pdf"
}

func dropForbidden(r rune) rune {
	if r < 0x20 || r == 0x7f {
		return -1
	}
	if strings.ContainsRune(forbiddenNameChars, r) {
		return -1
	}
	return r
}

func isReservedName(stem string) bool {
	_, ok := reservedNames[strings.ToUpper(stem)]
	return ok
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
