package geodata

import (
	"os"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// readCPGEncoding reads the code page declared next to a DBF file. Missing
// or unknown declarations fall back to UTF-8.
func readCPGEncoding(cpgPath string) encoding.Encoding {
	if cpgPath == "" {
		return unicode.UTF8
	}
	content, err := os.ReadFile(cpgPath)
	if err != nil {
		return unicode.UTF8
	}
	return lookupEncoding(string(content))
}

func lookupEncoding(declared string) encoding.Encoding {
	name := strings.ToLower(strings.TrimSpace(declared))
	name = strings.TrimPrefix(name, "ansi ")
	switch name {
	case "", "utf8", "utf-8", "65001":
		return unicode.UTF8
	case "936":
		name = "gbk"
	}
	if isDigits(name) {
		name = "windows-" + name
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return unicode.UTF8
	}
	return enc
}

func decodeText(enc encoding.Encoding, s string) string {
	if enc == unicode.UTF8 || s == "" {
		return s
	}
	decoded, err := enc.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return decoded
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
