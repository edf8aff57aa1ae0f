package models

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// File name limits.
const (
	maxFileNameBytes = 1024
	maxSegmentBytes  = 255
)

// allowedExtensions are the only corpus file types accepted on upload.
var allowedExtensions = []string{".txt", ".md"}

// windowsInvalidChars are rejected anywhere in a file name.
const windowsInvalidChars = `<>:"|?*`

// lookalikeRunes are Unicode characters that render like path separators or
// dots and survive NFC normalization. Accepting them would let a display
// name masquerade as a different path.
var lookalikeRunes = map[rune]string{
	'∕': "division slash",
	'⁄': "fraction slash",
	'⧸': "big solidus",
	'／': "fullwidth solidus",
	'＼': "fullwidth reverse solidus",
	'․': "one dot leader",
	'‥': "two dot leader",
	'…': "horizontal ellipsis",
	'．': "fullwidth full stop",
}

// windowsReservedStems are device names Windows refuses as file stems
// regardless of extension.
var windowsReservedStems = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// ValidateFileName checks a relative document file name against the upload
// rules: relative, forward-slash separated, no traversal, no Windows-invalid
// or look-alike characters, bounded lengths, .txt or .md extension.
// The name is NFC-normalized before any check. Returns the normalized name.
func ValidateFileName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("file name is empty")
	}
	name = norm.NFC.String(name)

	if len(name) > maxFileNameBytes {
		return "", fmt.Errorf("file name exceeds %d bytes", maxFileNameBytes)
	}
	if strings.ContainsRune(name, '\\') {
		return "", fmt.Errorf("file name contains backslash")
	}
	if strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("file name is absolute")
	}
	if strings.ContainsRune(name, '\x00') {
		return "", fmt.Errorf("file name contains NUL")
	}
	for r, desc := range lookalikeRunes {
		if strings.ContainsRune(name, r) {
			return "", fmt.Errorf("file name contains look-alike character (%s)", desc)
		}
	}

	segments := strings.Split(name, "/")
	for _, seg := range segments {
		if err := validateSegment(seg); err != nil {
			return "", err
		}
	}

	ext := strings.ToLower(extension(segments[len(segments)-1]))
	ok := false
	for _, allowed := range allowedExtensions {
		if ext == allowed {
			ok = true
			break
		}
	}
	if !ok {
		return "", fmt.Errorf("extension %q not allowed (want .txt or .md)", ext)
	}

	return name, nil
}

func validateSegment(seg string) error {
	if seg == "" {
		return fmt.Errorf("file name contains empty path segment")
	}
	if seg == "." || seg == ".." {
		return fmt.Errorf("file name contains path traversal segment %q", seg)
	}
	if len(seg) > maxSegmentBytes {
		return fmt.Errorf("path segment exceeds %d bytes", maxSegmentBytes)
	}
	if strings.HasSuffix(seg, " ") || strings.HasSuffix(seg, ".") {
		return fmt.Errorf("path segment %q ends with space or dot", seg)
	}
	if strings.ContainsAny(seg, windowsInvalidChars) {
		return fmt.Errorf("path segment %q contains invalid character", seg)
	}
	for _, r := range seg {
		if r < 0x20 {
			return fmt.Errorf("path segment %q contains control character", seg)
		}
	}
	stem := seg
	if idx := strings.IndexByte(seg, '.'); idx >= 0 {
		stem = seg[:idx]
	}
	if windowsReservedStems[strings.ToLower(stem)] {
		return fmt.Errorf("path segment %q uses a reserved device name", seg)
	}
	return nil
}

func extension(seg string) string {
	idx := strings.LastIndexByte(seg, '.')
	if idx < 0 {
		return ""
	}
	return seg[idx:]
}
