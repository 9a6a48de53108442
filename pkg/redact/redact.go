// Keeps secrets (connection strings, keys, archive passwords) out of logs
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/kballard/go-shellquote"
)

// MaxLogContent caps how much of an external tool's log we attach to our own log
const MaxLogContent = 10000

// Mask replaces each occurrence of each secret with as many asterisks
func Mask(text string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}

		text = strings.ReplaceAll(text, secret, strings.Repeat("*", len(secret)))
	}

	return text
}

// Args renders a command line the way a shell would need it, with secrets masked.
// Masking happens per argument, before quoting could alter the secret's spelling.
func Args(args []string, secrets ...string) string {
	masked := make([]string, len(args))
	for i, arg := range args {
		masked[i] = Mask(arg, secrets...)
	}

	return shellquote.Join(masked...)
}

// Hash lets two log lines be compared for "same secret?" without revealing it
func Hash(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Truncate joins log lines and cuts the result at MaxLogContent bytes, never
// splitting a multibyte character
func Truncate(lines []string) string {
	content := strings.Join(lines, "\n")
	if len(content) <= MaxLogContent {
		return content
	}

	cut := MaxLogContent
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}

	return content[:cut] + "..."
}
