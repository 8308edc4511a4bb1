package logging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Common log attribute keys for consistent naming across the codebase.
const (
	KeyOperation     = "operation"
	KeyStatus        = "status"
	KeyError         = "error"
	KeyPrincipalHash = "principal_hash"
	KeyOrigin        = "origin"
)

// Status values for consistent logging.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// New builds a slog.Logger writing to w. format is "json" or "text";
// level is one of debug, info, warn, error.
func New(w io.Writer, format, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Operation returns a slog attribute for the operation name.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Status returns a slog attribute for the status.
func Status(status string) slog.Attr {
	return slog.String(KeyStatus, status)
}

// Origin returns a slog attribute for the caller's network origin.
func Origin(origin string) slog.Attr {
	return slog.String(KeyOrigin, origin)
}

// Err returns a slog attribute for an error. A nil error yields an empty
// Group attribute that slog omits from output, so Err(maybeNil) is safe.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Group("")
	}
	return slog.String(KeyError, err.Error())
}

// AnonymizePrincipal returns a hashed representation of a principal id
// for logging. Principal ids are capability-adjacent (they name vault
// records), so they never appear in logs verbatim.
func AnonymizePrincipal(principal string) string {
	if principal == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(principal))
	return "principal:" + hex.EncodeToString(hash[:8])
}

// Principal returns a slog attribute with the anonymized principal id.
func Principal(principal string) slog.Attr {
	return slog.String(KeyPrincipalHash, AnonymizePrincipal(principal))
}

// SanitizeToken returns a masked version of a token for logging. Only a
// length indicator is exposed; even partial prefixes can aid attacks.
func SanitizeToken(token string) string {
	if token == "" {
		return "<empty>"
	}
	return fmt.Sprintf("[token:%d chars]", len(token))
}
