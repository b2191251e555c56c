package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peter-fm/snapbase/internal/columnar"
)

// SourceKeyHash returns the first 8 hex characters of the SHA-256 digest of
// the normalized relative source path. It keeps
// directory fan-out bounded and sidesteps path-character issues regardless
// of the source's original path. Exported so the catalog, query, and diff
// engines can derive the same storage prefix a snapshot was written under
// without duplicating the hashing rule.
func SourceKeyHash(normalizedSourcePath string) string {
	h := sha256.Sum256([]byte(normalizedSourcePath))
	return hex.EncodeToString(h[:])[:8]
}

// NormalizeSourcePath renders a source path relative to the workspace root
// using forward slashes, so the same logical source always hashes to the
// same key regardless of host OS path conventions.
func NormalizeSourcePath(workspaceRoot, sourcePath string) string {
	rel := sourcePath
	if filepath.IsAbs(sourcePath) {
		if r, err := filepath.Rel(workspaceRoot, sourcePath); err == nil {
			rel = r
		}
	}
	return filepath.ToSlash(filepath.Clean(rel))
}

// expandName renders a default_name_pattern against its four tokens:
// {source}, {format}, {seq}, {timestamp}. The source and format tokens are
// sanitized the same way the query engine sanitizes virtual-table
// identifiers, so a generated name is always safe to use as a
// file/directory component and as a SQL-adjacent identifier.
func expandName(pattern, sourceBase, format string, seq int, createdAt time.Time) string {
	r := strings.NewReplacer(
		"{source}", columnar.SanitizeIdentifier(sourceBase),
		"{format}", columnar.SanitizeIdentifier(format),
		"{seq}", strconv.Itoa(seq),
		"{timestamp}", createdAt.UTC().Format("20060102T150405Z"),
	)
	return r.Replace(pattern)
}

// sourceBaseName returns the source's basename without extension, the
// {source} token's input.
func sourceBaseName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext)
}
