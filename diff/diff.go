// Package diff splits the output of `git diff --staged` into per-file
// segments.
package diff

import (
	"regexp"
	"strings"
)

// Status is the kind of change a file went through.
type Status string

const (
	StatusAdded    Status = "added"
	StatusModified Status = "modified"
	StatusDeleted  Status = "deleted"
	StatusRenamed  Status = "renamed"
)

// UnknownPath is used when no path can be recovered from a segment.
const UnknownPath = "(unknown)"

// FileDiff is the slice of a unified diff that touches one file.
type FileDiff struct {
	// FilePath is the destination ("b" side) path.
	FilePath string
	// OldPath is the source path for renames, empty otherwise.
	OldPath string
	// RawDiff is the segment text including its "diff --git" header.
	RawDiff string
	Status  Status
	// IsBinary is set for "Binary files ..." and "GIT binary patch" segments.
	IsBinary bool
	// Added is the number of added lines
	Added int
	// Removed is the number of removed lines
	Removed int
}

// IsDeleted reports whether the file no longer exists in the index.
func (f FileDiff) IsDeleted() bool {
	return f.Status == StatusDeleted
}

var headerRegex = regexp.MustCompile(`^diff --git a/(.+) b/(.+)$`)

// ParseUnifiedDiff splits diff on "diff --git" boundaries and extracts the
// path, change type, binary flag and line counts of each segment. Text before
// the first header becomes a segment of its own. A whitespace-only diff
// yields nil.
func ParseUnifiedDiff(diff string) []FileDiff {
	if strings.TrimSpace(diff) == "" {
		return nil
	}

	var files []FileDiff
	for _, segment := range splitSegments(diff) {
		if strings.TrimSpace(segment) == "" {
			continue
		}
		files = append(files, parseSegment(segment))
	}
	return files
}

// splitSegments cuts diff before every line starting with "diff --git ",
// keeping each header with its segment.
func splitSegments(diff string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(diff); {
		next := strings.IndexByte(diff[i:], '\n')
		lineEnd := len(diff)
		if next >= 0 {
			lineEnd = i + next + 1
		}
		if strings.HasPrefix(diff[i:], "diff --git ") && i > start {
			segments = append(segments, diff[start:i])
			start = i
		}
		i = lineEnd
	}
	return append(segments, diff[start:])
}

func parseSegment(segment string) FileDiff {
	lines := strings.Split(segment, "\n")
	f := FileDiff{RawDiff: segment, Status: StatusModified}

	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			f.FilePath = strings.TrimPrefix(line, "+++ b/")
		case strings.HasPrefix(line, "--- a/"):
			f.OldPath = strings.TrimPrefix(line, "--- a/")
		case strings.HasPrefix(line, "+++ /dev/null"):
			f.Status = StatusDeleted
		case strings.HasPrefix(line, "--- /dev/null"):
			f.Status = StatusAdded
		case strings.HasPrefix(line, "new file mode"):
			f.Status = StatusAdded
		case strings.HasPrefix(line, "deleted file mode"):
			f.Status = StatusDeleted
		case strings.HasPrefix(line, "rename from "):
			f.OldPath = strings.TrimPrefix(line, "rename from ")
			f.Status = StatusRenamed
		case strings.HasPrefix(line, "rename to "):
			f.FilePath = strings.TrimPrefix(line, "rename to ")
			f.Status = StatusRenamed
		case strings.HasPrefix(line, "Binary files"), strings.HasPrefix(line, "GIT binary patch"):
			f.IsBinary = true
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			f.Added++
		case strings.HasPrefix(line, "-"):
			f.Removed++
		}
	}

	// Deleted files have no "+++ b/" line.
	if f.FilePath == "" && f.OldPath != "" {
		f.FilePath = f.OldPath
	}

	if f.FilePath == "" {
		if m := headerRegex.FindStringSubmatch(lines[0]); m != nil {
			f.FilePath = stripQuotes(m[2])
			if f.OldPath == "" {
				f.OldPath = stripQuotes(m[1])
			}
		}
	}

	if f.FilePath == "" {
		f.FilePath = UnknownPath
	}
	if f.Status != StatusRenamed {
		f.OldPath = ""
	}
	return f
}

// stripQuotes removes the double quotes git puts around unusual paths.
func stripQuotes(path string) string {
	if len(path) >= 2 && strings.HasPrefix(path, `"`) && strings.HasSuffix(path, `"`) {
		return path[1 : len(path)-1]
	}
	return path
}
