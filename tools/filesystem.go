package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m4xw311/mcpchat/config"
	"github.com/m4xw311/mcpchat/errors"
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads the entire content of a file."
}

func (t *ReadFileTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]string{"path": "Path of the file to read"}, "path")
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, ok := args["path"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'path' argument")
	}

	if err := checkHidden(path, t.fsAccess); err != nil {
		return "", err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely."
}

func (t *WriteFileTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]string{
		"path":    "Path of the file to write",
		"content": "Full new content of the file",
	}, "path", "content")
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	path, pathOk := args["path"].(string)
	content, contentOk := args["content"].(string)
	if !pathOk || !contentOk {
		return "", errors.New("missing or invalid 'path' or 'content' arguments")
	}

	if err := checkHidden(path, t.fsAccess); err != nil {
		return "", err
	}

	readOnly, err := isPathRestricted(path, t.fsAccess.ReadOnly)
	if err != nil {
		return "", err
	}
	if readOnly {
		return "", errors.New("access denied: path '%s' is read-only", path)
	}

	err = os.WriteFile(path, []byte(content), 0644)
	if err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// ListFilesTool lists one directory level, one "[DIR] name" or "[FILE] name"
// line per entry. Hidden entries are left out.
type ListFilesTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ListFilesTool) Name() string { return "list_files" }
func (t *ListFilesTool) Description() string {
	return "Lists the files and directories in a directory."
}

func (t *ListFilesTool) InputSchema() map[string]interface{} {
	return objectSchema(map[string]string{"directory": "Directory to list, defaults to '.'"})
}

func (t *ListFilesTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	dir := "."
	if v, ok := args["directory"]; ok {
		s, ok := v.(string)
		if !ok {
			return "", errors.New("invalid 'directory' argument")
		}
		if s != "" {
			dir = s
		}
	}

	if err := checkHidden(dir, t.fsAccess); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", errors.Wrapf(err, "failed to list directory '%s'", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var lines []string
	for _, e := range entries {
		rel := filepath.ToSlash(filepath.Join(dir, e.Name()))
		hidden, err := isPathRestricted(rel, t.fsAccess.Hidden)
		if err != nil {
			return "", err
		}
		if hidden {
			continue
		}
		if e.IsDir() {
			lines = append(lines, "[DIR] "+e.Name())
		} else {
			lines = append(lines, "[FILE] "+e.Name())
		}
	}
	if len(lines) == 0 {
		return fmt.Sprintf("Directory '%s' is empty", dir), nil
	}
	return strings.Join(lines, "\n"), nil
}

func checkHidden(path string, fsAccess *config.FilesystemAccess) error {
	hidden, err := isPathRestricted(filepath.ToSlash(filepath.Clean(path)), fsAccess.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	return nil
}
