package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mwielgat/agentd/tool"
)

// Workspace exposes file tools rooted at a single directory. Every path the
// model supplies is resolved relative to the root and must stay inside it.
type Workspace struct {
	root string
}

// NewWorkspace validates the root directory and returns the workspace.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root %s is not a directory", abs)
	}
	return &Workspace{root: abs}, nil
}

// Tools returns the read_file, write_file and list_files tools bound to
// this workspace.
func (w *Workspace) Tools() []tool.Tool {
	return []tool.Tool{w.readTool(), w.writeTool(), w.listTool()}
}

// resolve joins a model-supplied path onto the root and rejects escapes.
func (w *Workspace) resolve(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("filename must not be empty")
	}
	full := filepath.Join(w.root, filepath.Clean("/"+name))
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", name)
	}
	return full, nil
}

func (w *Workspace) readTool() tool.Tool {
	return tool.NewFunctionTool(
		"read_file",
		"Read the content of a file in the agent workspace and return it as text.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Path of the file, relative to the workspace root",
				},
			},
			"required": []string{"filename"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			name, _ := args["filename"].(string)
			full, err := w.resolve(name)
			if err != nil {
				return nil, err
			}
			content, err := os.ReadFile(full)
			if err != nil {
				if os.IsNotExist(err) {
					return nil, fmt.Errorf("file %q not found", name)
				}
				return nil, err
			}
			return map[string]any{
				"filename": name,
				"size":     len(content),
				"content":  string(content),
			}, nil
		},
	)
}

func (w *Workspace) writeTool() tool.Tool {
	return tool.NewFunctionTool(
		"write_file",
		"Create or update a file in the agent workspace. Mode is \"overwrite\" (default) or \"append\".",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filename": map[string]any{
					"type":        "string",
					"description": "Path of the file, relative to the workspace root",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "Text content to write",
				},
				"mode": map[string]any{
					"type":        "string",
					"description": "Either \"overwrite\" or \"append\"",
				},
			},
			"required": []string{"filename", "content"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			name, _ := args["filename"].(string)
			content, _ := args["content"].(string)
			mode, _ := args["mode"].(string)
			if mode == "" {
				mode = "overwrite"
			}
			if mode != "overwrite" && mode != "append" {
				return nil, fmt.Errorf("mode must be either %q or %q", "overwrite", "append")
			}

			full, err := w.resolve(name)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return nil, err
			}

			flags := os.O_CREATE | os.O_WRONLY
			if mode == "append" {
				flags |= os.O_APPEND
			} else {
				flags |= os.O_TRUNC
			}
			f, err := os.OpenFile(full, flags, 0o644)
			if err != nil {
				return nil, err
			}
			defer f.Close()
			if _, err := f.WriteString(content); err != nil {
				return nil, err
			}
			info, err := f.Stat()
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"filename":      name,
				"mode":          mode,
				"bytes_written": len(content),
				"total_size":    int(info.Size()),
			}, nil
		},
		func(o *tool.FunctionToolOptions) {
			o.Classification = tool.Mutating
			// Overwrites are repeatable; appends are guarded by the
			// default non-retry policy for mutating calls.
		},
	)
}

func (w *Workspace) listTool() tool.Tool {
	return tool.NewFunctionTool(
		"list_files",
		"List the files currently stored in the agent workspace.",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		func(_ context.Context, _ map[string]any) (any, error) {
			type entry struct {
				Filename string `json:"filename"`
				Size     int64  `json:"size"`
				Modified string `json:"modified"`
			}
			var files []entry
			err := filepath.WalkDir(w.root, func(path string, d os.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				info, err := d.Info()
				if err != nil {
					return err
				}
				rel, err := filepath.Rel(w.root, path)
				if err != nil {
					return err
				}
				files = append(files, entry{
					Filename: rel,
					Size:     info.Size(),
					Modified: info.ModTime().UTC().Format(time.RFC3339),
				})
				return nil
			})
			if err != nil {
				return nil, err
			}
			sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })
			return map[string]any{
				"files": files,
				"count": len(files),
			}, nil
		},
	)
}
