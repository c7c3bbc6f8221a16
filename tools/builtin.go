package tools

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hydra-run/hydra/core"
)

// Workspace roots every filesystem-touching built-in tool, and carries
// the version-control state used by the critical-tool diff/branch flow
// (spec §4.10).
type Workspace struct {
	Root string
}

// isVCSWorkspace reports whether Root is inside a git working tree.
func (w *Workspace) isVCSWorkspace() bool {
	_, err := os.Stat(filepath.Join(w.Root, ".git"))
	return err == nil
}

// resolvePath joins a tool-supplied relative path against Root, rejecting
// any path that would escape it.
func (w *Workspace) resolvePath(rel string) (string, error) {
	abs := filepath.Join(w.Root, rel)
	absRoot, err := filepath.Abs(w.Root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(abs)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absPath, absRoot) {
		return "", fmt.Errorf("%w: path escapes workspace: %s", core.ErrPermissionDenied, rel)
	}
	return absPath, nil
}

// unifiedDiff produces a minimal line-based diff (old vs. new content),
// good enough to satisfy spec §4.10's "diff is part of the tool result"
// requirement without shelling out to a VCS diff engine.
func unifiedDiff(path, oldContent, newContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "--- %s\n+++ %s\n", path, path)

	oldLines := strings.Split(oldContent, "\n")
	newLines := strings.Split(newContent, "\n")
	max := len(oldLines)
	if len(newLines) > max {
		max = len(newLines)
	}
	for i := 0; i < max; i++ {
		var o, n string
		if i < len(oldLines) {
			o = oldLines[i]
		}
		if i < len(newLines) {
			n = newLines[i]
		}
		if o == n {
			continue
		}
		if i < len(oldLines) {
			fmt.Fprintf(&b, "-%s\n", o)
		}
		if i < len(newLines) {
			fmt.Fprintf(&b, "+%s\n", n)
		}
	}
	return b.String()
}

// branchName builds the predictable feature-branch prefix spec §4.10
// requires for critical filesystem edits inside a VCS workspace.
func branchName(tool string) string {
	return fmt.Sprintf("hydra-agent/%s-%d", tool, os.Getpid())
}

func gitCheckoutNewBranch(ctx context.Context, root, name string) error {
	cmd := exec.CommandContext(ctx, "git", "checkout", "-b", name)
	cmd.Dir = root
	return cmd.Run()
}

// RegisterBuiltins installs the minimum built-in tool set (spec §4.10)
// into r, rooted at ws.
func RegisterBuiltins(r *Registry, ws *Workspace) {
	r.Register(&Tool{
		Name: "read_file", Description: "Read an entire file's contents.",
		Permission: PermissionSafe,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path, _ := args["path"].(string)
			abs, err := ws.resolvePath(path)
			if err != nil {
				return nil, err
			}
			content, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
			}
			return string(content), nil
		},
	})

	r.Register(&Tool{
		Name: "read_lines", Description: "Read a line range from a file.",
		Permission: PermissionSafe,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path, _ := args["path"].(string)
			startF, _ := args["start"].(float64)
			endF, _ := args["end"].(float64)
			abs, err := ws.resolvePath(path)
			if err != nil {
				return nil, err
			}
			content, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
			}
			lines := strings.Split(string(content), "\n")
			start, end := int(startF), int(endF)
			if start < 1 {
				start = 1
			}
			if end > len(lines) || end == 0 {
				end = len(lines)
			}
			if start > end {
				return "", nil
			}
			return strings.Join(lines[start-1:end], "\n"), nil
		},
	})

	r.Register(&Tool{
		Name: "list_directory", Description: "List entries in a directory.",
		Permission: PermissionSafe,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path, _ := args["path"].(string)
			abs, err := ws.resolvePath(path)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(abs)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				names = append(names, e.Name())
			}
			return names, nil
		},
	})

	r.Register(&Tool{
		Name: "search_codebase", Description: "Search file contents for a substring under the workspace.",
		Permission: PermissionSafe,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query, _ := args["query"].(string)
			var matches []string
			_ = filepath.Walk(ws.Root, func(path string, info os.FileInfo, err error) error {
				if err != nil || info.IsDir() || strings.Contains(path, ".git") {
					return nil
				}
				f, err := os.Open(path)
				if err != nil {
					return nil
				}
				defer f.Close()
				scanner := bufio.NewScanner(f)
				lineNum := 0
				for scanner.Scan() {
					lineNum++
					if strings.Contains(scanner.Text(), query) {
						matches = append(matches, fmt.Sprintf("%s:%d", path, lineNum))
					}
				}
				return nil
			})
			return matches, nil
		},
	})

	r.Register(&Tool{
		Name: "analyze_code", Description: "Report basic line/function statistics for a file.",
		Permission: PermissionSafe,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path, _ := args["path"].(string)
			abs, err := ws.resolvePath(path)
			if err != nil {
				return nil, err
			}
			content, err := os.ReadFile(abs)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
			}
			lines := strings.Split(string(content), "\n")
			funcCount := 0
			for _, l := range lines {
				if strings.Contains(l, "func ") || strings.Contains(l, "def ") {
					funcCount++
				}
			}
			return map[string]interface{}{"lines": len(lines), "functions": funcCount}, nil
		},
	})

	r.Register(&Tool{
		Name: "execute_python", Description: "Run a short Python snippet and capture stdout.",
		Permission: PermissionRequiresApproval,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			code, _ := args["code"].(string)
			cmd := exec.CommandContext(ctx, "python3", "-c", code)
			cmd.Dir = ws.Root
			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out
			if err := cmd.Run(); err != nil {
				return out.String(), fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
			}
			return out.String(), nil
		},
	})

	r.Register(criticalFileTool(ws, "write_file", func(args map[string]interface{}) (string, string, error) {
		path, _ := args["path"].(string)
		content, _ := args["content"].(string)
		return path, content, nil
	}))

	r.Register(criticalFileTool(ws, "append_to_file", func(args map[string]interface{}) (string, string, error) {
		path, _ := args["path"].(string)
		addition, _ := args["content"].(string)
		abs, err := ws.resolvePath(path)
		if err != nil {
			return "", "", err
		}
		existing, _ := os.ReadFile(abs)
		return path, string(existing) + addition, nil
	}))

	r.Register(&Tool{
		Name: "insert_lines", Description: "Insert lines at a position in a file.",
		Permission: PermissionCritical,
		Handler:    lineEditHandler(ws, "insert_lines"),
	})
	r.Register(&Tool{
		Name: "delete_lines", Description: "Delete a line range from a file.",
		Permission: PermissionCritical,
		Handler:    lineEditHandler(ws, "delete_lines"),
	})
	r.Register(&Tool{
		Name: "replace_lines", Description: "Replace a line range in a file.",
		Permission: PermissionCritical,
		Handler:    lineEditHandler(ws, "replace_lines"),
	})

	r.Register(&Tool{
		Name: "run_command", Description: "Run an arbitrary shell command in the workspace.",
		Permission: PermissionCritical,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			command, _ := args["command"].(string)
			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = ws.Root
			var out bytes.Buffer
			cmd.Stdout = &out
			cmd.Stderr = &out
			if err := cmd.Run(); err != nil {
				return out.String(), fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
			}
			return out.String(), nil
		},
	})

	if ws.isVCSWorkspace() {
		r.Register(&Tool{
			Name: "git_status", Description: "Report working-tree status.",
			Permission: PermissionSafe,
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
				cmd.Dir = ws.Root
				out, err := cmd.Output()
				if err != nil {
					return nil, fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
				}
				return string(out), nil
			},
		})
		r.Register(&Tool{
			Name: "git_commit", Description: "Commit staged changes with a message.",
			Permission: PermissionRequiresApproval,
			Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
				message, _ := args["message"].(string)
				cmd := exec.CommandContext(ctx, "git", "commit", "-m", message)
				cmd.Dir = ws.Root
				out, err := cmd.CombinedOutput()
				if err != nil {
					return string(out), fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
				}
				return string(out), nil
			},
		})
	}
}

// criticalFileTool wraps a content-producing function with spec §4.10's
// VCS diff-then-isolated-branch flow for critical file-modifying tools.
func criticalFileTool(ws *Workspace, name string, resolve func(args map[string]interface{}) (path, newContent string, err error)) *Tool {
	return &Tool{
		Name:       name,
		Permission: PermissionCritical,
		Description: "Write file contents, generating a diff and isolating the change on a feature branch in a VCS workspace.",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			path, newContent, err := resolve(args)
			if err != nil {
				return nil, err
			}
			abs, err := ws.resolvePath(path)
			if err != nil {
				return nil, err
			}

			oldContent := ""
			if existing, err := os.ReadFile(abs); err == nil {
				oldContent = string(existing)
			}
			diff := unifiedDiff(path, oldContent, newContent)

			branch := ""
			if ws.isVCSWorkspace() {
				branch = branchName(name)
				if err := gitCheckoutNewBranch(ctx, ws.Root, branch); err != nil {
					return nil, fmt.Errorf("%w: creating feature branch: %v", core.ErrRequestFailed, err)
				}
			}

			if err := os.WriteFile(abs, []byte(newContent), 0o644); err != nil {
				return nil, fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
			}

			return map[string]interface{}{"diff": diff, "branch": branch}, nil
		},
	}
}

func lineEditHandler(ws *Workspace, kind string) Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		path, _ := args["path"].(string)
		abs, err := ws.resolvePath(path)
		if err != nil {
			return nil, err
		}
		existing, _ := os.ReadFile(abs)
		lines := strings.Split(string(existing), "\n")

		startF, _ := args["start"].(float64)
		start := int(startF)
		var newLines []string

		switch kind {
		case "insert_lines":
			text, _ := args["text"].(string)
			if start < 1 || start > len(lines)+1 {
				return nil, fmt.Errorf("%w: start out of range", core.ErrInvalidConfiguration)
			}
			newLines = append(append(append([]string{}, lines[:start-1]...), strings.Split(text, "\n")...), lines[start-1:]...)
		case "delete_lines":
			endF, _ := args["end"].(float64)
			end := int(endF)
			if start < 1 || end > len(lines) || start > end {
				return nil, fmt.Errorf("%w: range out of bounds", core.ErrInvalidConfiguration)
			}
			newLines = append(append([]string{}, lines[:start-1]...), lines[end:]...)
		case "replace_lines":
			endF, _ := args["end"].(float64)
			end := int(endF)
			text, _ := args["text"].(string)
			if start < 1 || end > len(lines) || start > end {
				return nil, fmt.Errorf("%w: range out of bounds", core.ErrInvalidConfiguration)
			}
			newLines = append(append(append([]string{}, lines[:start-1]...), strings.Split(text, "\n")...), lines[end:]...)
		}

		newContent := strings.Join(newLines, "\n")
		oldContent := string(existing)
		diff := unifiedDiff(path, oldContent, newContent)

		branch := ""
		if ws.isVCSWorkspace() {
			branch = branchName(kind)
			if err := gitCheckoutNewBranch(ctx, ws.Root, branch); err != nil {
				return nil, fmt.Errorf("%w: creating feature branch: %v", core.ErrRequestFailed, err)
			}
		}

		if err := os.WriteFile(abs, []byte(newContent), 0o644); err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrRequestFailed, err)
		}

		return map[string]interface{}{"diff": diff, "branch": branch}, nil
	}
}
