package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	DefaultReadOffset  = 1
	DefaultReadLimit   = 2000
	MaxBatchFiles      = 20
	MaxBatchTotalLines = 50000

	maxLineLength = 500
	tabWidth      = 4
)

// ReadMode selects how a file is read.
type ReadMode string

const (
	ReadModeSlice       ReadMode = "slice"
	ReadModeIndentation ReadMode = "indentation"
)

// IndentationArgs select a block of code around an anchor line by
// indentation.
type IndentationArgs struct {
	AnchorLine      int   `json:"anchor_line,omitempty" jsonschema_description:"Line to center on; defaults to offset"`
	MaxLevels       int   `json:"max_levels,omitempty" jsonschema_description:"Enclosing levels to climb above the anchor's block"`
	IncludeSiblings bool  `json:"include_siblings,omitempty" jsonschema_description:"Include sibling blocks of the anchor's block"`
	IncludeHeader   *bool `json:"include_header,omitempty" jsonschema_description:"Include the line that opens the block; defaults to true"`
	MaxLines        int   `json:"max_lines,omitempty" jsonschema_description:"Upper bound on returned lines"`
}

// BatchPathSpec is one requested path or glob pattern. Unset options fall
// back to the request-level ones.
type BatchPathSpec struct {
	Path        string           `json:"path" jsonschema_description:"File path or glob pattern, relative to the working directory"`
	Offset      *int             `json:"offset,omitempty"`
	Limit       *int             `json:"limit,omitempty"`
	Mode        ReadMode         `json:"mode,omitempty" jsonschema:"enum=slice,enum=indentation"`
	Indentation *IndentationArgs `json:"indentation,omitempty"`
}

// BatchReadArgs are the arguments of batches_read_file.
type BatchReadArgs struct {
	Paths       []BatchPathSpec  `json:"paths"`
	Offset      *int             `json:"offset,omitempty" jsonschema_description:"1-indexed first line; defaults to 1"`
	Limit       *int             `json:"limit,omitempty" jsonschema_description:"Maximum lines per file; defaults to 2000"`
	Mode        ReadMode         `json:"mode,omitempty" jsonschema:"enum=slice,enum=indentation"`
	Indentation *IndentationArgs `json:"indentation,omitempty"`
}

// BatchReadEntry reports one file of a batch.
type BatchReadEntry struct {
	Path    string   `json:"path"`
	Success bool     `json:"success"`
	Lines   []string `json:"lines"`
	Error   string   `json:"error,omitempty"`
}

// BatchReadResult is the JSON body returned to the model.
type BatchReadResult struct {
	TotalLines int              `json:"total_lines"`
	Files      []BatchReadEntry `json:"files"`
}

// BatchReadSpec describes batches_read_file.
func BatchReadSpec() ToolSpec {
	return ToolSpec{
		Name: "batches_read_file",
		Description: "Reads several files, or every file matching a glob pattern, in one call. " +
			"Lines are returned as \"L<n>: text\".",
		Parameters: SchemaFor[BatchReadArgs](),
	}
}

// BatchReadHandler reads many files at once under a file count and a total
// line budget. Zero fields select the package defaults.
type BatchReadHandler struct {
	functionHandler
	MaxFiles      int
	MaxTotalLines int
}

type readOptions struct {
	offset      int
	limit       int
	mode        ReadMode
	indentation IndentationArgs
}

// resolution is one file to read, or the reason it cannot be.
type resolution struct {
	display string
	path    string
	opts    readOptions
	err     string
}

func (h BatchReadHandler) Handle(_ context.Context, inv ToolInvocation) (ToolOutput, error) {
	if inv.Payload.Type != PayloadFunction {
		return ToolOutput{}, RespondToModel(inv.Turn.T("batches_read_file.error.unsupported_payload"))
	}
	args, err := parseArguments[BatchReadArgs](inv)
	if err != nil {
		return ToolOutput{}, err
	}
	if len(args.Paths) == 0 {
		return ToolOutput{}, RespondToModel(inv.Turn.T("batches_read_file.error.empty_paths"))
	}
	defaults := readOptions{offset: DefaultReadOffset, limit: DefaultReadLimit, mode: ReadModeSlice}
	if args.Offset != nil {
		if *args.Offset < 1 {
			return ToolOutput{}, RespondToModel(inv.Turn.T("batches_read_file.error.invalid_offset"))
		}
		defaults.offset = *args.Offset
	}
	if args.Limit != nil {
		if *args.Limit < 1 {
			return ToolOutput{}, RespondToModel(inv.Turn.T("batches_read_file.error.invalid_limit"))
		}
		defaults.limit = *args.Limit
	}
	if args.Mode != "" {
		defaults.mode = args.Mode
	}
	if args.Indentation != nil {
		defaults.indentation = *args.Indentation
	}

	maxFiles := h.MaxFiles
	if maxFiles <= 0 {
		maxFiles = MaxBatchFiles
	}
	maxLines := h.MaxTotalLines
	if maxLines <= 0 {
		maxLines = MaxBatchTotalLines
	}

	res := expandPathSpecs(inv.Turn, args.Paths, defaults)
	applyFileLimit(inv.Turn, res, maxFiles)
	result := readResolutions(inv.Turn, res, maxLines)

	data, err := json.Marshal(result)
	if err != nil {
		return ToolOutput{}, Fatal(fmt.Sprintf("encode batches_read_file result: %v", err))
	}
	for _, f := range result.Files {
		if !f.Success {
			return Failed(string(data)), nil
		}
	}
	return Succeeded(string(data)), nil
}

func expandPathSpecs(turn TurnInfo, specs []BatchPathSpec, defaults readOptions) []resolution {
	var out []resolution
	for _, spec := range specs {
		opts := defaults
		if spec.Mode != "" {
			opts.mode = spec.Mode
		}
		if spec.Indentation != nil {
			opts.indentation = *spec.Indentation
		}
		if spec.Offset != nil {
			if *spec.Offset < 1 {
				out = append(out, resolution{display: spec.Path, err: turn.T("batches_read_file.error.file_invalid_offset", "path", spec.Path)})
				continue
			}
			opts.offset = *spec.Offset
		}
		if spec.Limit != nil {
			if *spec.Limit < 1 {
				out = append(out, resolution{display: spec.Path, err: turn.T("batches_read_file.error.file_invalid_limit", "path", spec.Path)})
				continue
			}
			opts.limit = *spec.Limit
		}

		if strings.ContainsAny(spec.Path, "*?[") {
			out = append(out, expandGlob(turn, spec.Path, opts)...)
			continue
		}

		abs := resolvePath(turn.Cwd, spec.Path)
		info, err := os.Stat(abs)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			out = append(out, resolution{display: spec.Path, err: turn.T("batches_read_file.error.file_not_found", "path", spec.Path)})
		case err != nil:
			out = append(out, resolution{display: spec.Path, err: err.Error()})
		case !info.Mode().IsRegular():
			out = append(out, resolution{display: spec.Path, err: turn.T("batches_read_file.error.not_file", "path", spec.Path)})
		default:
			out = append(out, resolution{display: spec.Path, path: abs, opts: opts})
		}
	}
	return out
}

func expandGlob(turn TurnInfo, pattern string, opts readOptions) []resolution {
	abs := resolvePath(turn.Cwd, pattern)
	if !doublestar.ValidatePathPattern(abs) {
		return []resolution{{display: pattern, err: turn.T("batches_read_file.error.invalid_pattern", "pattern", pattern)}}
	}
	matches, err := doublestar.FilepathGlob(abs, doublestar.WithFilesOnly())
	if err != nil {
		return []resolution{{display: pattern, err: turn.T("batches_read_file.error.invalid_pattern", "pattern", pattern)}}
	}
	if len(matches) == 0 {
		return []resolution{{display: pattern, err: turn.T("batches_read_file.error.no_matches", "pattern", pattern)}}
	}
	sort.Strings(matches)
	out := make([]resolution, 0, len(matches))
	for _, m := range matches {
		display := m
		if !filepath.IsAbs(pattern) {
			if rel, err := filepath.Rel(turn.Cwd, m); err == nil {
				display = rel
			}
		}
		out = append(out, resolution{display: display, path: m, opts: opts})
	}
	return out
}

func applyFileLimit(turn TurnInfo, res []resolution, maxFiles int) {
	for i := maxFiles; i < len(res); i++ {
		res[i] = resolution{
			display: res[i].display,
			err:     turn.T("batches_read_file.error.file_limit_exceeded", "path", res[i].display),
		}
	}
}

func readResolutions(turn TurnInfo, res []resolution, maxTotal int) BatchReadResult {
	result := BatchReadResult{Files: make([]BatchReadEntry, 0, len(res))}
	for _, r := range res {
		entry := BatchReadEntry{Path: r.display, Lines: []string{}}
		if r.err != "" {
			entry.Error = r.err
			result.Files = append(result.Files, entry)
			continue
		}
		remaining := maxTotal - result.TotalLines
		if remaining <= 0 {
			entry.Error = turn.T("batches_read_file.error.total_line_limit", "path", r.display)
			result.Files = append(result.Files, entry)
			continue
		}
		effective := min(r.opts.limit, remaining)

		var (
			lines []string
			err   error
		)
		if r.opts.mode == ReadModeIndentation {
			lines, err = readIndentationBlock(r.path, r.opts.offset, effective, r.opts.indentation)
		} else {
			lines, err = readSlice(r.path, r.opts.offset, effective)
		}
		if errors.Is(err, errOffsetPastEnd) {
			entry.Error = turn.T("batches_read_file.error.offset_past_end", "path", r.display)
			result.Files = append(result.Files, entry)
			continue
		}
		if err != nil {
			entry.Error = err.Error()
			result.Files = append(result.Files, entry)
			continue
		}

		entry.Lines = lines
		result.TotalLines += len(lines)
		if effective < r.opts.limit && len(lines) == effective && result.TotalLines >= maxTotal {
			entry.Error = turn.T("batches_read_file.error.total_line_limit", "path", r.display)
		} else {
			entry.Success = true
		}
		result.Files = append(result.Files, entry)
	}
	return result
}

var errOffsetPastEnd = errors.New("offset exceeds file length")

func resolvePath(cwd, p string) string {
	if filepath.IsAbs(p) || cwd == "" {
		return p
	}
	return filepath.Join(cwd, p)
}

func readAllLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, strings.TrimSuffix(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

func formatLine(n int, text string) string {
	if len(text) > maxLineLength {
		cut := maxLineLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return fmt.Sprintf("L%d: %s", n, text)
}

func readSlice(path string, offset, limit int) ([]string, error) {
	lines, err := readAllLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return []string{}, nil
	}
	if offset > len(lines) {
		return nil, errOffsetPastEnd
	}
	end := min(len(lines), offset-1+limit)
	out := make([]string, 0, end-offset+1)
	for i := offset - 1; i < end; i++ {
		out = append(out, formatLine(i+1, lines[i]))
	}
	return out, nil
}
