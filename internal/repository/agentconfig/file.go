package agentconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/oshokin/agent-deploy/internal/config"
)

// Entry is a single key=value line of the agent configuration file.
type Entry struct {
	// Key is the entry name, e.g. "InstallToken".
	Key string
	// Value is the entry value. The agent treats it as an opaque string.
	Value string
}

// Repository defines persistence operations for the agent configuration file.
type Repository interface {
	Write(ctx context.Context, entries []Entry) error
	Read(ctx context.Context) ([]Entry, error)
}

// FileRepository writes the agent configuration file the installed agent
// reads at startup. The format is fixed by the agent: one key=value pair per
// line, no quoting, no comments.
type FileRepository struct {
	// path is the filesystem location of the configuration file.
	path string
	// mu protects concurrent access to the file.
	mu sync.Mutex
}

const (
	// dirPermissions is used when creating the install root.
	dirPermissions = 0o755

	// tmpPattern names the temporary file used for atomic writes.
	tmpPattern = ".agent-config-*"
)

var (
	// ErrNotFound is returned when the configuration file does not exist yet.
	ErrNotFound = errors.New("agent configuration not found")
	// errBadKey is returned for keys the key=value format cannot carry.
	errBadKey = errors.New("entry key must not be empty or contain '=' or newlines")
	// errBadValue is returned for values the key=value format cannot carry.
	errBadValue = errors.New("entry value must not contain newlines")
	// errBadLine is returned when a file line is not a key=value pair.
	errBadLine = errors.New("malformed configuration line")
)

// NewFileRepository creates a repository for the configuration file at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Write renders the entries and atomically replaces the configuration file.
// The parent directory is created if missing. The file is written with
// restricted permissions because it carries the registration token.
func (r *FileRepository) Write(_ context.Context, entries []Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := render(entries)
	if err != nil {
		return err
	}

	dir := filepath.Dir(r.path)
	if err = os.MkdirAll(dir, dirPermissions); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	// Write to a temporary file in the same directory, then rename, so the
	// agent never observes a partially written file.
	tmp, err := os.CreateTemp(dir, tmpPattern)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err = tmp.WriteString(contents); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("write agent configuration: %w", err)
	}

	if err = tmp.Chmod(config.DefaultFilePermissions); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("restrict permissions: %w", err)
	}

	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("close temporary file: %w", err)
	}

	if err = os.Rename(tmpName, r.path); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("replace agent configuration: %w", err)
	}

	return nil
}

// Read parses the configuration file back into entries.
func (r *FileRepository) Read(_ context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read agent configuration: %w", err)
	}

	return parse(string(contents))
}

// render produces the exact file contents for the provided entries.
func render(entries []Entry) (string, error) {
	var builder strings.Builder

	for _, entry := range entries {
		if err := validate(entry); err != nil {
			return "", err
		}

		builder.WriteString(entry.Key)
		builder.WriteString("=")
		builder.WriteString(entry.Value)
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

// parse splits file contents into entries, skipping blank lines.
func parse(contents string) ([]Entry, error) {
	lines := strings.Split(contents, "\n")
	entries := make([]Entry, 0, len(lines))

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("%q: %w", line, errBadLine)
		}

		entries = append(entries, Entry{Key: key, Value: value})
	}

	return entries, nil
}

// validate rejects entries the flat key=value format cannot represent.
func validate(entry Entry) error {
	if entry.Key == "" || strings.ContainsAny(entry.Key, "=\n") {
		return fmt.Errorf("%q: %w", entry.Key, errBadKey)
	}

	if strings.Contains(entry.Value, "\n") {
		return fmt.Errorf("value of %q: %w", entry.Key, errBadValue)
	}

	return nil
}

// Lookup returns the value of the first entry with the provided key.
func Lookup(entries []Entry, key string) (string, bool) {
	for _, entry := range entries {
		if entry.Key == key {
			return entry.Value, true
		}
	}

	return "", false
}
