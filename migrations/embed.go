// Package migrations embeds the Gjallarhorn SQL schema and applies it with golang-migrate.
//
// Migrations are embedded at build time so the service binary can bring an empty database
// to the current schema at startup without external files.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
)

var (
	// ErrNoMigrations is returned when the filesystem holds no migration files.
	ErrNoMigrations = errors.New("no embedded migration files found")

	// ErrInvalidFilename is returned for files that do not follow 001_name.(up|down).sql.
	ErrInvalidFilename = errors.New("invalid migration filename")

	// ErrUnpairedMigration is returned when an up migration has no down twin or vice versa.
	ErrUnpairedMigration = errors.New("unpaired migration")

	// ErrSequenceGap is returned when migration sequence numbers skip a value.
	ErrSequenceGap = errors.New("gap in migration sequence")
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filename regex: 001_migration_name.up.sql or 001_migration_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

type (
	// Source wraps a filesystem of migration files and validates its layout.
	Source struct {
		fs fs.FS
	}

	// Info contains parsed information about a migration file.
	Info struct {
		Sequence  int
		Name      string
		Direction string // "up" or "down"
		Filename  string
	}
)

// NewSource creates a Source over the given filesystem. Pass nil to use the embedded schema.
func NewSource(filesystem fs.FS) *Source {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &Source{fs: filesystem}
}

// FS returns the underlying migration filesystem.
func (s *Source) FS() fs.FS {
	return s.fs
}

// List returns the sorted names of all .sql files at the filesystem root.
func (s *Source) List() ([]string, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	files := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if name := entry.Name(); path.Ext(name) == ".sql" {
			files = append(files, name)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks filename format, up/down pairing and sequence continuity.
func (s *Source) Validate() error {
	files, err := s.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	infos := make([]*Info, 0, len(files))

	for _, file := range files {
		info, err := ParseFilename(file)
		if err != nil {
			return err
		}

		infos = append(infos, info)
	}

	if err := validatePairing(infos); err != nil {
		return err
	}

	return validateSequence(infos)
}

// LatestVersion returns the highest sequence number present, or 0 if none parse.
func (s *Source) LatestVersion() int {
	files, err := s.List()
	if err != nil {
		return 0
	}

	latest := 0

	for _, file := range files {
		if info, err := ParseFilename(file); err == nil && info.Sequence > latest {
			latest = info.Sequence
		}
	}

	return latest
}

// ParseFilename parses a migration filename into its components.
func ParseFilename(filename string) (*Info, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 { //nolint: mnd
		return nil, fmt.Errorf("%w: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			ErrInvalidFilename, filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad sequence in %s: %w", ErrInvalidFilename, filename, err)
	}

	return &Info{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

func validatePairing(infos []*Info) error {
	directions := make(map[string]map[string]bool)

	for _, info := range infos {
		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][info.Direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("%w: missing up migration for %s", ErrUnpairedMigration, key)
		}

		if !seen["down"] {
			return fmt.Errorf("%w: missing down migration for %s", ErrUnpairedMigration, key)
		}
	}

	return nil
}

func validateSequence(infos []*Info) error {
	seen := make(map[int]bool)
	sequences := make([]int, 0, len(infos))

	for _, info := range infos {
		if !seen[info.Sequence] {
			seen[info.Sequence] = true
			sequences = append(sequences, info.Sequence)
		}
	}

	sort.Ints(sequences)

	if sequences[0] != 1 {
		return fmt.Errorf("%w: sequence should start with 001, found %03d", ErrSequenceGap, sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if expected := sequences[i-1] + 1; sequences[i] != expected {
			return fmt.Errorf("%w: expected %03d, found %03d", ErrSequenceGap, expected, sequences[i])
		}
	}

	return nil
}
