package sysno

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed tables/*.yaml
var builtinFS embed.FS

// HostTarget names the table of the kernel this binary runs on.
const HostTarget = "host"

var (
	// ErrUnknownTarget is returned by Builtin for a name with no compiled-in table.
	ErrUnknownTarget = errors.New("unknown syscall table")
	// ErrNoHostTable is returned by Host on platforms without a compiled-in host table.
	ErrNoHostTable = errors.New("no host syscall table for " + runtime.GOOS + "/" + runtime.GOARCH)
)

// tableFile is the on-disk form of a Table.
type tableFile struct {
	Target    string            `yaml:"target"`
	OpenFlags string            `yaml:"open_flags"`
	Syscalls  map[string]uint64 `yaml:"syscalls"`
}

// Parse decodes a YAML table. Duplicate names are rejected by the decoder.
func Parse(data []byte) (*Table, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f tableFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode syscall table: %w", err)
	}
	if f.Target == "" {
		return nil, errors.New("decode syscall table: missing target")
	}
	if len(f.Syscalls) == 0 {
		return nil, fmt.Errorf("%s: no syscalls", f.Target)
	}
	flags, err := parseFlagLayout(f.OpenFlags)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Target, err)
	}

	entries := make(map[Name]Number, len(f.Syscalls))
	for name, nr := range f.Syscalls {
		entries[Name(name)] = Number(nr)
	}
	t, err := New(f.Target, entries)
	if err != nil {
		return nil, err
	}
	return t.WithOpenFlags(flags), nil
}

// Load reads a YAML table from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read syscall table: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Builtin returns a compiled-in table by target name: "host", "hnx" or "linux-arm64".
func Builtin(target string) (*Table, error) {
	if target == HostTarget {
		return Host()
	}
	data, err := builtinFS.ReadFile("tables/" + target + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%q: %w", target, ErrUnknownTarget)
	}
	return Parse(data)
}

// Resolve picks a table for a configuration value: a builtin target name, or a path to
// a YAML file when the value ends in .yaml or .yml.
func Resolve(spec string) (*Table, error) {
	if strings.HasSuffix(spec, ".yaml") || strings.HasSuffix(spec, ".yml") {
		return Load(spec)
	}
	return Builtin(spec)
}

// Targets lists the compiled-in target names.
func Targets() []string {
	out := []string{HostTarget}
	entries, err := builtinFS.ReadDir("tables")
	if err != nil {
		return out
	}
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(out[1:])
	return out
}
