//go:build !linux || !(amd64 || arm64)

package sysno

// Host returns ErrNoHostTable; use a builtin or YAML table with the guest kernel instead.
func Host() (*Table, error) {
	return nil, ErrNoHostTable
}
