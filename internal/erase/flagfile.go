package erase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FlagFileProvider requests an erase by dropping a marker file that the boot sequence
// acts on before mounting the partition.
type FlagFileProvider struct {
	Dir string
}

// OpenFlagFileProvider checks that dir is a writable directory.
func OpenFlagFileProvider(dir string) ProviderOpener {
	return func() (Provider, error) {
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("open erase flag directory: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("erase flag path %s is not a directory", dir)
		}
		return &FlagFileProvider{Dir: dir}, nil
	}
}

// FlagPath is the marker written for t.
func (p *FlagFileProvider) FlagPath(t Type) string {
	return filepath.Join(p.Dir, "erase-"+t.String())
}

func (p *FlagFileProvider) ErasePartition(ctx context.Context, t Type) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	return os.WriteFile(p.FlagPath(t), []byte(stamp), 0o600)
}
