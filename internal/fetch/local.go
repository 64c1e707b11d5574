// Package fetch materializes definition sources into per-run working
// directories. Only the local filesystem is supported here; remote sources
// (git and friends) are resolved by outer tooling before this tool runs.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tfconvoy/tfconvoy/internal/core/ports"
	apperrors "github.com/tfconvoy/tfconvoy/internal/errors"
)

// skipDirs are never copied into a working dir: they are either terraform's
// own scratch space or version control metadata.
var skipDirs = map[string]struct{}{
	".terraform": {},
	".git":       {},
}

// LocalFetcher copies a definition's source tree into the working directory.
type LocalFetcher struct {
	logger ports.Logger
}

func NewLocalFetcher(logger ports.Logger) *LocalFetcher {
	return &LocalFetcher{logger: logger.WithFields(map[string]any{"component": "fetch"})}
}

func (f *LocalFetcher) Fetch(ctx context.Context, source, destination string) error {
	info, err := os.Stat(source)
	if err != nil {
		return apperrors.WrapUserFacing(err, apperrors.CodeFetchError,
			fmt.Sprintf("definition source %q is not readable", source),
			"Check the definition's path in your configuration.")
	}
	if !info.IsDir() {
		return apperrors.NewUserFacing(apperrors.CodeFetchError,
			fmt.Sprintf("definition source %q is not a directory", source), "")
	}
	if err := os.MkdirAll(destination, 0o755); err != nil {
		return apperrors.Wrap(err, apperrors.CodeFetchError,
			fmt.Sprintf("failed to create working dir %q", destination))
	}

	err = filepath.WalkDir(source, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if _, skip := skipDirs[entry.Name()]; skip && rel != "." {
				return filepath.SkipDir
			}
			if rel == "." {
				return nil
			}
			return os.MkdirAll(filepath.Join(destination, rel), 0o755)
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		return copyFile(path, filepath.Join(destination, rel))
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeFetchError,
			fmt.Sprintf("failed to copy %q to %q", source, destination))
	}

	f.logger.Debugf(ctx, "copied %s to %s", source, destination)
	return nil
}

func copyFile(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
