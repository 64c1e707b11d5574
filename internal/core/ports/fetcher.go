package ports

import "context"

// SourceFetcher materializes a definition's source tree into a working
// directory before terraform runs there.
type SourceFetcher interface {
	Fetch(ctx context.Context, source, destination string) error
}
