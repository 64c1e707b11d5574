package cloud

import (
	"context"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/tfconvoy/tfconvoy/internal/errors"
)

// NewGCSClient builds a Cloud Storage client, honoring an optional service
// account credentials file. With no file the default application credentials
// chain applies.
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCloudAuthError, "failed to create Cloud Storage client")
	}
	return client, nil
}
