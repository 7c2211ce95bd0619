package integrity

import (
	"archive/tar"
	"context"

	"github.com/fgeck/gotar-homelab/internal/models"
	"github.com/fgeck/gotar-homelab/internal/services/pipeline"
)

// VerifyContents decodes the archive and walks its table of contents
// without writing anything. It returns the number of entries read.
func VerifyContents(ctx context.Context, pipe pipeline.Service, path string, compression models.CompressionFormat, unwrap pipeline.Unwrapper) (int, error) {
	entries := 0
	err := pipe.Restore(ctx, pipeline.RestoreRequest{
		ArchivePath: path,
		Compression: compression,
		Unwrap:      unwrap,
		Sink: &pipeline.ListSink{Entry: func(*tar.Header) error {
			entries++
			return nil
		}},
	})
	if err != nil {
		return entries, err
	}
	return entries, nil
}
