package jobs

import (
	"context"
	"fmt"

	chunkhttp "github.com/ligustah/chunkline/internal/http"
	"github.com/ligustah/chunkline/pkg/batch"
)

// OpenInput opens location as a batch.Source. http and https URLs are
// streamed with range requests; anything else is resolved as a
// gocloud.dev bucket location (local path, file://, s3://, gs://).
func OpenInput(ctx context.Context, location string) (batch.Source, error) {
	if location == "" {
		return nil, fmt.Errorf("jobs: no input location")
	}
	if chunkhttp.IsURL(location) {
		return chunkhttp.NewSource(chunkhttp.NewClient(chunkhttp.DefaultOptions()), location), nil
	}
	return batch.OpenSource(ctx, location)
}

// Totals are the sizes of an input.
type Totals struct {
	Lines int64
	Bytes int64
}

// Count measures the input at location with the given reader options.
func Count(ctx context.Context, location string, options ...batch.ReaderOption) (Totals, error) {
	src, err := OpenInput(ctx, location)
	if err != nil {
		return Totals{}, err
	}
	defer src.Close()

	var t Totals
	if t.Bytes, err = src.Size(ctx); err != nil {
		return Totals{}, err
	}
	if t.Lines, err = batch.CountLines(ctx, src, options...); err != nil {
		return Totals{}, err
	}
	return t, nil
}
