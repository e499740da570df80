// Package http streams remote text inputs over HTTP.
//
// This package handles:
//   - HEAD requests to get file size and ETag
//   - Open-ended range requests to resume at a byte offset
//   - Retry with exponential backoff on server and transport errors
//   - ETag validation across reopens
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//	src := http.NewSource(client, "https://example.com/huge.txt")
//
//	r, err := batch.NewReader(ctx, src, batch.WithSectionSize(1000))
//
// A 416 response at a resume offset means the file shrank and surfaces as
// batch.ErrSourceTruncated, unless the offset is exactly the file size.
package http
