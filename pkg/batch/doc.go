// Package batch runs a pool of workers over a large line-oriented input.
//
// Workers claim fixed-size sections of the input from a shared Reader, hand
// each line to a Processor and record progress and errors in a shared State.
// The Reader survives transient I/O failures by reopening its Source at the
// offset of the last line it fully consumed.
//
// # Usage
//
//	src, err := batch.OpenSource(ctx, "s3://bucket/huge.txt?region=eu-west-1")
//	if err != nil {
//	    return err
//	}
//
//	b, err := batch.New(batch.Config{Workers: 8}, batch.Factories{
//	    Reader: func(ctx context.Context, env *batch.Env) (batch.Reader, error) {
//	        return batch.NewReader(ctx, src, batch.WithSectionSize(1000))
//	    },
//	    State: func(ctx context.Context, env *batch.Env) (batch.State, error) {
//	        size, err := src.Size(ctx)
//	        if err != nil {
//	            return nil, err
//	        }
//	        return batch.NewProgress(batch.ProgressOptions{Total: size, Policy: batch.BytesPolicy})
//	    },
//	    Worker: func(ctx context.Context, env *batch.Env, id int) (batch.Processor, error) {
//	        return newIndexer(), nil
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//
//	summary, err := b.Run(ctx)
//
// # Errors
//
// Every error reported by a worker is a *Error with a Severity. Recoverable
// errors are counted and processing continues. A fatal error stops the
// worker that observed it; other workers keep going. Errors without a
// classification are treated as fatal.
//
// # Sections
//
// A section is last only when the end of input was observed while filling
// it. When the number of lines is an exact multiple of the section size,
// the final full section is followed by an empty last section.
package batch
