// Package resultfile writes the results of a batch to a single object in
// cloud storage or on disk.
//
// Workers keep a private [Buffer] and flush it into the shared [Sink] when a
// section completes, so the lines of one section always land together. When
// the batch is done, [Sink.Close] commits the object and [Sink.RemoveIfEmpty]
// drops it again if no worker produced anything.
package resultfile
