// Package progress provides periodic status reporting and human-readable
// formatting of byte counts and durations.
//
// # Usage
//
//	reporter := progress.NewReporter(state, progress.Options{
//	    Interval: 30 * time.Second,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
// The reporter calls state.LogStatus once on Start and then on every
// interval until Stop returns.
package progress
