// Package config defines configuration structures for the chunkline CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (CHUNKLINE_ prefix)
//   - YAML configuration file
//
// Flags override environment variables, which override the file.
//
// # Example
//
//	input: s3://bucket/huge.txt?region=eu-west-1
//	output: results.txt
//	section_size: 1000
//	workers: 8
//	read:
//	  retries: 3
//	  delay: 2s
//	  buffer_size: 1MiB
//	cooldown:
//	  after_lines: 100000
//	  duration: 30s
//	progress_policy: bytes
//	extract:
//	  fields: [0, 3]
package config
