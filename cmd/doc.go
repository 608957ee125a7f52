// Package cmd provides the command-line interface for assetpipe.
//
// # Available Commands
//
//   - assetpipe [task...]: run tasks, or the default task when none is named
//   - run: run the named tasks
//   - build: build every asset once and exit non-zero on failure
//   - serve: serve the output directory with live reload
//   - watch: rebuild on source changes without serving
//   - tasks: list the task graph
//   - config: print, validate or create the configuration
//   - version: print build information
//
// # Command Examples
//
//	// Build, serve on port 3000 and rebuild on change
//	assetpipe
//
//	// Production build into public/
//	assetpipe build --dist public
//
//	// Rebuild only the stylesheets and the sprite
//	assetpipe run styles sprite
//
//	// Serve an existing build without opening a browser
//	assetpipe serve --port 8080 --no-open
//
// # Configuration Integration
//
// Commands respect configuration from multiple sources in order of precedence:
//
//  1. Command-line flags (highest priority)
//  2. Environment variables (ASSETPIPE_*)
//  3. Configuration file (.assetpipe.yml)
//  4. Default values (lowest priority)
//
// Tasks are extended or replaced through the task graph file (assetpipe.hcl
// by default).
//
// # Error Handling
//
// While watching, a failing task is logged, raised as a desktop notification
// and shown in connected browsers, and the watcher keeps running. The build
// command stops at the first failure and exits with status 1.
package cmd
