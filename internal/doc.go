// Package internal contains the implementation packages of imagepipe.
//
// # Package Organization
//
//   - optimizer: scans villa folders and writes the optimized/ artifacts
//   - imageloader: render state of one progressively loaded photo
//   - server: gallery preview, artifact file server and live reload
//   - watcher: debounced change notifications for source photos
//   - config: viper-backed settings and their validation
//   - validation: path, host and origin checks shared by the above
//   - errors: typed pipeline errors and the per-run error collector
//   - logging: structured logger used everywhere
//   - version: build information
//
// # Naming Contract
//
// The optimizer and the image loader never call each other. They agree on
// file names only: for dir/foo.jpg the optimizer writes
// dir/optimized/foo.webp, dir/optimized/foo-thumbnail.webp and
// dir/optimized/foo.jpg, and the loader derives exactly those URLs.
//
// # Testing Strategy
//
//   - Unit tests next to each package, testify for assertions
//   - gopter properties for URL derivation, naming and path validation
//   - integration_tests (build tag integration) run the server end to end
package internal
