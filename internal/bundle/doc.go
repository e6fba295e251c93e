// Package bundle reads card stacks from disk.
//
// A stack directory holds a manifest (stack.yaml, stack.yml or stack.toml)
// and the entry script it names:
//
//	id: inventory
//	title: Inventory
//	entry: bundle.js
//	cards: cards/**/*.js
//	capabilities:
//	  domain: [inventory]
//	  system: [nav.go, nav.back]
//
// Manifests are validated against an embedded JSON Schema. Scripts may be
// stored gzip or zstd compressed; the format is sniffed from content, not
// the file extension.
package bundle
