// Package storage owns the on-disk layout of harvested documents.
//
// Documents are written through a temporary sibling file carrying a
// distinguishing suffix (".part" by default) and renamed into place only
// after a complete, non-empty write. A file at its final path is therefore
// always whole; anything else lives in a temp file that later runs remove.
package storage
