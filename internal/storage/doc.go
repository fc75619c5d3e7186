// Package storage persists simulated replication runs on disk, one directory
// per run holding metadata.json and trace.csv.
package storage
