// Package config is a thin os.Getenv reader for the process-wide
// settings cmd/hnswdbd needs at startup: where to open the embedded KV
// store, which port to listen on, and the tenant tag of the running
// instance. cmd/hnswdbd does not use ContractID: it takes the tenant
// from each request's contract_id field.
package config

import "os"

// Config is the process-wide configuration loaded from the environment.
type Config struct {
	// RocksDBPath is the on-disk path for the embedded KV store. The name
	// is a holdover from the ROCKSDB_PATH environment variable; this
	// repo's KV backend is BadgerDB, not RocksDB.
	RocksDBPath string

	// Port is the HTTP port for cmd/hnswdbd.
	Port string

	// ContractID is the tenant tag for the running instance.
	ContractID string
}

// FromEnv reads ROCKSDB_PATH, PORT and CONTRACT_ID from the
// environment, applying defaults for the first two.
func FromEnv() Config {
	return Config{
		RocksDBPath: getEnv("ROCKSDB_PATH", "/tmp/rocksdb"),
		Port:        getEnv("PORT", "8080"),
		ContractID:  os.Getenv("CONTRACT_ID"),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
