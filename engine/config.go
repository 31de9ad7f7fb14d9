package engine

import "time"

// Config holds the engine's tunable options, mirroring spec.md §6's table.
// Host, Port and MaxConnections are carried here only because
// cmd/fdb-server reads them off the same config file; the engine itself
// never looks at them.
type Config struct {
	DataDir       string
	CacheSize     int
	FlushInterval time.Duration
	MaxWorkers    int
	FileExtension string

	Host           string
	Port           int
	MaxConnections int
}

// DefaultConfig returns the configuration the original fdb reference
// ships with (data_dir="./fdb_data", cache_size=10000, flush_interval=5s,
// max_workers=4, file_extension=".fdb", host="localhost", port=6380,
// max_connections=100).
func DefaultConfig() Config {
	return Config{
		DataDir:        "./fdb_data",
		CacheSize:      10000,
		FlushInterval:  5 * time.Second,
		MaxWorkers:     4,
		FileExtension:  ".fdb",
		Host:           "localhost",
		Port:           6380,
		MaxConnections: 100,
	}
}

func (c Config) withDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = "./fdb_data"
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 10000
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 4
	}
	if c.FileExtension == "" {
		c.FileExtension = ".fdb"
	}
	return c
}
