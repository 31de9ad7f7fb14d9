// Package protocol implements the line-oriented text protocol fdb-server
// speaks: one command per line, one response line back. It is adapted from
// the teacher's kvcache usage patterns for the command verbs, but the
// protocol itself is grounded directly in the original fdb reference's
// FDBProtocol.parse_command — SET/GET/DEL/EXISTS/KEYS/DBSIZE/FLUSHDB/PING/INFO
// with the same JSON-first-then-raw-string value convention.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fastdb-project/fdb/engine"
)

// Engine is the subset of *engine.Engine the protocol needs to drive from a
// command line. Declared locally so tests can substitute a fake.
type Engine interface {
	Set(key string, value interface{}) error
	Get(key string) (interface{}, error)
	Delete(key string) (bool, error)
	Exists(key string) (bool, error)
	Keys(pattern string) ([]string, error)
	DBSize() (int, error)
	FlushDB() error
	Info() map[string]string
	Ping() string
}

// HandleLine parses one command line and returns the single response line
// to write back (without a trailing newline; the caller appends it).
func HandleLine(eng Engine, line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "ERROR: Empty command"
	}

	cmd := strings.ToUpper(fields[0])
	switch cmd {
	case "SET":
		return handleSet(eng, fields)
	case "GET":
		return handleGet(eng, fields)
	case "DEL":
		return handleDel(eng, fields)
	case "EXISTS":
		return handleExists(eng, fields)
	case "KEYS":
		return handleKeys(eng, fields)
	case "DBSIZE":
		return handleDBSize(eng, fields)
	case "FLUSHDB":
		return handleFlushDB(eng, fields)
	case "PING":
		return eng.Ping()
	case "INFO":
		return handleInfo(eng, fields)
	default:
		return fmt.Sprintf("ERROR: Unknown command '%s'", cmd)
	}
}

func handleSet(eng Engine, fields []string) string {
	if len(fields) < 3 {
		return "ERROR: Unknown command 'SET'"
	}
	key := fields[1]
	raw := strings.Join(fields[2:], " ")

	var value interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}

	if err := eng.Set(key, value); err != nil {
		return formatError(err)
	}
	return "OK"
}

func handleGet(eng Engine, fields []string) string {
	if len(fields) != 2 {
		return "ERROR: Unknown command 'GET'"
	}
	value, err := eng.Get(fields[1])
	if errors.Is(err, engine.ErrNotFound) {
		return "NULL"
	}
	if err != nil {
		return formatError(err)
	}

	switch value.(type) {
	case map[string]interface{}, []interface{}:
		encoded, err := json.Marshal(value)
		if err != nil {
			return formatError(err)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", value)
	}
}

func handleDel(eng Engine, fields []string) string {
	if len(fields) != 2 {
		return "ERROR: Unknown command 'DEL'"
	}
	ok, err := eng.Delete(fields[1])
	if err != nil {
		return formatError(err)
	}
	if ok {
		return "1"
	}
	return "0"
}

func handleExists(eng Engine, fields []string) string {
	if len(fields) != 2 {
		return "ERROR: Unknown command 'EXISTS'"
	}
	ok, err := eng.Exists(fields[1])
	if err != nil {
		return formatError(err)
	}
	if ok {
		return "1"
	}
	return "0"
}

func handleKeys(eng Engine, fields []string) string {
	pattern := "*"
	if len(fields) > 1 {
		pattern = fields[1]
	}
	keys, err := eng.Keys(pattern)
	if err != nil {
		return formatError(err)
	}
	if keys == nil {
		keys = []string{}
	}
	encoded, err := json.Marshal(keys)
	if err != nil {
		return formatError(err)
	}
	return string(encoded)
}

func handleDBSize(eng Engine, fields []string) string {
	size, err := eng.DBSize()
	if err != nil {
		return formatError(err)
	}
	return strconv.Itoa(size)
}

func handleFlushDB(eng Engine, fields []string) string {
	if err := eng.FlushDB(); err != nil {
		return formatError(err)
	}
	return "OK"
}

func handleInfo(eng Engine, fields []string) string {
	info := eng.Info()
	parts := make([]string, 0, len(info))
	for k, v := range info {
		parts = append(parts, fmt.Sprintf("%s:%s", k, v))
	}
	return strings.Join(parts, " ")
}

func formatError(err error) string {
	return fmt.Sprintf("ERROR: %s", err)
}
