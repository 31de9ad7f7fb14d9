package engine_test

import (
	"fmt"

	"github.com/fastdb-project/fdb/engine"
)

func ExampleNew() {
	cfg := engine.DefaultConfig()
	cfg.DataDir = "/tmp/fdb-example-new"
	cfg.CacheSize = 100

	e, err := engine.New(cfg, engine.NewNopLogger())
	if err != nil {
		fmt.Println(err)
		return
	}
	defer e.FlushDB()

	e.Set("user:1", "Alice")
	value, err := e.Get("user:1")
	if err == nil {
		fmt.Println(value)
	}
	// Output: Alice
}

func ExampleEngine_Set() {
	cfg := engine.DefaultConfig()
	cfg.DataDir = "/tmp/fdb-example-set"
	e, _ := engine.New(cfg, engine.NewNopLogger())
	defer e.FlushDB()

	e.Set("key1", "value1")
	e.Set("key2", map[string]interface{}{"nested": true})

	fmt.Println("values set successfully")
	// Output: values set successfully
}

func ExampleEngine_Get() {
	cfg := engine.DefaultConfig()
	cfg.DataDir = "/tmp/fdb-example-get"
	e, _ := engine.New(cfg, engine.NewNopLogger())
	defer e.FlushDB()

	e.Set("greeting", "Hello, World!")

	value, err := e.Get("greeting")
	if err == nil {
		fmt.Println(value)
	}
	// Output: Hello, World!
}

func ExampleEngine_Keys() {
	cfg := engine.DefaultConfig()
	cfg.DataDir = "/tmp/fdb-example-keys"
	e, _ := engine.New(cfg, engine.NewNopLogger())
	defer e.FlushDB()

	e.Set("user:1", "Alice")
	e.Set("user:2", "Bob")
	e.Set("admin:1", "Root")

	keys, _ := e.Keys("user:*")
	fmt.Println(len(keys))
	// Output: 2
}

func ExampleEngine_Info() {
	cfg := engine.DefaultConfig()
	cfg.DataDir = "/tmp/fdb-example-info"
	e, _ := engine.New(cfg, engine.NewNopLogger())
	defer e.FlushDB()

	e.Set("key1", "value1")
	e.Get("key1")
	e.Get("missing")

	info := e.Info()
	fmt.Printf("hits=%s misses=%s\n", info["hits"], info["misses"])
	// Output: hits=1 misses=1
}

func ExampleEngine_Ping() {
	e, _ := engine.New(engine.Config{DataDir: "/tmp/fdb-example-ping"}, engine.NewNopLogger())
	defer e.FlushDB()

	fmt.Println(e.Ping())
	// Output: PONG
}
