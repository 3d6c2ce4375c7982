// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a SQLite connection pool with standard
// pragmas for the two ways rattrap uses SQLite: building an archive
// and reading a finished one.
//
// The pool wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers
// [Pool.Take] a connection, perform work, and [Pool.Put] it back.
// Connections are NOT safe for concurrent use.
//
// # Read-write pools
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: the builder commits batches without blocking
//     its own progress reporting reads.
//   - synchronous=NORMAL: transactions survive process crashes. A
//     build that dies mid-way is discarded anyway.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock.
//   - foreign_keys=OFF: file entries reference chunks by id inside a
//     JSON array, which SQLite cannot constrain.
//   - cache_size=-8192: 8 MB page cache per connection.
//   - temp_store=MEMORY.
//
// # Read-only pools
//
// [Config.ReadOnly] opens the file through a "mode=ro&immutable=1"
// URI. SQLite then does no locking and never touches the journal, so
// any number of processes can serve the same archive file. Connections
// additionally set query_only and a 256 MB mmap window.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:     "photos.rat",
//	    ReadOnly: true,
//	    Logger:   logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	conn, err := pool.Take(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Put(conn)
package sqlitepool
