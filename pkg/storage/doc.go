/*
Package storage provides vesseld's single-process state store.

It is backed by sqlite via the pure-Go modernc.org/sqlite driver (no cgo),
applied through a single *sql.DB with journal_mode=WAL and foreign_keys
enabled. The schema (schema.sql) is relational: containers, their network
attachments and mounts, networks, IP allocations, volumes, and port mappings
each get their own table with named columns and foreign keys, rather than a
single blob-per-entity KV layout. ListContainers returns every row; callers
filter the result in Go.

Every container row also carries a spec_json column holding the fields that
aren't filtered on directly (Cmd, Env, HostConfig, HealthCheck,
RestartPolicy, accumulated Health log) — promoting only what's queried to its
own column keeps the schema from growing a column per struct field. Phase
and exit code are columns (phase is indexed); the restart policy lives only
in spec_json.

# Usage

	store, err := storage.Open(cfg.DBPath())
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	store.CreateContainer(c)
	containers, err := store.ListContainers()

# Transactions

Multi-row mutations (SetMounts, UpdateVolumeRefCount, NextSubnet) run inside
an explicit sql.Tx so a crash mid-write can't leave mounts half-replaced or
hand out the same subnet twice. Single-row writes rely on sqlite's own
statement-level atomicity.
*/
package storage
