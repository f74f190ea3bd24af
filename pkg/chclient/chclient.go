// Package chclient is the narrow interface onto the database itself: SQL
// execution over HTTP (spec §1 treats the DB client as an external
// collaborator; this package only carries the contract the orchestrators
// need, grounded on the teacher's net/http request style).
package chclient

import (
	"context"
	"time"
)

// Database describes one database known to the DB server.
type Database struct {
	Name    string
	Engine  string
	DDL     string
	Comment string
}

// Table describes one table, independent of its on-disk DDL snapshot.
type Table struct {
	Database     string
	Name         string
	Engine       string
	UUID         string
	IsReplicated bool
	DDLPath      string // local filesystem path of the table's DDL file
}

// Part is one on-disk data part as reported by the DB's system tables.
type Part struct {
	Database string
	Table    string
	Name     string
	DiskName string
	Files    []string
}

// Client is the narrow surface the backup/restore orchestrators need. A
// concrete implementation, HTTPClient, talks HTTP to the DB's query
// interface.
type Client interface {
	Version(ctx context.Context) (string, error)

	Databases(ctx context.Context) ([]Database, error)
	Tables(ctx context.Context, database string) ([]Table, error)
	Parts(ctx context.Context, database, table string) ([]Part, error)

	// DDLMTime returns the modification time of a table's on-disk schema
	// file; the OCC check re-reads this before and after Freeze.
	DDLMTime(ctx context.Context, ddlPath string) (time.Time, error)
	ReadDDL(ctx context.Context, ddlPath string) ([]byte, error)

	// Freeze hard-links a table's current parts into a shadow directory
	// named after backupName; it returns the shadow directory path and the
	// frozen parts. Tolerated to fail if the table was concurrently
	// dropped.
	Freeze(ctx context.Context, database, table, backupName string) (shadowDir string, parts []Part, err error)
	Unfreeze(ctx context.Context, database, table, backupName string) error

	// CreateDatabase / AttachTable / CreateTable / AttachPart are used by
	// restore. AttachTable tries ATTACH TABLE; CreateTable issues CREATE
	// TABLE from ddl.
	CreateDatabase(ctx context.Context, ddl string) error
	AttachTable(ctx context.Context, ddl string) error
	CreateTable(ctx context.Context, ddl string) error
	SchemaMatches(ctx context.Context, database, table, ddl string) (bool, error)

	// TableUUID looks up a table's current uuid, used by restore to find a
	// materialized view's still-present inner storage table by its
	// `.inner_id.<uuid>` name. ok is false when no such table exists.
	TableUUID(ctx context.Context, database, name string) (id string, ok bool, err error)
	RestoreReplica(ctx context.Context, database, table string) error
	AttachPart(ctx context.Context, database, table, partName string) error

	// Disks reports the DB's configured disks, used to find s3-backed
	// cloud-storage disks and to restart a disk after writing a restore
	// marker.
	Disks(ctx context.Context) ([]Disk, error)
	RestartDisk(ctx context.Context, diskName string) error
}

// Disk describes one storage disk configured on the DB server.
type Disk struct {
	Name string
	Type string // "local", "s3", ...
	Path string
}
