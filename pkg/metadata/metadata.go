// Package metadata holds the in-memory and on-disk representation of a
// backup: state, tables, parts, sizes, timestamps and cloud-storage refs
// (spec §3, §4.6).
package metadata

import (
	"encoding/json"
	"time"
)

// CurrentMetaVersion is written to every serialized Backup. Unknown trailing
// fields on load are preserved in Backup.extra but ignored semantically.
const CurrentMetaVersion = 1

// State is the lifecycle state of a Backup.
type State string

const (
	StateCreating         State = "creating"
	StateCreated          State = "created"
	StateDeleting         State = "deleting"
	StatePartiallyDeleted State = "partially_deleted"
	StateFailed           State = "failed"
)

// CloudStorage records which disks of type s3 had their shadow tree backed
// up, and whether that backup was encrypted.
type CloudStorage struct {
	Disks     []string `json:"disks,omitempty"`
	Encrypted bool     `json:"encrypted,omitempty"`
}

// PartMetadata is one data part within a TableMetadata (spec §3).
type PartMetadata struct {
	Database  string   `json:"database"`
	Table     string   `json:"table"`
	Name      string   `json:"name"`
	Checksum  string   `json:"checksum"`
	Size      int64    `json:"size"`
	Files     []string `json:"files"`
	Tarball   bool     `json:"tarball"`
	DiskName  string   `json:"disk_name"`
	Link      string   `json:"link,omitempty"`
	Encrypted bool     `json:"encrypted"`
}

// IsLink reports whether this part's bytes live in another backup's storage.
func (p PartMetadata) IsLink() bool { return p.Link != "" }

// TableMetadata is one table's schema reference and ordered part list.
type TableMetadata struct {
	Database string         `json:"database"`
	Name     string         `json:"name"`
	Engine   string         `json:"engine"`
	UUID     string         `json:"uuid,omitempty"`
	Parts    []PartMetadata `json:"parts"`
}

// Size sums the sizes of all non-link parts owned directly by this table.
func (t TableMetadata) Size() int64 {
	var total int64
	for _, p := range t.Parts {
		if !p.IsLink() {
			total += p.Size
		}
	}
	return total
}

// RealSize sums the sizes of all parts, including those reached via a link.
func (t TableMetadata) RealSize() int64 {
	var total int64
	for _, p := range t.Parts {
		total += p.Size
	}
	return total
}

// Backup is the full metadata document for one backup (spec §3).
type Backup struct {
	MetaVersion int               `json:"meta.version"`
	Name        string            `json:"name"`
	Path        string            `json:"path"`
	State       State             `json:"state"`
	StartTime   time.Time         `json:"start_time"`
	EndTime     time.Time         `json:"end_time,omitempty"`
	Hostname    string            `json:"hostname"`
	DBVersion   string            `json:"db_version"`
	SchemaOnly  bool              `json:"schema_only"`
	Encrypted   bool              `json:"encrypted"`
	Labels      map[string]string `json:"labels,omitempty"`
	Tables      []TableMetadata   `json:"tables"`

	CloudStorage CloudStorage     `json:"cloud_storage"`
	S3Revisions  map[string]int64 `json:"s3_revisions,omitempty"`

	extra map[string]json.RawMessage
}

// NewBackup constructs a fresh Backup in the CREATING state.
func NewBackup(name, path, hostname, dbVersion string, schemaOnly, encrypted bool, labels map[string]string) *Backup {
	return &Backup{
		MetaVersion: CurrentMetaVersion,
		Name:        name,
		Path:        path,
		State:       StateCreating,
		StartTime:   time.Now().UTC(),
		Hostname:    hostname,
		DBVersion:   dbVersion,
		SchemaOnly:  schemaOnly,
		Encrypted:   encrypted,
		Labels:      labels,
	}
}

// Size is the total size of every non-link part across every table.
func (b *Backup) Size() int64 {
	var total int64
	for _, t := range b.Tables {
		total += t.Size()
	}
	return total
}

// RealSize is the total size of every part, including dedup-linked ones.
func (b *Backup) RealSize() int64 {
	var total int64
	for _, t := range b.Tables {
		total += t.RealSize()
	}
	return total
}

// Table returns the TableMetadata for (database, name), and whether found.
func (b *Backup) Table(database, name string) (*TableMetadata, bool) {
	for i := range b.Tables {
		if b.Tables[i].Database == database && b.Tables[i].Name == name {
			return &b.Tables[i], true
		}
	}
	return nil, false
}

// AppendTable appends or replaces a table's metadata, preserving freeze
// order of the tables already present.
func (b *Backup) AppendTable(t TableMetadata) {
	for i := range b.Tables {
		if b.Tables[i].Database == t.Database && b.Tables[i].Name == t.Name {
			b.Tables[i] = t
			return
		}
	}
	b.Tables = append(b.Tables, t)
}

// MarshalJSON round-trips any unknown top-level fields seen on load.
func (b *Backup) MarshalJSON() ([]byte, error) {
	type alias Backup
	base, err := json.Marshal((*alias)(b))
	if err != nil {
		return nil, err
	}
	if len(b.extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for k, v := range b.extra {
		if _, known := merged[k]; !known {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes a Backup, stashing any field it does not recognize
// so re-serializing stays byte-stable for forward-compatible readers.
func (b *Backup) UnmarshalJSON(data []byte) error {
	type alias Backup
	if err := json.Unmarshal(data, (*alias)(b)); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := knownBackupFields()
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !known[k] {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		b.extra = extra
	}
	return nil
}

func knownBackupFields() map[string]bool {
	return map[string]bool{
		"meta.version": true, "name": true, "path": true, "state": true,
		"start_time": true, "end_time": true, "hostname": true, "db_version": true,
		"schema_only": true, "encrypted": true, "labels": true, "tables": true,
		"cloud_storage": true, "s3_revisions": true,
	}
}

// Encode serializes the backup as indented JSON (used for `show`).
func (b *Backup) Encode() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// Decode parses a backup_struct.json document.
func Decode(data []byte) (*Backup, error) {
	var b Backup
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
