package chclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/chbackup/chbackup/pkg/errs"
	"github.com/chbackup/chbackup/pkg/log"
)

// HTTPClient implements Client against the DB's HTTP query interface.
type HTTPClient struct {
	baseURL string
	user    string
	pass    string
	http    *http.Client
}

// NewHTTPClient builds a client for protocol://host:port.
func NewHTTPClient(protocol, host string, port int, user, pass string, insecure bool) *HTTPClient {
	return &HTTPClient{
		baseURL: fmt.Sprintf("%s://%s:%d", protocol, host, port),
		user:    user,
		pass:    pass,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *HTTPClient) query(ctx context.Context, sql string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBufferString(sql))
	if err != nil {
		return nil, errs.DB("build request", err)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.DB("execute query", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.WithComponent("chclient").Warn().Err(cerr).Msg("closing response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.DB("read response body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errs.DB("query", fmt.Errorf("status %d: %s", resp.StatusCode, string(body)))
	}
	return body, nil
}

func (c *HTTPClient) queryJSON(ctx context.Context, sql string, out interface{}) error {
	body, err := c.query(ctx, sql+" FORMAT JSON")
	if err != nil {
		return err
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errs.DB("decode JSON envelope", err)
	}
	return json.Unmarshal(envelope.Data, out)
}

func (c *HTTPClient) Version(ctx context.Context) (string, error) {
	body, err := c.query(ctx, "SELECT version()")
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(body)), nil
}

func (c *HTTPClient) Databases(ctx context.Context) ([]Database, error) {
	var rows []struct {
		Name   string `json:"name"`
		Engine string `json:"engine"`
	}
	if err := c.queryJSON(ctx, "SELECT name, engine FROM system.databases", &rows); err != nil {
		return nil, err
	}
	out := make([]Database, 0, len(rows))
	for _, r := range rows {
		out = append(out, Database{Name: r.Name, Engine: r.Engine})
	}
	return out, nil
}

func (c *HTTPClient) Tables(ctx context.Context, database string) ([]Table, error) {
	var rows []struct {
		Database     string `json:"database"`
		Name         string `json:"name"`
		Engine       string `json:"engine"`
		UUID         string `json:"uuid"`
		MetadataPath string `json:"metadata_path"`
	}
	sql := fmt.Sprintf("SELECT database, name, engine, uuid, metadata_path FROM system.tables WHERE database = '%s'", database)
	if err := c.queryJSON(ctx, sql, &rows); err != nil {
		return nil, err
	}
	out := make([]Table, 0, len(rows))
	for _, r := range rows {
		out = append(out, Table{
			Database:     r.Database,
			Name:         r.Name,
			Engine:       r.Engine,
			UUID:         r.UUID,
			IsReplicated: isReplicatedEngine(r.Engine),
			DDLPath:      r.MetadataPath,
		})
	}
	return out, nil
}

func isReplicatedEngine(engine string) bool {
	return len(engine) >= 10 && engine[:10] == "Replicated"
}

func (c *HTTPClient) Parts(ctx context.Context, database, table string) ([]Part, error) {
	var rows []struct {
		Database string `json:"database"`
		Table    string `json:"table"`
		Name     string `json:"name"`
		DiskName string `json:"disk_name"`
	}
	sql := fmt.Sprintf("SELECT database, table, name, disk_name FROM system.parts "+
		"WHERE active AND database = '%s' AND table = '%s'", database, table)
	if err := c.queryJSON(ctx, sql, &rows); err != nil {
		return nil, err
	}
	out := make([]Part, 0, len(rows))
	for _, r := range rows {
		out = append(out, Part{Database: r.Database, Table: r.Table, Name: r.Name, DiskName: r.DiskName})
	}
	return out, nil
}

func (c *HTTPClient) DDLMTime(_ context.Context, ddlPath string) (time.Time, error) {
	info, err := os.Stat(ddlPath)
	if err != nil {
		return time.Time{}, errs.DB("stat ddl file", err)
	}
	return info.ModTime(), nil
}

func (c *HTTPClient) ReadDDL(_ context.Context, ddlPath string) ([]byte, error) {
	data, err := os.ReadFile(ddlPath)
	if err != nil {
		return nil, errs.DB("read ddl file", err)
	}
	return data, nil
}

func (c *HTTPClient) Freeze(ctx context.Context, database, table, backupName string) (string, []Part, error) {
	sql := fmt.Sprintf("ALTER TABLE `%s`.`%s` FREEZE WITH NAME '%s'", database, table, backupName)
	if _, err := c.query(ctx, sql); err != nil {
		return "", nil, errs.DB("freeze table", err)
	}
	parts, err := c.Parts(ctx, database, table)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("shadow/%s/%s/%s", backupName, database, table), parts, nil
}

func (c *HTTPClient) Unfreeze(ctx context.Context, database, table, backupName string) error {
	sql := fmt.Sprintf("SYSTEM UNFREEZE WITH NAME '%s'", backupName)
	_, err := c.query(ctx, sql)
	if err != nil {
		return errs.DB(fmt.Sprintf("unfreeze %s.%s", database, table), err)
	}
	return nil
}

func (c *HTTPClient) CreateDatabase(ctx context.Context, ddl string) error {
	_, err := c.query(ctx, ddl)
	return errs.DB("create database", err)
}

func (c *HTTPClient) AttachTable(ctx context.Context, ddl string) error {
	_, err := c.query(ctx, attachify(ddl))
	return err
}

func (c *HTTPClient) CreateTable(ctx context.Context, ddl string) error {
	_, err := c.query(ctx, ddl)
	return err
}

// attachify rewrites a leading "CREATE TABLE" into "ATTACH TABLE" so restore
// can try to reattach existing on-disk data before falling back to CREATE.
func attachify(ddl string) string {
	const from = "CREATE TABLE"
	const to = "ATTACH TABLE"
	if len(ddl) >= len(from) && ddl[:len(from)] == from {
		return to + ddl[len(from):]
	}
	return ddl
}

func (c *HTTPClient) TableUUID(ctx context.Context, database, name string) (string, bool, error) {
	var rows []struct {
		UUID string `json:"uuid"`
	}
	sql := fmt.Sprintf("SELECT uuid FROM system.tables WHERE database = '%s' AND name = '%s'", database, name)
	if err := c.queryJSON(ctx, sql, &rows); err != nil {
		return "", false, err
	}
	if len(rows) == 0 || rows[0].UUID == "" {
		return "", false, nil
	}
	return rows[0].UUID, true, nil
}

func (c *HTTPClient) SchemaMatches(ctx context.Context, database, table, ddl string) (bool, error) {
	var rows []struct {
		Statement string `json:"create_table_query"`
	}
	sql := fmt.Sprintf("SELECT create_table_query FROM system.tables WHERE database = '%s' AND name = '%s'", database, table)
	if err := c.queryJSON(ctx, sql, &rows); err != nil {
		return false, err
	}
	if len(rows) == 0 {
		return false, nil
	}
	return canonicalize(rows[0].Statement) == canonicalize(ddl), nil
}

func canonicalize(ddl string) string {
	var b bytes.Buffer
	lastSpace := false
	for _, r := range ddl {
		if r == ' ' || r == '\n' || r == '\t' {
			if !lastSpace {
				b.WriteByte(' ')
			}
			lastSpace = true
			continue
		}
		lastSpace = false
		b.WriteRune(r)
	}
	return string(bytes.TrimSpace(b.Bytes()))
}

func (c *HTTPClient) RestoreReplica(ctx context.Context, database, table string) error {
	sql := fmt.Sprintf("SYSTEM RESTORE REPLICA `%s`.`%s`", database, table)
	_, err := c.query(ctx, sql)
	return errs.DB(fmt.Sprintf("restore replica %s.%s", database, table), err)
}

func (c *HTTPClient) AttachPart(ctx context.Context, database, table, partName string) error {
	sql := fmt.Sprintf("ALTER TABLE `%s`.`%s` ATTACH PART '%s'", database, table, partName)
	_, err := c.query(ctx, sql)
	return errs.DB(fmt.Sprintf("attach part %s into %s.%s", partName, database, table), err)
}

func (c *HTTPClient) Disks(ctx context.Context) ([]Disk, error) {
	var rows []struct {
		Name string `json:"name"`
		Type string `json:"type"`
		Path string `json:"path"`
	}
	if err := c.queryJSON(ctx, "SELECT name, type, path FROM system.disks", &rows); err != nil {
		return nil, err
	}
	out := make([]Disk, 0, len(rows))
	for _, r := range rows {
		out = append(out, Disk{Name: r.Name, Type: r.Type, Path: r.Path})
	}
	return out, nil
}

func (c *HTTPClient) RestartDisk(ctx context.Context, diskName string) error {
	sql := fmt.Sprintf("SYSTEM RESTART DISK `%s`", diskName)
	_, err := c.query(ctx, sql)
	return errs.DB(fmt.Sprintf("restart disk %s", diskName), err)
}

var _ Client = (*HTTPClient)(nil)
