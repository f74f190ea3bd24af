package main

import (
	"context"
	"fmt"

	"github.com/chbackup/chbackup/pkg/chclient"
	"github.com/chbackup/chbackup/pkg/errs"
	"github.com/chbackup/chbackup/pkg/layout"
	"github.com/chbackup/chbackup/pkg/metadata"
	"github.com/chbackup/chbackup/pkg/objstorage"
	"github.com/chbackup/chbackup/pkg/zkclient"
)

// lastBackupName is the special name "show", "restore", and "delete" accept
// in place of an explicit backup name.
const lastBackupName = "LAST"

// resolveBackupName resolves the LAST sentinel to the most recently started
// CREATED backup; any other name passes through unchanged.
func resolveBackupName(ctx context.Context, a *app, name string) (string, error) {
	if name != lastBackupName {
		return name, nil
	}
	backups, err := a.layout.GetBackups(ctx, func(s metadata.State) bool { return s == metadata.StateCreated })
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", errs.NotFound("no backups")
	}
	return backups[len(backups)-1].Name, nil
}

// app bundles the wired collaborators a subcommand needs; built fresh per
// invocation from the merged config.
type app struct {
	db     chclient.Client
	store  *objstorage.Store
	layout *layout.Layout
	zk     *zkclient.Client
}

func newApp(ctx context.Context) (*app, error) {
	db := chclient.NewHTTPClient(
		cfg.ClickHouse.Protocol,
		cfg.ClickHouse.Host,
		cfg.ClickHouse.Port,
		cfg.ClickHouse.Username,
		cfg.ClickHouse.Password,
		cfg.ClickHouse.Insecure,
	)

	store, err := objstorage.New(ctx, objstorage.Config{
		Endpoint:    cfg.Storage.Endpoint,
		Region:      cfg.Storage.Region,
		Bucket:      cfg.Storage.Bucket,
		Prefix:      cfg.Storage.Path,
		AccessKeyID: cfg.Storage.AccessKeyID,
		SecretKey:   cfg.Storage.SecretKey,
		PartSize:    cfg.Storage.PartSize,
		Concurrency: cfg.Storage.Concurrency,
		Retries:     cfg.Storage.Retries,
		Timeout:     cfg.Storage.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object storage: %w", err)
	}

	lay := layout.New(store, cfg.Encryption, cfg.Backup.TarballThresholdFiles)

	a := &app{db: db, store: store, layout: lay}

	if len(cfg.Zookeeper.Hosts) > 0 {
		zk, err := zkclient.Connect(cfg.Zookeeper.Hosts, cfg.Zookeeper.Timeout)
		if err != nil {
			return nil, fmt.Errorf("connect zookeeper: %w", err)
		}
		a.zk = zk
	}

	return a, nil
}

func (a *app) Close() {
	if a.zk != nil {
		a.zk.Close()
	}
}
