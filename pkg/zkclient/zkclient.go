// Package zkclient is the narrow wrapper around ZooKeeper used by restore's
// clean_zookeeper step (spec §4.5): removing stale replica registrations
// before a replicated table is recreated. Grounded on the teacher's
// connection-wrapper style (pkg/client); the underlying library itself has
// no precedent in the example pack and is named directly in SPEC_FULL.md.
package zkclient

import (
	"fmt"
	"time"

	"github.com/go-zookeeper/zk"

	"github.com/chbackup/chbackup/pkg/log"
)

// Client is the surface restore needs: delete a replica's znode subtree
// before recreating the table, tolerating the node already being gone.
type Client struct {
	conn *zk.Conn
}

// Connect dials the given ZooKeeper ensemble with a session timeout.
func Connect(hosts []string, timeout time.Duration) (*Client, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("zkclient: no hosts configured")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	conn, _, err := zk.Connect(hosts, timeout)
	if err != nil {
		return nil, fmt.Errorf("zkclient: connect: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close releases the underlying session.
func (c *Client) Close() {
	c.conn.Close()
}

// DeleteReplicaPath recursively removes the znode tree for one replica's
// registration, e.g. /clickhouse/tables/{shard}/{table}/replicas/{replica}.
// Missing nodes are not an error: a clean restore target has nothing to
// remove.
func (c *Client) DeleteReplicaPath(path string) error {
	return c.deleteRecursive(path)
}

func (c *Client) deleteRecursive(path string) error {
	children, _, err := c.conn.Children(path)
	if err != nil {
		if err == zk.ErrNoNode {
			return nil
		}
		return fmt.Errorf("zkclient: list children of %s: %w", path, err)
	}
	for _, child := range children {
		if err := c.deleteRecursive(path + "/" + child); err != nil {
			return err
		}
	}
	_, stat, err := c.conn.Exists(path)
	if err != nil {
		return fmt.Errorf("zkclient: stat %s: %w", path, err)
	}
	if stat == nil {
		return nil
	}
	if err := c.conn.Delete(path, stat.Version); err != nil && err != zk.ErrNoNode {
		return fmt.Errorf("zkclient: delete %s: %w", path, err)
	}
	log.WithComponent("zkclient").Debug().Str("path", path).Msg("removed znode")
	return nil
}
