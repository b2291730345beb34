// Package webuidb is a read-only client over the external chat UI's own
// Postgres database, used only to resolve group membership for a given
// user identifier. It never writes.
package webuidb

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Reader resolves group names for a user. Lookup errors are returned;
// callers treat a failure as an empty group list (spec.md §4.2).
type Reader interface {
	GroupsFor(ctx context.Context, userID string) ([]string, error)
	AllGroups(ctx context.Context) ([]string, error)
	Health(ctx context.Context) error
}

// Client is the Postgres-backed Reader, joining user/group/group_member by
// email or id (spec.md §6).
type Client struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New connects to the external UI datastore via dsn (WEBUI_DATABASE_URL).
// Unlike AuditStore, no schema is created here: these tables belong to a
// collaborator system.
func New(ctx context.Context, dsn string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open webui datastore: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping webui datastore: %w", err)
	}

	logger.Info("connected to external webui datastore")
	return &Client{pool: pool, logger: logger}, nil
}

func (c *Client) Close() {
	c.pool.Close()
}

func (c *Client) Health(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// GroupsFor returns the group names the user identified by userID (email
// or id) belongs to. A lookup failure is the caller's to tolerate; this
// method still returns the error so callers can decide and log.
func (c *Client) GroupsFor(ctx context.Context, userID string) ([]string, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT g.name
		FROM "group" g
		JOIN group_member gm ON gm.group_id = g.id
		JOIN "user" u ON u.id = gm.user_id
		WHERE u.email = $1 OR u.id = $1
	`, userID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("groups for %s: %w", userID, err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan group name: %w", err)
		}
		groups = append(groups, name)
	}
	sort.Strings(groups)
	return groups, rows.Err()
}

// AllGroups lists every group name, for GET /admin/openwebui-groups.
func (c *Client) AllGroups(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, `SELECT name FROM "group" ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("all groups: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan group name: %w", err)
		}
		groups = append(groups, name)
	}
	return groups, rows.Err()
}
