// Package store loads published posts from PostgreSQL. It is the host's
// record store: it answers fetch-by-ID requests written by the interceptor
// and runs the native ILIKE search when the daemon is not involved.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/internal/content"
	"github.com/Adithya-Monish-Kumar-K/searchd-bridge/pkg/postgres"
)

// Schema creates the posts table.
const Schema = `CREATE TABLE IF NOT EXISTS posts (
	id           BIGINT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'publish',
	published_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const statusPublished = "publish"

const postColumns = `id, title, content, status, published_at`

// Posts is a content.Store over the posts table.
type Posts struct {
	db             *postgres.Client
	defaultPerPage int
	logger         *slog.Logger
}

func NewPosts(db *postgres.Client, defaultPerPage int) *Posts {
	if defaultPerPage < 1 {
		defaultPerPage = 10
	}
	return &Posts{
		db:             db,
		defaultPerPage: defaultPerPage,
		logger:         slog.Default().With("component", "posts-store"),
	}
}

// EnsureSchema creates the posts table if it does not exist.
func (p *Posts) EnsureSchema(ctx context.Context) error {
	return p.db.EnsureSchema(ctx, Schema)
}

// Fetch implements content.Store.
func (p *Posts) Fetch(ctx context.Context, req *content.Request) ([]content.Record, int, error) {
	if req.IDs != nil {
		records, err := p.query(ctx, byIDs(req))
		if err != nil {
			return nil, 0, err
		}
		return records, len(records), nil
	}

	q := p.native(req)
	var found int
	if err := p.db.DB.QueryRowContext(ctx, q.count, q.args...).Scan(&found); err != nil {
		return nil, 0, fmt.Errorf("counting posts: %w", err)
	}
	if found == 0 {
		return nil, 0, nil
	}
	records, err := p.query(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	return records, found, nil
}

// Insert stores or replaces a post.
func (p *Posts) Insert(ctx context.Context, rec content.Record) error {
	status := rec.Status
	if status == "" {
		status = statusPublished
	}
	_, err := p.db.DB.ExecContext(ctx,
		`INSERT INTO posts (id, title, content, status, published_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title, content = EXCLUDED.content,
		     status = EXCLUDED.status, published_at = EXCLUDED.published_at`,
		rec.ID, rec.Title, rec.Content, status, rec.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting post %d: %w", rec.ID, err)
	}
	return nil
}

func (p *Posts) query(ctx context.Context, q selectQuery) ([]content.Record, error) {
	rows, err := p.db.DB.QueryContext(ctx, q.rows, q.args...)
	if err != nil {
		return nil, fmt.Errorf("loading posts: %w", err)
	}
	defer rows.Close()

	var out []content.Record
	for rows.Next() {
		var rec content.Record
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Content, &rec.Status, &rec.PublishedAt); err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// selectQuery is a row query and, for native searches, its count query.
// Both take the same args.
type selectQuery struct {
	rows  string
	count string
	args  []any
}

// byIDs loads every published record in req.IDs. Order and paging are left
// to the caller.
func byIDs(req *content.Request) selectQuery {
	return selectQuery{
		rows: `SELECT ` + postColumns + ` FROM posts
		 WHERE status = $1 AND id = ANY($2)
		 ORDER BY ` + orderClause(req),
		args: []any{statusPublished, pq.Array(req.IDs)},
	}
}

// native builds the host's own search: a case-insensitive substring match
// on title and content, paged by the host's page size.
func (p *Posts) native(req *content.Request) selectQuery {
	where := `status = $1`
	args := []any{statusPublished}
	if req.IsSearch && strings.TrimSpace(req.Term) != "" {
		args = append(args, "%"+escapeLike(strings.TrimSpace(req.Term))+"%")
		where += ` AND (title ILIKE $2 OR content ILIKE $2)`
	}

	perPage := max(req.PerPage, req.ShowPosts)
	if perPage < 1 {
		perPage = p.defaultPerPage
	}
	_, perPage, offset := content.PageWindow(req.Page, perPage)

	return selectQuery{
		rows: fmt.Sprintf(`SELECT %s FROM posts WHERE %s ORDER BY %s LIMIT %d OFFSET %d`,
			postColumns, where, orderClause(req), perPage, offset),
		count: `SELECT COUNT(*) FROM posts WHERE ` + where,
		args:  args,
	}
}

// orderClause maps the request's display ordering onto columns. Anything
// unrecognized sorts newest first.
func orderClause(req *content.Request) string {
	column := "published_at"
	if strings.EqualFold(req.OrderBy, "title") {
		column = "title"
	}
	dir := "DESC"
	if strings.EqualFold(req.Order, "ASC") {
		dir = "ASC"
	}
	return column + " " + dir + ", id " + dir
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Ping reports whether the database is reachable.
func (p *Posts) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

var _ content.Store = (*Posts)(nil)
