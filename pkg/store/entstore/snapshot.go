package entstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/wilhg/snapstore/pkg/errmodel"
	"github.com/wilhg/snapstore/pkg/store"
)

const (
	table             = "historical_data"
	columnID          = "id"
	columnData        = "data"
	columnLastUpdated = "last_updated"
)

// newestFirst orders by timestamp; id breaks ties within one clock tick.
func newestFirst() []string {
	return []string{entsql.Desc(columnLastUpdated), entsql.Desc(columnID)}
}

func (s *Store) builder() *entsql.DialectBuilder { return entsql.Dialect(s.drv.Dialect()) }

func (s *Store) latestQuery() (string, []any) {
	b := s.builder()
	return b.Select(columnData).
		From(b.Table(table)).
		OrderBy(newestFirst()...).
		Limit(1).
		Query()
}

func (s *Store) listQuery() (string, []any) {
	b := s.builder()
	return b.Select(columnID, columnData, columnLastUpdated).
		From(b.Table(table)).
		OrderBy(newestFirst()...).
		Query()
}

// insertQuery leaves last_updated to the column default. A nil document is
// bound as SQL NULL and rejected by the NOT NULL constraint.
func (s *Store) insertQuery(data json.RawMessage) (string, []any) {
	var v any
	if data != nil {
		v = string(data)
	}
	return s.builder().Insert(table).Columns(columnData).Values(v).Query()
}

// pruneQuery recomputes the retention window at execution time, so
// interleaved appends converge once writers go quiet.
func (s *Store) pruneQuery() (string, []any) {
	b := s.builder()
	keep := b.Select(columnID).
		From(b.Table(table)).
		OrderBy(newestFirst()...).
		Limit(s.opts.retain)
	return b.Delete(table).Where(entsql.NotIn(columnID, keep)).Query()
}

func (s *Store) clearQuery() (string, []any) {
	return s.builder().Delete(table).Query()
}

// Latest returns the data of the most recent snapshot, or store.EmptyDocument
// when the table is empty or the stored document is JSON null.
func (s *Store) Latest(ctx context.Context) (json.RawMessage, error) {
	query, args := s.latestQuery()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, errmodel.Storage("latest_failed", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, errmodel.Storage("latest_failed", err)
		}
		return store.EmptyDocument, nil
	}
	var data []byte
	if err := rows.Scan(&data); err != nil {
		return nil, errmodel.Storage("latest_scan_failed", err)
	}
	if store.IsEmptyDocument(data) {
		return store.EmptyDocument, nil
	}
	return json.RawMessage(data), nil
}

// Append inserts data and then deletes everything outside the retention window.
// Without WithAtomicAppend the two statements run independently and a failed
// prune does not undo the insert.
func (s *Store) Append(ctx context.Context, data json.RawMessage) error {
	if !s.opts.atomic {
		return s.appendAndPrune(ctx, s.drv, data)
	}
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return errmodel.Storage("begin_failed", err)
	}
	if err := s.appendAndPrune(ctx, tx, data); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errmodel.Storage("commit_failed", err)
	}
	return nil
}

func (s *Store) appendAndPrune(ctx context.Context, ex dialect.ExecQuerier, data json.RawMessage) error {
	query, args := s.insertQuery(data)
	if err := ex.Exec(ctx, query, args, nil); err != nil {
		return errmodel.Storage("insert_failed", err)
	}
	query, args = s.pruneQuery()
	if err := ex.Exec(ctx, query, args, nil); err != nil {
		return errmodel.Storage("prune_failed", err)
	}
	return nil
}

// Clear deletes every snapshot.
func (s *Store) Clear(ctx context.Context) error {
	query, args := s.clearQuery()
	if err := s.drv.Exec(ctx, query, args, nil); err != nil {
		return errmodel.Storage("clear_failed", err)
	}
	return nil
}

// List returns all retained snapshots, newest first.
func (s *Store) List(ctx context.Context) ([]store.Snapshot, error) {
	query, args := s.listQuery()
	rows := &entsql.Rows{}
	if err := s.drv.Query(ctx, query, args, rows); err != nil {
		return nil, errmodel.Storage("list_failed", err)
	}
	defer rows.Close()

	var out []store.Snapshot
	for rows.Next() {
		var (
			sn   store.Snapshot
			data []byte
			ts   timestamp
		)
		if err := rows.Scan(&sn.ID, &data, &ts); err != nil {
			return nil, errmodel.Storage("list_scan_failed", err)
		}
		sn.Data = json.RawMessage(data)
		sn.LastUpdated = ts.t
		out = append(out, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, errmodel.Storage("list_failed", err)
	}
	return out, nil
}

// timestamp scans last_updated from either driver: pgx yields time.Time,
// SQLite may yield the CURRENT_TIMESTAMP text form.
type timestamp struct{ t time.Time }

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (ts *timestamp) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		ts.t = time.Time{}
	case time.Time:
		ts.t = x.UTC()
	case int64:
		ts.t = time.Unix(x, 0).UTC()
	case []byte:
		return ts.parse(string(x))
	case string:
		return ts.parse(x)
	default:
		return fmt.Errorf("unsupported timestamp type %T", v)
	}
	return nil
}

func (ts *timestamp) parse(s string) error {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
