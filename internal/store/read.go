package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/query"
)

const recordColumns = `
	i.id, i.request_id, i.action, i.caller, i.args, i.at, i.seq, i.engine_version,
	c.id, c.output_case, c.message, c.result, c.seq
`

// ReadRecords returns every journaled record in seq order.
// Returns an empty slice (not nil) for an empty journal.
func (s *Store) ReadRecords(ctx context.Context) ([]ir.Record, error) {
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM invocations i
		JOIN completions c ON c.invocation_id = i.id
		ORDER BY i.seq ASC
	`)
}

// QueryRecords returns the records matching q, in seq order.
func (s *Store) QueryRecords(ctx context.Context, q query.Select) ([]ir.Record, error) {
	tail, params, err := query.Compile(q)
	if err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, `
		SELECT `+recordColumns+`
		FROM invocations i
		JOIN completions c ON c.invocation_id = i.id`+tail, params...)
}

func (s *Store) queryRecords(ctx context.Context, stmt string, args ...any) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	// Close before issuing event queries on the single connection.
	rows.Close()

	for i := range records {
		events, err := s.readCompletionEvents(ctx, records[i].Completion.ID)
		if err != nil {
			return nil, err
		}
		records[i].Completion.Events = events
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (ir.Record, error) {
	var (
		rec        ir.Record
		action     string
		caller     string
		argsJSON   string
		resultJSON string
	)
	inv := &rec.Invocation
	comp := &rec.Completion
	err := rows.Scan(
		&inv.ID, &inv.RequestID, &action, &caller, &argsJSON, &inv.At, &inv.Seq, &inv.EngineVersion,
		&comp.ID, &comp.OutputCase, &comp.Message, &resultJSON, &comp.Seq,
	)
	if err != nil {
		return ir.Record{}, fmt.Errorf("scan record: %w", err)
	}
	inv.Action = ir.Action(action)
	inv.Caller = ir.Account(caller)
	comp.InvocationID = inv.ID

	if inv.Args, err = unmarshalObject(argsJSON); err != nil {
		return ir.Record{}, fmt.Errorf("scan record %s: args: %w", inv.ID, err)
	}
	if comp.Result, err = unmarshalObject(resultJSON); err != nil {
		return ir.Record{}, fmt.Errorf("scan record %s: result: %w", inv.ID, err)
	}
	return rec, nil
}

func (s *Store) readCompletionEvents(ctx context.Context, completionID string) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM events
		WHERE completion_id = ?
		ORDER BY idx ASC
	`, completionID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadEvents returns journaled events of the given kind in seq order, or all
// events when kind is empty.
func (s *Store) ReadEvents(ctx context.Context, kind ir.EventKind) ([]ir.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM events
		WHERE ? = '' OR kind = ?
		ORDER BY seq ASC, idx ASC
	`, string(kind), string(kind))
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]ir.Event, error) {
	events := []ir.Event{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e, err := unmarshalEvent(payload)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// LastSeq returns the highest journaled seq, or 0 for an empty journal.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM invocations`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// CountRecords returns how many records the journal holds.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invocations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
