package store

import (
	"context"
	"fmt"

	"github.com/roach88/allotment/internal/ir"
)

// WriteRecord appends an invocation, its completion and the completion's
// events in one transaction. Either all three land or nothing does.
//
// Uses ON CONFLICT DO NOTHING for idempotency: rewriting an identical record
// is a no-op. A different record reusing a seq fails on the UNIQUE constraint.
func (s *Store) WriteRecord(ctx context.Context, rec ir.Record) error {
	inv, comp := rec.Invocation, rec.Completion
	if comp.InvocationID != inv.ID {
		return fmt.Errorf("write record: completion %s does not complete invocation %s", comp.ID, inv.ID)
	}

	argsJSON, err := marshalObject(inv.Args)
	if err != nil {
		return fmt.Errorf("write record: marshal args: %w", err)
	}
	resultJSON, err := marshalObject(comp.Result)
	if err != nil {
		return fmt.Errorf("write record: marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write record: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO invocations
		(id, request_id, action, caller, args, at, seq, engine_version, record_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		inv.ID,
		inv.RequestID,
		string(inv.Action),
		string(inv.Caller),
		argsJSON,
		inv.At,
		inv.Seq,
		inv.EngineVersion,
		ir.RecordVersion,
	)
	if err != nil {
		return fmt.Errorf("write record: insert invocation: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("write record: rows affected: %w", err)
	} else if n == 0 {
		// Already journaled.
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO completions
		(id, invocation_id, output_case, message, result, seq)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		comp.ID,
		comp.InvocationID,
		comp.OutputCase,
		comp.Message,
		resultJSON,
		comp.Seq,
	)
	if err != nil {
		return fmt.Errorf("write record: insert completion: %w", err)
	}

	for i, e := range comp.Events {
		payload, err := marshalEvent(e)
		if err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (completion_id, idx, seq, kind, payload)
			VALUES (?, ?, ?, ?, ?)
		`, comp.ID, i, comp.Seq, string(e.Kind), payload)
		if err != nil {
			return fmt.Errorf("write record: insert event %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write record: commit: %w", err)
	}
	return nil
}
