package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/allotment/internal/engine"
	"github.com/roach88/allotment/internal/ir"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// RequestIDs overrides the request id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RequestIDs engine.RequestIDGenerator
}

// RunResponse is written for every request read by run.
type RunResponse struct {
	RequestID  string     `json:"request_id"`
	Seq        int64      `json:"seq,omitempty"`
	OutputCase string     `json:"output_case,omitempty"`
	Message    string     `json:"message,omitempty"`
	Result     ir.Object  `json:"result,omitempty"`
	Events     []ir.Event `json:"events,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute JSON-lines requests from stdin",
		Long: `Start the single-writer loop and execute requests read from stdin, one
JSON object per line, writing one JSON result per line to stdout.

A request is {"caller": ..., "action": ..., "args": {...}, "at": ...}.
Amounts are base units, times unix seconds. "caller" defaults to --as and
"at" to the wall clock.

Example:
  echo '{"caller":"alice","action":"release","at":1620172800}' | allotment run --db ./allotment.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, cmd)
		},
	}

	return cmd
}

// decoded is one stdin request or the error that ended the stream.
type decoded struct {
	req engine.Request
	err error
}

func runEngine(opts *RunOptions, cmd *cobra.Command) error {
	parentCtx := commandContext(cmd)

	s, err := openSession(parentCtx, cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.close(parentCtx)

	ids := opts.RequestIDs
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	done := make(chan error, 1)
	go func() {
		done <- s.engine.Run(ctx)
	}()

	requests := make(chan decoded)
	go decodeRequests(ctx, cmd.InOrStdin(), requests)

	s.logger.Info("engine started", "db", s.cfg.Database, "restored", s.restored)
	enc := json.NewEncoder(cmd.OutOrStdout())

	var streamErr error
loop:
	for {
		var d decoded
		select {
		case <-ctx.Done():
			break loop
		case d = <-requests:
		}
		if d.err != nil {
			if !errors.Is(d.err, io.EOF) {
				streamErr = d.err
			}
			break
		}

		req := d.req
		if req.Caller == "" {
			req.Caller = opts.As
		}
		if req.RequestID == "" {
			req.RequestID = ids.Generate()
		}

		reply, ok := s.engine.Submit(req)
		if !ok {
			break
		}
		res := <-reply

		resp := RunResponse{RequestID: req.RequestID}
		if res.Err != nil {
			resp.Error = res.Err.Error()
		} else {
			resp.Seq = res.Completion.Seq
			resp.OutputCase = res.Completion.OutputCase
			resp.Message = res.Completion.Message
			resp.Result = res.Completion.Result
			resp.Events = res.Completion.Events
		}
		if err := enc.Encode(resp); err != nil {
			streamErr = err
			break
		}
	}

	s.engine.Stop()
	runErr := <-done

	if streamErr != nil {
		return WrapExitError(ExitCommandError, "invalid request stream", streamErr)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "engine error", runErr)
	}

	s.logger.Info("engine stopped gracefully", "last_seq", s.engine.LastSeq())
	return nil
}

// decodeRequests streams requests from r until EOF, a decode error or ctx
// cancellation. Numbers stay json.Number so base-unit amounts keep every digit.
func decodeRequests(ctx context.Context, r io.Reader, out chan<- decoded) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	for {
		var d decoded
		d.err = dec.Decode(&d.req)
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
		if d.err != nil {
			return
		}
	}
}
