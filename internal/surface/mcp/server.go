package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/kart-io/logger"

	memjson "github.com/kart-io/memoryd/pkg/utils/json"
)

// handlerFunc is one tool's implementation: decode params, do the work,
// return a JSON-able result or an error. Handlers never write to stdout
// directly — the Server owns every byte written there.
type handlerFunc func(ctx context.Context, params []byte) (any, error)

// Server is the stdio JSON-RPC loop. Construct with New, then Serve.
type Server struct {
	handlers map[string]handlerFunc
	in       io.Reader
	out      io.Writer
}

// New wires every tool named in spec.md §6 against svc.
func New(svc Service) *Server {
	s := &Server{
		handlers: make(map[string]handlerFunc),
		in:       os.Stdin,
		out:      os.Stdout,
	}
	s.handlers["memory_search"] = s.handleSearch(svc)
	s.handlers["memory_inject"] = s.handleInject(svc)
	s.handlers["memory_status"] = s.handleStatus(svc)
	s.handlers["memory_health"] = s.handleHealth(svc)
	s.handlers["memory_cross_project_search"] = s.handleCrossProjectSearch(svc)
	return s
}

// Serve reads one JSON-RPC request per line until ctx is cancelled or the
// input stream ends. A handler error never crashes the loop — it is
// translated to the `{error:{code,message}}` envelope and written as that
// request's response (spec.md §6: "server never crashes the stdio loop on
// a handler error").
func (s *Server) Serve(ctx context.Context) error {
	fmt.Fprintln(os.Stderr, "memoryd MCP server starting in stdio mode...")

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.handleLine(ctx, line)
		if err := s.writeResponse(resp); err != nil {
			logger.Errorw("mcp: failed to write response", "error", err.Error())
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("mcp: stdio read: %w", err)
	}
	return nil
}

// maxLineBytes bounds one JSON-RPC line to guard against an unbounded
// malformed stream exhausting memory.
const maxLineBytes = 8 * 1024 * 1024

func (s *Server) handleLine(ctx context.Context, line []byte) Response {
	var req Request
	if err := memjson.Unmarshal(line, &req); err != nil {
		return Response{Error: &ErrorPayload{Code: CodeValidation, Message: "malformed request: " + err.Error()}}
	}

	h, ok := s.handlers[req.Method]
	if !ok {
		return Response{ID: req.ID, Error: &ErrorPayload{Code: CodeValidation, Message: "unknown method: " + req.Method}}
	}

	result, err := h(ctx, req.Params)
	if err != nil {
		return Response{ID: req.ID, Error: classifyError(err)}
	}
	return Response{ID: req.ID, Result: result}
}

// classifyError maps a handler error to the wire envelope, preserving a
// handler-assigned code and otherwise defaulting to INTERNAL — the stdio
// surface never propagates raw internal detail beyond a message string
// (spec.md §7: "never propagate raw stack traces").
func classifyError(err error) *ErrorPayload {
	if te, ok := err.(*toolError); ok {
		return &ErrorPayload{Code: te.code, Message: te.message}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &ErrorPayload{Code: CodeCancelled, Message: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &ErrorPayload{Code: CodeDeadlineExceeded, Message: err.Error()}
	default:
		return &ErrorPayload{Code: CodeInternal, Message: err.Error()}
	}
}

func (s *Server) writeResponse(resp Response) error {
	data, err := memjson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	data = append(data, '\n')
	_, err = s.out.Write(data)
	return err
}
