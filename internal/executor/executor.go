// Package executor binds typed inputs, evaluates a script once against a
// pooled remote connection, and extracts typed outputs — spec.md §4.5's
// script executor.
package executor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/epool/enginepool/internal/driver"
	"github.com/epool/enginepool/internal/metrics"
	"github.com/epool/enginepool/internal/pool"
	"github.com/epool/enginepool/internal/wire"
)

// outputSpec pairs a declared output name with its expected wire.Kind.
type outputSpec struct {
	kind wire.Kind
}

// Executor is a per-instance stateful object: it is explicitly not safe for
// concurrent use, matching spec.md §4.5's "one object per worker" rule.
type Executor struct {
	pool   *pool.Pool
	script string

	inputs  map[string]wire.Value
	outputs map[string]outputSpec
	results map[string]wire.Value

	metrics *metrics.Collector
}

// New builds an Executor that runs script against connections drawn from p.
func New(p *pool.Pool, script string) *Executor {
	return &Executor{
		pool:    p,
		script:  script,
		inputs:  make(map[string]wire.Value),
		outputs: make(map[string]outputSpec),
		results: make(map[string]wire.Value),
	}
}

// SetMetrics attaches a metrics collector; nil detaches it.
func (e *Executor) SetMetrics(m *metrics.Collector) {
	e.metrics = m
}

// SetInput records a named input value, overwriting any prior binding with
// the same name. A Value of an unrecognized kind, or a list/string-list
// value with a nil backing slice, fails ErrInvalidArgument.
func (e *Executor) SetInput(name string, v wire.Value) error {
	switch v.Kind {
	case wire.KindString:
	case wire.KindStringList:
		if v.Strs == nil {
			return fmt.Errorf("%w: %s: nil string list", ErrInvalidArgument, name)
		}
	case wire.KindFloat:
	case wire.KindFloatList:
		if v.Floats == nil {
			return fmt.Errorf("%w: %s: nil float list", ErrInvalidArgument, name)
		}
	default:
		return fmt.Errorf("%w: %s: unrecognized value kind", ErrInvalidArgument, name)
	}
	e.inputs[name] = v
	return nil
}

// SetOutput declares that the named result is expected and must be read
// back as the given kind.
func (e *Executor) SetOutput(name string, kind wire.Kind) error {
	switch kind {
	case wire.KindString, wire.KindStringList, wire.KindFloat, wire.KindFloatList:
		e.outputs[name] = outputSpec{kind: kind}
		return nil
	default:
		return fmt.Errorf("%w: %s: unrecognized output kind", ErrInvalidArgument, name)
	}
}

// Execute acquires one connection from the pool, binds every input,
// evaluates the script body once, materializes every declared output, and
// releases the connection in a guaranteed-cleanup block. The connection is
// invalidated instead of released only when the driver reports the
// connection is no longer connected — a transport-level failure, not a
// script-level one.
func (e *Executor) Execute(ctx context.Context) (err error) {
	start := time.Now()
	conn, acquireErr := e.pool.Acquire(ctx)
	if acquireErr != nil {
		return acquireErr
	}
	if conn == nil {
		return fmt.Errorf("executor: acquire timed out")
	}

	defer func() {
		if conn.IsConnected() {
			if releaseErr := e.pool.Release(conn); releaseErr != nil && err == nil {
				err = releaseErr
			}
		} else {
			if invalidateErr := e.pool.Invalidate(conn); invalidateErr != nil && err == nil {
				err = invalidateErr
			}
		}
		if e.metrics != nil {
			e.metrics.ScriptCompleted(conn.Endpoint(), time.Since(start), err)
		}
	}()

	for name, v := range e.inputs {
		if err = bind(conn, name, v); err != nil {
			return err
		}
	}

	if _, err = conn.Eval(e.script); err != nil {
		return err
	}

	for name, spec := range e.outputs {
		v, evalErr := conn.Eval(name)
		if evalErr != nil {
			err = evalErr
			return err
		}
		if v.Kind != spec.kind {
			err = fmt.Errorf("executor: output %q: expected kind %v, got %v", name, spec.kind, v.Kind)
			return err
		}
		e.results[name] = v
	}
	return nil
}

// bind assigns a single input by name. Scalars are sent as an assignment
// expression ("name <- literal") because the wire library historically does
// not bind scalars directly; vectors and strings use the library's typed
// Assign.
func bind(conn driver.Conn, name string, v wire.Value) error {
	if v.Kind == wire.KindFloat {
		expr := fmt.Sprintf("%s <- %s", name, formatFloatLiteral(v.Float))
		_, err := conn.Eval(expr)
		return err
	}
	return conn.Assign(name, v)
}

// formatFloatLiteral renders f using the remote language's literal syntax
// for non-finite values, rather than Go's %v (which would emit
// "NaN"/"+Inf"/"-Inf" in a form the remote evaluator may not parse
// identically).
func formatFloatLiteral(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Inf"
	case math.IsInf(f, -1):
		return "-Inf"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}

// GetOutputString returns the last materialized string output, or ok=false
// if name was not declared or not yet materialized.
func (e *Executor) GetOutputString(name string) (string, bool) {
	v, ok := e.results[name]
	if !ok || v.Kind != wire.KindString {
		return "", false
	}
	return v.Str, true
}

// GetOutputStringList returns the last materialized string-list output.
func (e *Executor) GetOutputStringList(name string) ([]string, bool) {
	v, ok := e.results[name]
	if !ok || v.Kind != wire.KindStringList {
		return nil, false
	}
	return v.Strs, true
}

// GetOutputFloat returns the last materialized float scalar output.
func (e *Executor) GetOutputFloat(name string) (float64, bool) {
	v, ok := e.results[name]
	if !ok || v.Kind != wire.KindFloat {
		return 0, false
	}
	return v.Float, true
}

// GetOutputFloatList returns the last materialized float-vector output.
func (e *Executor) GetOutputFloatList(name string) ([]float64, bool) {
	v, ok := e.results[name]
	if !ok || v.Kind != wire.KindFloatList {
		return nil, false
	}
	return v.Floats, true
}
