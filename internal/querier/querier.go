// Package querier implements AsPathQuerier: a bounded client-side worker
// pool that dials the inference service once per query, matching the
// service's line-delimited JSON wire protocol, and backs off the caller
// when the pool's outstanding-query limit is reached.
package querier

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pobradovic08/as-infer/internal/wire"
)

// Request is one AS-path query: find the best path from Src to Dst under
// the given RIB tag. Src/Dst accept a bare AS number ("defined" in the
// original vocabulary — no translation) or an IP address requiring
// service-side GeoIP translation.
type Request struct {
	Tag string
	Src wire.Endpoint
	Dst wire.Endpoint
}

// Result is delivered to the request's callback once the query completes
// or fails. A synthesized Err is produced for any dial, protocol, or
// service-side error, mirroring the reference client's behavior of handing
// callbacks a synthesized error record rather than propagating an exception.
type Result struct {
	Request Request
	Path    []int
	Found   bool
	IXPs    map[string]wire.IXPAnnotation
	Err     error
}

type Callback func(Result)

type job struct {
	req Request
	cb  Callback
}

// Querier is a fixed-size pool of goroutines draining a bounded job
// channel, each dialing the inference service fresh per query. The
// default of 20 outstanding queries matches the reference client.
type Querier struct {
	addr        string
	readTimeout time.Duration
	dialTimeout time.Duration
	jobs        chan job
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

const DefaultMaxOutstanding = 20

func New(addr string, maxOutstanding int, readTimeout time.Duration) *Querier {
	if maxOutstanding <= 0 {
		maxOutstanding = DefaultMaxOutstanding
	}
	q := &Querier{
		addr:        addr,
		readTimeout: readTimeout,
		dialTimeout: 10 * time.Second,
		jobs:        make(chan job, maxOutstanding),
		done:        make(chan struct{}),
	}
	for i := 0; i < maxOutstanding; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

func (q *Querier) worker() {
	defer q.wg.Done()
	for {
		select {
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			j.cb(q.do(j.req))
		case <-q.done:
			return
		}
	}
}

func (q *Querier) do(req Request) Result {
	conn, err := net.DialTimeout("tcp", q.addr, q.dialTimeout)
	if err != nil {
		return Result{Request: req, Err: fmt.Errorf("querier: dialing %s: %w", q.addr, err)}
	}
	defer conn.Close()

	payload, err := json.Marshal(wire.NewRequest(req.Tag, req.Src, req.Dst))
	if err != nil {
		return Result{Request: req, Err: fmt.Errorf("querier: encoding request: %w", err)}
	}
	payload = append(payload, '\n')

	if err := conn.SetWriteDeadline(time.Now().Add(q.dialTimeout)); err != nil {
		return Result{Request: req, Err: fmt.Errorf("querier: setting write deadline: %w", err)}
	}
	if _, err := conn.Write(payload); err != nil {
		return Result{Request: req, Err: fmt.Errorf("querier: writing request: %w", err)}
	}

	if err := conn.SetReadDeadline(time.Now().Add(q.readTimeout)); err != nil {
		return Result{Request: req, Err: fmt.Errorf("querier: setting read deadline: %w", err)}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Result{Request: req, Err: fmt.Errorf("querier: reading response: %w", err)}
		}
		return Result{Request: req, Err: fmt.Errorf("querier: connection closed with no response")}
	}
	line := scanner.Bytes()

	typ, err := wire.PeekType(line)
	if err != nil {
		return Result{Request: req, Err: fmt.Errorf("querier: %w", err)}
	}
	if typ == "error" {
		var errResp wire.ErrorResponse
		if err := json.Unmarshal(line, &errResp); err != nil {
			return Result{Request: req, Err: fmt.Errorf("querier: decoding error response: %w", err)}
		}
		return Result{Request: req, Err: fmt.Errorf("querier: service error: %s", errResp.Msg)}
	}

	var resp wire.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Result{Request: req, Err: fmt.Errorf("querier: decoding response: %w", err)}
	}
	if resp.Path == nil {
		return Result{Request: req, Found: false, IXPs: resp.IXPs}
	}
	path, err := parsePathString(*resp.Path)
	if err != nil {
		return Result{Request: req, Err: fmt.Errorf("querier: %w", err)}
	}
	return Result{Request: req, Path: path, Found: true, IXPs: resp.IXPs}
}

func parsePathString(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("parsing path token %q: %w", f, err)
		}
		out[i] = n
	}
	return out, nil
}

// Query enqueues req, blocking if the pool is already at its outstanding
// limit (the client-side analogue of the service's own backpressure).
// cb is invoked from a worker goroutine, never from the caller's goroutine.
func (q *Querier) Query(req Request, cb Callback) {
	select {
	case q.jobs <- job{req: req, cb: cb}:
	case <-q.done:
	}
}

// Shutdown stops accepting new work and waits for in-flight queries to
// finish. Queued-but-not-yet-started jobs are simply dropped.
func (q *Querier) Shutdown() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}
