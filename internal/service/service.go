// Package service implements InferenceService: a concurrent TCP server that
// answers AS-path queries, coalescing concurrent requests for the same
// (tag, dst) destination into a single dispatch to the processing queue and
// waking every waiter once the corresponding in-process worker publishes
// completion.
package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pobradovic08/as-infer/internal/geoip"
	"github.com/pobradovic08/as-infer/internal/graph"
	"github.com/pobradovic08/as-infer/internal/ixp"
	"github.com/pobradovic08/as-infer/internal/metrics"
	"github.com/pobradovic08/as-infer/internal/pathvector"
	"github.com/pobradovic08/as-infer/internal/pubsub"
	"github.com/pobradovic08/as-infer/internal/queue"
	"github.com/pobradovic08/as-infer/internal/waitregistry"
	"github.com/pobradovic08/as-infer/internal/wire"
)

// TagHandler is one configured RIB tag's in-process worker pool: it drains
// the tag's processing-queue topic and drives PathVectorBuilder for every
// destination it dequeues. It collapses the reference design's externally
// spawned worker processes into goroutines behind the same queue/pub-sub
// topic interface (see DESIGN.md).
type TagHandler struct {
	Tag      string
	Consumer *queue.Consumer
	Builder  *pathvector.Builder
	Workers  int
}

// IsJoined reports whether this tag's consumer group has joined, the
// signal InferenceService uses to decide whether a worker is actually
// listening before it enqueues a destination.
func (h *TagHandler) IsJoined() bool { return h.Consumer.IsJoined() }

// MultiTagStatus aggregates every configured tag's consumer-group join
// state into a single httpapi.ConsumerStatus, since /readyz checks one
// queue consumer but this service runs one per tag.
type MultiTagStatus struct {
	Handlers []*TagHandler
}

func (m MultiTagStatus) IsJoined() bool {
	if len(m.Handlers) == 0 {
		return false
	}
	for _, h := range m.Handlers {
		if !h.IsJoined() {
			return false
		}
	}
	return true
}

// Service is the TCP inference service.
type Service struct {
	logger      *zap.Logger
	store       *graph.Store
	geo         geoip.Resolver // nil: IP-typed src/dst cannot be translated
	ixpData     *ixp.Data      // nil: responses carry no IXP annotations
	registry    *waitregistry.Registry
	producer    *queue.Producer
	statusPub   *pubsub.Publisher
	statusSub   *pubsub.Subscriber
	handlers    map[string]*TagHandler
	listenAddr  string
	readTimeout time.Duration
	waitTimeout time.Duration

	listener net.Listener
	wg       sync.WaitGroup
}

type Params struct {
	ListenAddr         string
	ReadTimeoutSeconds int
	WaitTimeoutSeconds int
	Store              *graph.Store
	Geo                geoip.Resolver
	IXPData            *ixp.Data
	Registry           *waitregistry.Registry
	Producer           *queue.Producer
	StatusPublisher    *pubsub.Publisher
	StatusSubscriber   *pubsub.Subscriber
	Handlers           []*TagHandler
	Logger             *zap.Logger
}

func New(p Params) *Service {
	handlers := make(map[string]*TagHandler, len(p.Handlers))
	for _, h := range p.Handlers {
		handlers[h.Tag] = h
	}
	return &Service{
		logger:      p.Logger,
		store:       p.Store,
		geo:         p.Geo,
		ixpData:     p.IXPData,
		registry:    p.Registry,
		producer:    p.Producer,
		statusPub:   p.StatusPublisher,
		statusSub:   p.StatusSubscriber,
		handlers:    handlers,
		listenAddr:  p.ListenAddr,
		readTimeout: time.Duration(p.ReadTimeoutSeconds) * time.Second,
		waitTimeout: time.Duration(p.WaitTimeoutSeconds) * time.Second,
	}
}

// Run starts the tag worker pools, the status-channel watcher, and the TCP
// listener, and blocks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return fmt.Errorf("service: listening on %s: %w", s.listenAddr, err)
	}
	s.listener = ln
	s.logger.Info("inference service listening", zap.String("addr", s.listenAddr))

	for _, h := range s.handlers {
		s.wg.Add(1)
		go func(h *TagHandler) {
			defer s.wg.Done()
			s.runTagHandler(ctx, h)
		}(h)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.statusSub.Run(ctx, func(key string) {
			s.registry.Fire(key)
		})
	}()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// runTagHandler drains h's processing-queue topic with h.Workers concurrent
// computations in flight, each invoking PathVectorBuilder and publishing
// completion once the cache is updated.
func (s *Service) runTagHandler(ctx context.Context, h *TagHandler) {
	workers := h.Workers
	if workers <= 0 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var inFlight sync.WaitGroup

	h.Consumer.Run(ctx, func(entry queue.Entry) {
		sem <- struct{}{}
		inFlight.Add(1)
		go func() {
			defer func() { <-sem; inFlight.Done() }()
			s.processEntry(ctx, h, entry)
		}()
	})
	inFlight.Wait()
}

func (s *Service) processEntry(ctx context.Context, h *TagHandler, entry queue.Entry) {
	dest, err := strconv.Atoi(entry.Dst)
	if err != nil {
		s.logger.Error("worker: destination is not a bare AS number",
			zap.String("tag", h.Tag), zap.String("dst", entry.Dst), zap.Error(err))
		return
	}

	best, err := h.Builder.BuildToDestination(ctx, h.Tag, dest)
	if err != nil {
		s.logger.Error("worker: building path vectors failed",
			zap.String("tag", h.Tag), zap.Int("dst", dest), zap.Error(err))
		return
	}

	for src, path := range best {
		if src == dest {
			continue
		}
		if err := s.store.CacheStore(ctx, h.Tag, entry.Dst, strconv.Itoa(src), path.ASes); err != nil {
			s.logger.Error("worker: caching path failed",
				zap.String("tag", h.Tag), zap.Int("dst", dest), zap.Int("src", src), zap.Error(err))
		}
	}
	if err := s.store.CacheMarkSearched(ctx, h.Tag, entry.Dst); err != nil {
		s.logger.Error("worker: marking searched failed",
			zap.String("tag", h.Tag), zap.Int("dst", dest), zap.Error(err))
	}
	if err := s.statusPub.Announce(ctx, h.Tag, entry.Dst); err != nil {
		s.logger.Error("worker: announcing completion failed",
			zap.String("tag", h.Tag), zap.Int("dst", dest), zap.Error(err))
	}
}

func (s *Service) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	start := time.Now()

	if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		s.logger.Error("setting read deadline failed", zap.Error(err))
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		s.writeError(conn, "timeout")
		metrics.InferenceLatency.WithLabelValues("timeout").Observe(time.Since(start).Seconds())
		return
	}

	var req wire.Request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil || req.Type != "request" {
		s.writeError(conn, "malformed request")
		metrics.InferenceRequestsTotal.WithLabelValues("error").Inc()
		return
	}

	outcome, resp, errResp := s.answer(ctx, req)
	metrics.InferenceRequestsTotal.WithLabelValues(outcome).Inc()
	metrics.InferenceLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if errResp != nil {
		s.writeLine(conn, errResp)
		return
	}
	s.writeLine(conn, resp)
}

// answer runs the 8-step request state machine: translate, check cache,
// dispatch-or-coalesce, await, re-check cache, annotate.
func (s *Service) answer(ctx context.Context, req wire.Request) (outcome string, resp *wire.Response, errResp *wire.ErrorResponse) {
	src, err := s.resolveEndpoint(req.Src)
	if err != nil {
		e := wire.NewError(fmt.Sprintf("translating src: %v", err))
		return "error", nil, &e
	}
	dst, err := s.resolveEndpoint(req.Dst)
	if err != nil {
		e := wire.NewError(fmt.Sprintf("translating dst: %v", err))
		return "error", nil, &e
	}
	dstStr := strconv.Itoa(dst)

	if searched, err := s.store.CacheSearched(ctx, req.Tag, dstStr); err != nil {
		e := wire.NewError(fmt.Sprintf("cache check failed: %v", err))
		return "error", nil, &e
	} else if searched {
		resp := s.buildResponse(ctx, req, src, dst)
		return "cache_hit", resp, nil
	}

	h, ok := s.handlers[req.Tag]
	if !ok || !h.IsJoined() {
		e := wire.NewError(fmt.Sprintf("no handler exists for tag %q", req.Tag))
		return "no_handler", nil, &e
	}

	key := pubsub.EncodeKey(req.Tag, dstStr)
	ch, isFirst := s.registry.Register(key)
	if isFirst {
		if _, err := s.producer.Enqueue(ctx, req.Tag, dstStr); err != nil {
			s.registry.Fire(key)
			e := wire.NewError(fmt.Sprintf("enqueueing destination failed: %v", err))
			return "error", nil, &e
		}
	}

	select {
	case <-ch:
	case <-time.After(s.waitTimeout):
		e := wire.NewError("timeout")
		return "timeout", nil, &e
	case <-ctx.Done():
		e := wire.NewError("timeout")
		return "timeout", nil, &e
	}

	searched, err := s.store.CacheSearched(ctx, req.Tag, dstStr)
	if err != nil {
		e := wire.NewError(fmt.Sprintf("cache check failed: %v", err))
		return "error", nil, &e
	}
	if !searched {
		e := wire.NewError("timeout")
		return "timeout", nil, &e
	}

	resp = s.buildResponse(ctx, req, src, dst)
	return "computed", resp, nil
}

// buildResponse re-reads the cache for (tag, src, dst) and decorates a
// non-null path with IXP annotations. Assumes the destination has already
// been confirmed searched.
func (s *Service) buildResponse(ctx context.Context, req wire.Request, src, dst int) *wire.Response {
	dstStr, srcStr := strconv.Itoa(dst), strconv.Itoa(src)
	resp := &wire.Response{Type: "response", Tag: req.Tag, Src: req.Src, Dst: req.Dst}

	path, found, err := s.store.CacheLookup(ctx, req.Tag, dstStr, srcStr)
	if err != nil {
		s.logger.Error("cache lookup failed during response build",
			zap.String("tag", req.Tag), zap.String("dst", dstStr), zap.String("src", srcStr), zap.Error(err))
		return resp
	}
	if !found {
		return resp
	}

	pathStr := pathToString(path)
	resp.Path = &pathStr
	if s.ixpData != nil {
		resp.IXPs = s.ixpData.Annotate(path)
	}
	return resp
}

func pathToString(path []int) string {
	tokens := make([]string, len(path))
	for i, as := range path {
		tokens[i] = strconv.Itoa(as)
	}
	return strings.Join(tokens, " ")
}

// resolveEndpoint returns the AS number for a wire endpoint, translating an
// IP-typed endpoint via GeoIP if necessary.
func (s *Service) resolveEndpoint(e wire.Endpoint) (int, error) {
	if e.IsBareAS() {
		return e.AS, nil
	}
	if s.geo == nil {
		return 0, fmt.Errorf("no GeoIP resolver configured for address %s", e.Addr)
	}
	ip := net.ParseIP(e.Addr)
	if ip == nil {
		return 0, fmt.Errorf("invalid address %q", e.Addr)
	}
	org, err := s.geo.OrgByAddr(ip)
	if err != nil {
		return 0, fmt.Errorf("resolving %s: %w", e.Addr, err)
	}
	as, err := geoip.ASNumberFromOrg(org)
	if err != nil {
		return 0, fmt.Errorf("resolving %s: %w", e.Addr, err)
	}
	return as, nil
}

func (s *Service) writeLine(conn net.Conn, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encoding response failed", zap.Error(err))
		return
	}
	b = append(b, '\n')
	if err := conn.SetWriteDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return
	}
	if _, err := conn.Write(b); err != nil {
		s.logger.Debug("writing response failed", zap.Error(err))
	}
}

func (s *Service) writeError(conn net.Conn, msg string) {
	e := wire.NewError(msg)
	s.writeLine(conn, e)
}

// Close stops accepting new connections. Run's goroutines exit once ctx
// (passed to Run) is canceled.
func (s *Service) Close() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
