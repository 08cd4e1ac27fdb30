// Package ribload adapts the BMP/OpenBMP wire decoders into an offline
// RIB-snapshot loader: it walks a file of concatenated OpenBMP-framed BGP
// UPDATE messages, extracts the AS path carried by each Route Monitoring
// announcement (of any peer type), and persists ASes, directed adjacencies, and full RIB
// paths into the graph store under a single RIB tag.
package ribload

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/pobradovic08/as-infer/internal/bgp"
	"github.com/pobradovic08/as-infer/internal/bmp"
	"github.com/pobradovic08/as-infer/internal/graph"
)

// Stats summarizes one LoadDump run for the CLI's closing log line.
type Stats struct {
	Frames  int
	Updates int
	Paths   int
	ASes    int
	Links   int
	Errors  int
}

// ParsedPath is one AS path extracted from a BGP UPDATE, in AS_PATH order
// (nearest neighbor first, origin last), before it is persisted.
type ParsedPath struct {
	PeerAS int
	ASes   []int
}

// ParseDump walks buf, the full contents of a RIB-dump file made of
// concatenated OpenBMP frames, and extracts every announced AS path.
// A malformed BMP or BGP message is logged, counted and skipped. A bad
// OpenBMP frame is logged and counted too, but ends the walk, since the
// frame boundary after it is lost; the paths found before it are returned.
func ParseDump(buf []byte, maxPayloadBytes int, logger *zap.Logger) ([]ParsedPath, Stats) {
	var stats Stats
	var paths []ParsedPath

	offset := 0
	for offset < len(buf) {
		payload, consumed, err := bmp.NextFrame(buf[offset:], maxPayloadBytes)
		if err != nil {
			stats.Errors++
			logger.Warn("ribload: bad openbmp frame, stopping", zap.Int("offset", offset), zap.Error(err))
			break
		}
		offset += consumed
		stats.Frames++

		parsed, err := bmp.Parse(payload)
		if err != nil {
			stats.Errors++
			logger.Warn("ribload: bad bmp message", zap.Error(err))
			continue
		}
		if parsed.MsgType != bmp.MsgTypeRouteMonitoring || len(parsed.BGPData) == 0 {
			continue
		}

		events, err := bgp.ParseUpdate(parsed.BGPData, parsed.HasAddPath)
		if err != nil {
			stats.Errors++
			logger.Warn("ribload: bad bgp update", zap.Error(err))
			continue
		}
		stats.Updates++

		for _, ev := range events {
			if ev.Action != "A" || ev.ASPath == "" {
				continue
			}
			asPath := splitASPath(ev.ASPath)
			if len(asPath) == 0 {
				continue
			}
			paths = append(paths, ParsedPath{PeerAS: asPath[0], ASes: asPath})
			stats.Paths++
		}
	}

	return paths, stats
}

// LoadDump parses buf and persists every extracted path into store under
// tag: one StoreRIBPath row per path, plus a deduplicated UpsertAS/
// UpsertLink pass over every AS and adjacency seen across the dump.
func LoadDump(ctx context.Context, store *graph.Store, tag string, buf []byte, maxPayloadBytes int, logger *zap.Logger) (Stats, error) {
	paths, stats := ParseDump(buf, maxPayloadBytes, logger)

	seenAS := make(map[int]bool)
	seenLink := make(map[[2]int]bool)

	for _, p := range paths {
		if err := store.StoreRIBPath(ctx, tag, p.PeerAS, p.ASes); err != nil {
			return stats, fmt.Errorf("ribload: storing path: %w", err)
		}

		for _, as := range p.ASes {
			if seenAS[as] {
				continue
			}
			seenAS[as] = true
			if err := store.UpsertAS(ctx, graph.AS{Number: as}); err != nil {
				return stats, fmt.Errorf("ribload: upserting AS %d: %w", as, err)
			}
			stats.ASes++
		}

		for i := 0; i+1 < len(p.ASes); i++ {
			key := [2]int{p.ASes[i], p.ASes[i+1]}
			if seenLink[key] {
				continue
			}
			seenLink[key] = true
			if err := store.UpsertLink(ctx, tag, graph.Link{From: key[0], To: key[1]}); err != nil {
				return stats, fmt.Errorf("ribload: upserting link %d->%d: %w", key[0], key[1], err)
			}
			stats.Links++
		}
	}

	return stats, nil
}

// splitASPath turns a space-joined AS_PATH string into its AS sequence.
// Returns nil if the path contains an AS_SET token (ambiguous origin) or
// any non-numeric field.
func splitASPath(asPath string) []int {
	fields := strings.Fields(asPath)
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		if strings.HasPrefix(f, "{") {
			return nil
		}
		as, err := strconv.Atoi(f)
		if err != nil {
			return nil
		}
		out = append(out, as)
	}
	return out
}
