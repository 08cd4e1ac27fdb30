package graph

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/pobradovic08/as-infer/internal/metrics"
)

// Store is the Postgres-backed persistence layer for the topology graph
// and the inferred-path result cache.
type Store struct {
	pool           *pgxpool.Pool
	logger         *zap.Logger
	compressPaths  bool
	encoder        *zstd.Encoder
	decoder        *zstd.Decoder
}

func NewStore(pool *pgxpool.Pool, compressPaths bool, logger *zap.Logger) (*Store, error) {
	s := &Store{pool: pool, logger: logger, compressPaths: compressPaths}
	if compressPaths {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("graph: creating zstd encoder: %w", err)
		}
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("graph: creating zstd decoder: %w", err)
		}
		s.encoder = enc
		s.decoder = dec
	}
	return s, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) encodePath(path []int) ([]byte, error) {
	raw, err := json.Marshal(path)
	if err != nil {
		return nil, fmt.Errorf("graph: encoding path: %w", err)
	}
	if s.compressPaths {
		return s.encoder.EncodeAll(raw, nil), nil
	}
	return raw, nil
}

func (s *Store) decodePath(blob []byte) ([]int, error) {
	raw := blob
	if s.compressPaths {
		var err error
		raw, err = s.decoder.DecodeAll(blob, nil)
		if err != nil {
			return nil, fmt.Errorf("graph: decoding path: %w", err)
		}
	}
	var path []int
	if err := json.Unmarshal(raw, &path); err != nil {
		return nil, fmt.Errorf("graph: unmarshaling path: %w", err)
	}
	return path, nil
}

// UpsertAS inserts or updates a single AS node.
func (s *Store) UpsertAS(ctx context.Context, a AS) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ases (number, name)
		VALUES ($1, $2)
		ON CONFLICT (number) DO UPDATE SET name = EXCLUDED.name
	`, a.Number, a.Name)
	if err != nil {
		return fmt.Errorf("graph: upserting AS %d: %w", a.Number, err)
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("ases", "upsert").Inc()
	return nil
}

// UpsertLink records a directed adjacency observed under tag.
func (s *Store) UpsertLink(ctx context.Context, tag string, l Link) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO as_links (tag, as_from, as_to)
		VALUES ($1, $2, $3)
		ON CONFLICT (tag, as_from, as_to) DO NOTHING
	`, tag, l.From, l.To)
	if err != nil {
		return fmt.Errorf("graph: upserting link %d->%d (tag %s): %w", l.From, l.To, tag, err)
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("as_links", "upsert").Inc()
	return nil
}

// UpsertRelationship writes a relationship claim plus its enforced opposite,
// satisfying the antisymmetry invariant at write time.
func (s *Store) UpsertRelationship(ctx context.Context, r Relationship) error {
	opp, err := r.Relation.Opposite()
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("graph: beginning relationship tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO as_relationships (as1, as2, relation, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (as1, as2) DO UPDATE SET relation = EXCLUDED.relation, source = EXCLUDED.source
	`
	if _, err := tx.Exec(ctx, upsert, r.AS1, r.AS2, string(r.Relation), r.Source); err != nil {
		return fmt.Errorf("graph: upserting relationship %d-%d: %w", r.AS1, r.AS2, err)
	}
	if _, err := tx.Exec(ctx, upsert, r.AS2, r.AS1, string(opp), r.Source); err != nil {
		return fmt.Errorf("graph: upserting opposite relationship %d-%d: %w", r.AS2, r.AS1, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("graph: committing relationship tx: %w", err)
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("as_relationships", "upsert").Add(2)
	return nil
}

// Relationship returns the relation AS1 holds toward AS2, if known.
func (s *Store) Relationship(ctx context.Context, as1, as2 int) (Relation, bool, error) {
	var rel string
	err := s.pool.QueryRow(ctx, `
		SELECT relation FROM as_relationships WHERE as1 = $1 AND as2 = $2
	`, as1, as2).Scan(&rel)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("graph: looking up relationship %d-%d: %w", as1, as2, err)
	}
	return Relation(rel), true, nil
}

// Neighbors returns the set of ASes adjacent to as under tag, either
// direction (the undirected adjacency PathVectorBuilder expands over).
func (s *Store) Neighbors(ctx context.Context, tag string, as int) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT as_to FROM as_links WHERE tag = $1 AND as_from = $2
		UNION
		SELECT as_from FROM as_links WHERE tag = $1 AND as_to = $2
	`, tag, as)
	if err != nil {
		return nil, fmt.Errorf("graph: querying neighbors of %d (tag %s): %w", as, tag, err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("graph: scanning neighbor: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// AllLinks returns every directed link recorded under tag.
func (s *Store) AllLinks(ctx context.Context, tag string) ([]Link, error) {
	rows, err := s.pool.Query(ctx, `SELECT as_from, as_to FROM as_links WHERE tag = $1`, tag)
	if err != nil {
		return nil, fmt.Errorf("graph: querying links (tag %s): %w", tag, err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.From, &l.To); err != nil {
			return nil, fmt.Errorf("graph: scanning link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// StoreRIBPath persists one observed BGP AS path in full; no O(k^2)
// subsequence expansion is stored (see DESIGN.md: sure-path duplication
// cost). SurePathIndex reconstructs subsequences from these rows on load.
func (s *Store) StoreRIBPath(ctx context.Context, tag string, peerAS int, path []int) error {
	blob, err := s.encodePath(path)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rib_paths (tag, peer_as, path)
		VALUES ($1, $2, $3)
	`, tag, peerAS, blob)
	if err != nil {
		return fmt.Errorf("graph: storing RIB path (tag %s, peer %d): %w", tag, peerAS, err)
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("rib_paths", "insert").Inc()
	return nil
}

// LoadRIBPaths returns every full path observed under tag, in insertion
// order (first-wins semantics for SurePathIndex depend on this order).
func (s *Store) LoadRIBPaths(ctx context.Context, tag string) ([]RIBPath, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT peer_as, path FROM rib_paths WHERE tag = $1 ORDER BY id ASC
	`, tag)
	if err != nil {
		return nil, fmt.Errorf("graph: loading RIB paths (tag %s): %w", tag, err)
	}
	defer rows.Close()

	var out []RIBPath
	for rows.Next() {
		var peerAS int
		var blob []byte
		if err := rows.Scan(&peerAS, &blob); err != nil {
			return nil, fmt.Errorf("graph: scanning RIB path row: %w", err)
		}
		path, err := s.decodePath(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, RIBPath{Tag: tag, PeerAS: peerAS, Path: path})
	}
	return out, rows.Err()
}

// CacheSearched reports whether (tagSet, dst) has ever been searched. It
// says nothing about any particular src; CacheLookup answers that.
func (s *Store) CacheSearched(ctx context.Context, tagSet, dst string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM inferred_searched WHERE tag_set = $1 AND dst = $2)
	`, tagSet, dst).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("graph: checking searched marker (%s, %s): %w", tagSet, dst, err)
	}
	return exists, nil
}

// CacheLookup returns the cached path from src to dst under tagSet. found
// is false if no row exists for this src (searched, but no path to src).
func (s *Store) CacheLookup(ctx context.Context, tagSet, dst, src string) (path []int, found bool, err error) {
	var blob []byte
	err = s.pool.QueryRow(ctx, `
		SELECT path FROM inferred_paths WHERE tag_set = $1 AND dst = $2 AND src = $3
	`, tagSet, dst, src).Scan(&blob)
	if err == pgx.ErrNoRows {
		metrics.CacheLookupsTotal.WithLabelValues("miss_searched_no_path").Inc()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("graph: cache lookup (%s, %s, %s): %w", tagSet, dst, src, err)
	}
	path, err = s.decodePath(blob)
	if err != nil {
		return nil, false, err
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return path, true, nil
}

// CacheMarkSearched records that tagSet/dst has been fully searched.
func (s *Store) CacheMarkSearched(ctx context.Context, tagSet, dst string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inferred_searched (tag_set, dst) VALUES ($1, $2)
		ON CONFLICT (tag_set, dst) DO NOTHING
	`, tagSet, dst)
	if err != nil {
		return fmt.Errorf("graph: marking searched (%s, %s): %w", tagSet, dst, err)
	}
	return nil
}

// CacheStore writes the inferred path from src to dst. Write-once per
// (tagSet, dst, src): a second write for the same key is a no-op, matching
// the store's invariant that an inferred path, once recorded, never changes
// underneath a concurrent reader.
func (s *Store) CacheStore(ctx context.Context, tagSet, dst, src string, path []int) error {
	blob, err := s.encodePath(path)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO inferred_paths (tag_set, dst, src, path)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tag_set, dst, src) DO NOTHING
	`, tagSet, dst, src, blob)
	if err != nil {
		return fmt.Errorf("graph: storing inferred path (%s, %s, %s): %w", tagSet, dst, src, err)
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("inferred_paths", "insert").Inc()
	return nil
}

// IXPCrossingsFor returns known IXP crossings for the given directed AS
// adjacency, used by the post-hoc IXP-annotation step.
func (s *Store) IXPCrossingsFor(ctx context.Context, from, to int) ([]IXPCrossing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ixp_id, confidence FROM ixp_crossings WHERE as_from = $1 AND as_to = $2
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("graph: querying IXP crossings %d->%d: %w", from, to, err)
	}
	defer rows.Close()

	var out []IXPCrossing
	for rows.Next() {
		c := IXPCrossing{From: from, To: to}
		if err := rows.Scan(&c.IXPID, &c.Confidence); err != nil {
			return nil, fmt.Errorf("graph: scanning IXP crossing: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertIXPCrossing records a directed IXP crossing, used by `cmd/as-infer
// load` when ingesting an IXP datafile.
func (s *Store) UpsertIXPCrossing(ctx context.Context, c IXPCrossing) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ixp_crossings (as_from, as_to, ixp_id, confidence)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (as_from, as_to, ixp_id) DO UPDATE SET confidence = EXCLUDED.confidence
	`, c.From, c.To, c.IXPID, c.Confidence)
	if err != nil {
		return fmt.Errorf("graph: upserting IXP crossing %d->%d (%s): %w", c.From, c.To, c.IXPID, err)
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("ixp_crossings", "upsert").Inc()
	return nil
}

// UpsertRIBTag records a RIB tag's existence (first-seen/last-seen ingest
// bookkeeping), the persistent counterpart of the RIB Tag data model entity.
func (s *Store) UpsertRIBTag(ctx context.Context, tag string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rib_tags (tag) VALUES ($1)
		ON CONFLICT (tag) DO UPDATE SET last_seen_at = now()
	`, tag)
	if err != nil {
		return fmt.Errorf("graph: upserting RIB tag %s: %w", tag, err)
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("rib_tags", "upsert").Inc()
	return nil
}

// UpsertMetaIXP persists the MetaIXP equivalence grouping for an IXP ID,
// the durable counterpart of `ixp.Data`'s in-memory, file-loaded lookup.
func (s *Store) UpsertMetaIXP(ctx context.Context, ixpID, metaID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ixp_meta (ixp_id, meta_id) VALUES ($1, $2)
		ON CONFLICT (ixp_id) DO UPDATE SET meta_id = EXCLUDED.meta_id
	`, ixpID, metaID)
	if err != nil {
		return fmt.Errorf("graph: upserting MetaIXP grouping for %s: %w", ixpID, err)
	}
	metrics.DBRowsAffectedTotal.WithLabelValues("ixp_meta", "upsert").Inc()
	return nil
}

// ListRIBTags returns every RIB tag this store has ever seen data for,
// oldest-first, backing the `list --tags` CLI subcommand.
func (s *Store) ListRIBTags(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT tag FROM rib_tags ORDER BY first_seen_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("graph: listing RIB tags: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("graph: scanning RIB tag: %w", err)
		}
		out = append(out, tag)
	}
	return out, rows.Err()
}

// DeleteTagData removes every link, RIB path, and cached/searched inferred
// path recorded under tag, plus the tag's own rib_tags row. Backs the
// `clean --rib-links` CLI subcommand.
func (s *Store) DeleteTagData(ctx context.Context, tag string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("graph: beginning clean tx for tag %s: %w", tag, err)
	}
	defer tx.Rollback(ctx)

	stmts := []string{
		`DELETE FROM as_links WHERE tag = $1`,
		`DELETE FROM rib_paths WHERE tag = $1`,
		`DELETE FROM inferred_paths WHERE tag_set = $1`,
		`DELETE FROM inferred_searched WHERE tag_set = $1`,
		`DELETE FROM queue_dedup WHERE tag = $1`,
		`DELETE FROM rib_tags WHERE tag = $1`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(ctx, stmt, tag); err != nil {
			return fmt.Errorf("graph: cleaning tag %s: %w", tag, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("graph: committing clean tx for tag %s: %w", tag, err)
	}
	return nil
}

// DeleteRelationships clears every AS-relationship claim. Backs the
// `clean --as-rel` CLI subcommand.
func (s *Store) DeleteRelationships(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM as_relationships`); err != nil {
		return fmt.Errorf("graph: cleaning relationships: %w", err)
	}
	return nil
}

// DeleteASes clears the ases table. Backs the `clean --base-links` CLI
// subcommand (the original's base-graph reset).
func (s *Store) DeleteASes(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ases`); err != nil {
		return fmt.Errorf("graph: cleaning ases: %w", err)
	}
	return nil
}

// LoadMetaIXP returns every persisted IXP-ID -> MetaIXP grouping, used to
// rehydrate `ixp.Data` at service startup without requiring the MetaIXP
// datafile to still be present on disk.
func (s *Store) LoadMetaIXP(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT ixp_id, meta_id FROM ixp_meta`)
	if err != nil {
		return nil, fmt.Errorf("graph: loading MetaIXP groupings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var ixpID, metaID string
		if err := rows.Scan(&ixpID, &metaID); err != nil {
			return nil, fmt.Errorf("graph: scanning MetaIXP row: %w", err)
		}
		out[ixpID] = metaID
	}
	return out, rows.Err()
}
