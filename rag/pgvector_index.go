package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/campusrag/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PgvectorConfig PostgreSQL + pgvector 后端配置
type PgvectorConfig struct {
	DSN       string   `json:"dsn"`
	Table     string   `json:"table"`
	Dimension int      `json:"dimension"`
	Distance  Distance `json:"distance"`
	MaxConns  int32    `json:"max_conns"`
	HNSWM     int      `json:"hnsw_m"`
	HNSWEf    int      `json:"hnsw_ef_construct"`
}

// pgxConn *pgxpool.Pool 的最小子集
type pgxConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PgvectorIndex 基于 pgvector 扩展的 VectorIndex。
// 表结构：id text 主键、embedding vector(n)、payload jsonb、created_at。
type PgvectorIndex struct {
	conn   pgxConn
	pool   *pgxpool.Pool
	logger *zap.Logger

	mu  sync.RWMutex
	cfg PgvectorConfig
}

func (c PgvectorConfig) withDefaults() PgvectorConfig {
	if c.Table == "" {
		c.Table = "rag_documents"
	}
	if c.Distance == "" {
		c.Distance = DistanceCosine
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 10
	}
	if c.HNSWM <= 0 {
		c.HNSWM = 16
	}
	if c.HNSWEf <= 0 {
		c.HNSWEf = 100
	}
	return c
}

// NewPgvectorIndex 建立连接池并检查连通性
func NewPgvectorIndex(ctx context.Context, cfg PgvectorConfig, logger *zap.Logger) (*PgvectorIndex, error) {
	cfg = cfg.withDefaults()
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, types.NewConfigurationError(fmt.Sprintf("parse pgvector dsn: %v", err))
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pgvector pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, types.NewProviderUnavailableError("pgvector", err)
	}

	idx, err := newPgvectorIndex(pool, cfg, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	idx.pool = pool
	return idx, nil
}

func newPgvectorIndex(conn pgxConn, cfg PgvectorConfig, logger *zap.Logger) (*PgvectorIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	if !tableName.MatchString(cfg.Table) {
		return nil, types.NewConfigurationError(fmt.Sprintf("invalid pgvector table name %q", cfg.Table))
	}
	return &PgvectorIndex{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "pgvector_index")),
	}, nil
}

// Close 关闭自有连接池
func (p *PgvectorIndex) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PgvectorIndex) config() PgvectorConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *PgvectorIndex) table() string {
	return pgx.Identifier{p.config().Table}.Sanitize()
}

// =============================================================================
// 🧮 SQL 片段
// =============================================================================

// distanceOperator 返回距离运算符与 HNSW 运算符类
func distanceOperator(d Distance) (op, opclass string) {
	switch d {
	case DistanceDot:
		return "<#>", "vector_ip_ops"
	case DistanceEuclid:
		return "<->", "vector_l2_ops"
	default:
		return "<=>", "vector_cosine_ops"
	}
}

// distanceToScore 将 pgvector 距离换算为越大越相似的分数
func distanceToScore(d Distance, dist float64) float64 {
	switch d {
	case DistanceDot:
		// <#> 返回负内积
		return -dist
	case DistanceEuclid:
		return 1 / (1 + dist)
	default:
		return 1 - dist
	}
}

// containmentFilter 等值过滤转为 jsonb 包含条件
func containmentFilter(filters Filters) (string, error) {
	doc := make(map[string]any, len(filters))
	var meta map[string]any
	for key, value := range filters {
		field, inMeta := filterField(key)
		if !inMeta {
			doc[field] = value
			continue
		}
		if meta == nil {
			meta = make(map[string]any)
		}
		meta[field] = value
	}
	if meta != nil {
		doc["metadata"] = meta
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", types.NewInvalidRequestError(fmt.Sprintf("invalid filters: %v", err))
	}
	return string(raw), nil
}

// likePatterns 关键词转为 ILIKE 模式，转义通配符
func likePatterns(keywords []string) []string {
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	out := make([]string, len(keywords))
	for i, kw := range keywords {
		out[i] = "%" + escaper.Replace(kw) + "%"
	}
	return out
}

func toVector(v []float64) pgvector.Vector {
	f := make([]float32, len(v))
	for i, x := range v {
		f[i] = float32(x)
	}
	return pgvector.NewVector(f)
}

func decodePayload(raw []byte) (string, Payload, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	id, payload := payloadFromFields(m)
	return id, payload, nil
}

// =============================================================================
// 🎯 VectorIndex 实现
// =============================================================================

// CreateCollection 建表并创建 HNSW 索引，已存在时不做修改
func (p *PgvectorIndex) CreateCollection(ctx context.Context, name string, vectorSize int, distance Distance) error {
	if vectorSize <= 0 {
		return types.NewConfigurationError("pgvector vector size must be > 0")
	}
	if name != "" && !tableName.MatchString(name) {
		return types.NewConfigurationError(fmt.Sprintf("invalid pgvector table name %q", name))
	}

	p.mu.Lock()
	if name != "" {
		p.cfg.Table = name
	}
	p.cfg.Dimension = vectorSize
	if distance != "" {
		p.cfg.Distance = distance
	}
	cfg := p.cfg
	p.mu.Unlock()

	table := pgx.Identifier{cfg.Table}.Sanitize()
	indexName := pgx.Identifier{cfg.Table + "_embedding_idx"}.Sanitize()
	_, opclass := distanceOperator(cfg.Distance)
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id text PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload jsonb NOT NULL DEFAULT '{}'::jsonb,
			created_at timestamptz NOT NULL DEFAULT now()
		)`, table, vectorSize),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding %s) WITH (m = %d, ef_construction = %d)`,
			indexName, table, opclass, cfg.HNSWM, cfg.HNSWEf),
	}
	for _, stmt := range statements {
		if _, err := p.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create pgvector collection: %w", err)
		}
	}
	p.logger.Info("collection ready",
		zap.String("table", cfg.Table),
		zap.Int("dimension", vectorSize),
		zap.String("distance", string(cfg.Distance)))
	return nil
}

// Upsert 批量写入，冲突时覆盖向量与负载
func (p *PgvectorIndex) Upsert(ctx context.Context, docs []IndexedDocument) ([]string, error) {
	if len(docs) == 0 {
		return []string{}, nil
	}
	dim := p.config().Dimension
	query := fmt.Sprintf(`INSERT INTO %s (id, embedding, payload) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload`, p.table())

	ids := make([]string, len(docs))
	batch := &pgx.Batch{}
	for i, d := range docs {
		if len(d.Vector) == 0 {
			return nil, types.NewInvalidRequestError(fmt.Sprintf("document[%d] has no vector", i))
		}
		if dim > 0 && len(d.Vector) != dim {
			return nil, types.NewInvalidRequestError(fmt.Sprintf(
				"document[%d] vector dimension mismatch: got %d, want %d", i, len(d.Vector), dim))
		}
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id
		raw, err := json.Marshal(payloadFields(id, d.Payload))
		if err != nil {
			return nil, fmt.Errorf("encode payload for %s: %w", id, err)
		}
		batch.Queue(query, id, toVector(d.Vector), string(raw))
	}

	br := p.conn.SendBatch(ctx, batch)
	defer br.Close()
	for i := range docs {
		if _, err := br.Exec(); err != nil {
			return nil, fmt.Errorf("pgvector upsert %s: %w", ids[i], err)
		}
	}
	p.logger.Debug("pgvector upsert completed", zap.Int("count", len(docs)))
	return ids, nil
}

// Search 按距离升序检索
func (p *PgvectorIndex) Search(ctx context.Context, vector []float64, opts SearchOptions) ([]SearchHit, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}
	filter, err := containmentFilter(opts.Filters)
	if err != nil {
		return nil, err
	}
	distance := p.config().Distance
	op, _ := distanceOperator(distance)
	query := fmt.Sprintf(`SELECT id, payload, embedding %[1]s $1 AS distance FROM %[2]s
		WHERE payload @> $2::jsonb ORDER BY embedding %[1]s $1 LIMIT $3`, op, p.table())

	rows, err := p.conn.Query(ctx, query, toVector(vector), filter, limit)
	if err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	defer rows.Close()

	hits := make([]SearchHit, 0, limit)
	for rows.Next() {
		var (
			id   string
			raw  []byte
			dist float64
		)
		if err := rows.Scan(&id, &raw, &dist); err != nil {
			return nil, fmt.Errorf("scan pgvector row: %w", err)
		}
		_, payload, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		score := distanceToScore(distance, dist)
		if opts.ScoreThreshold > 0 && score < opts.ScoreThreshold {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Score: score, Payload: payload, Source: SourceVector})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector search: %w", err)
	}
	sortHits(hits)
	return hits, nil
}

// HybridSearch 关键词候选按查询词分别取，每个词最多 2×limit 行
func (p *PgvectorIndex) HybridSearch(ctx context.Context, vector []float64, queryText string, opts HybridOptions) ([]SearchHit, error) {
	opts = opts.withDefaults()
	vectorHits, err := p.Search(ctx, vector, SearchOptions{Limit: opts.Limit * 2, Filters: opts.Filters})
	if err != nil {
		return nil, err
	}

	var lexical []SearchHit
	if terms := lexicalTerms(queryText); len(terms) > 0 {
		lexical, err = p.lexicalCandidates(ctx, terms, opts.Limit*2, opts.Filters)
		if err != nil {
			return nil, err
		}
	}

	out := combineHybrid(vectorHits, lexical, queryText, opts)
	p.logger.Debug("hybrid search completed",
		zap.Int("vector_candidates", len(vectorHits)),
		zap.Int("lexical_candidates", len(lexical)),
		zap.Int("results", len(out)))
	return out, nil
}

// lexicalCandidates 对每个词做一次 LATERAL 子查询（正文或标题 ILIKE），按 ID 去重
func (p *PgvectorIndex) lexicalCandidates(ctx context.Context, terms []string, perTerm int, filters Filters) ([]SearchHit, error) {
	filter, err := containmentFilter(filters)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT DISTINCT ON (m.id) m.id, m.payload
		FROM unnest($2::text[]) AS kw(pattern)
		CROSS JOIN LATERAL (
			SELECT id, payload FROM %s
			WHERE payload @> $1::jsonb
				AND (payload->>'text' ILIKE kw.pattern OR payload->>'title' ILIKE kw.pattern)
			ORDER BY id LIMIT $3
		) AS m
		ORDER BY m.id`, p.table())

	page, err := p.queryDocuments(ctx, query, filter, likePatterns(terms), perTerm)
	if err != nil {
		return nil, fmt.Errorf("pgvector lexical search: %w", err)
	}
	out := make([]SearchHit, len(page))
	for i, d := range page {
		out[i] = SearchHit{ID: d.ID, Payload: d.Payload, Source: SourceKeyword}
	}
	return out, nil
}

// queryDocuments 执行返回 (id, payload) 的查询
func (p *PgvectorIndex) queryDocuments(ctx context.Context, query string, args ...any) ([]IndexedDocument, error) {
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexedDocument
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		_, payload, err := decodePayload(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, IndexedDocument{ID: id, Payload: payload})
	}
	return out, rows.Err()
}

// Delete 按 ID 删除
func (p *PgvectorIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, p.table())
	if _, err := p.conn.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("pgvector delete: %w", err)
	}
	return nil
}

// Scroll 按 ID 的 keyset 分页，多取一行判断是否有下一页
func (p *PgvectorIndex) Scroll(ctx context.Context, limit int, offset string, filters Filters) ([]IndexedDocument, string, error) {
	if limit <= 0 {
		limit = 100
	}
	filter, err := containmentFilter(filters)
	if err != nil {
		return nil, "", err
	}
	query := fmt.Sprintf(`SELECT id, payload FROM %s WHERE id > $1 AND payload @> $2::jsonb ORDER BY id LIMIT $3`, p.table())
	page, err := p.queryDocuments(ctx, query, offset, filter, limit+1)
	if err != nil {
		return nil, "", fmt.Errorf("pgvector scroll: %w", err)
	}
	next := ""
	if len(page) > limit {
		page = page[:limit]
		next = page[limit-1].ID
	}
	return page, next, nil
}

// Stats 统计行数，维度取列的类型修饰符
func (p *PgvectorIndex) Stats(ctx context.Context) (CollectionStats, error) {
	cfg := p.config()
	stats := CollectionStats{Dimension: cfg.Dimension, Distance: cfg.Distance}

	if err := p.conn.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.table())).Scan(&stats.Count); err != nil {
		return CollectionStats{}, fmt.Errorf("pgvector count: %w", err)
	}
	var typmod int
	err := p.conn.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::regclass AND attname = 'embedding'`,
		cfg.Table).Scan(&typmod)
	if err == nil && typmod > 0 {
		stats.Dimension = typmod
	}
	return stats, nil
}
