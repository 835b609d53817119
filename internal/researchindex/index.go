// Package researchindex persists past research invocations (query,
// findings, embedding) to a durable SQLite database so later, topically
// related queries can be recognized even when the response cache (C15)
// misses on fingerprint. Adapted from codeNERD's internal/store
// vector_store.go / migrations.go: a modernc.org/sqlite-backed table with
// a schema version counter and float32 embeddings encoded as little-endian
// BLOBs, searched by in-process cosine similarity rather than a sqlite-vec
// virtual table (the index is expected to stay in the thousands-of-rows
// range, not millions, so an ANN index earns its complexity less here than
// it does in codeNERD's knowledge base).
package researchindex

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"researchcore/internal/domain"
	"researchcore/internal/logging"
)

// CurrentSchemaVersion tracks the researchindex table shape, stored in the
// database's PRAGMA user_version so migrate knows which upgrades to apply.
// v2 adds topic/keyword/quality/confidence/expiry columns to v1's
// entries(id, query_text, session_id, intent, result_json, embedding, created_at)
// per spec.md §3's ResearchIndexEntry and §4.16's topic/keyword search ops.
const CurrentSchemaVersion = 2

// v2Columns are the columns v2 added over v1, applied as ALTERs when
// attaching to a v1 database.
var v2Columns = []string{
	`primary_topic TEXT NOT NULL DEFAULT ''`,
	`keywords TEXT NOT NULL DEFAULT ''`,
	`completeness REAL NOT NULL DEFAULT 0`,
	`source_quality REAL NOT NULL DEFAULT 0`,
	`overall_quality REAL NOT NULL DEFAULT 0`,
	`confidence_initial REAL NOT NULL DEFAULT 0`,
	`decay_rate REAL NOT NULL DEFAULT 0`,
	`expires_at INTEGER NOT NULL DEFAULT 0`,
	`doc_path TEXT NOT NULL DEFAULT ''`,
	`content_types TEXT NOT NULL DEFAULT ''`,
	`scope TEXT NOT NULL DEFAULT ''`,
}

// Index is the durable store of past research() invocations.
type Index struct {
	db *sql.DB
}

// Entry is one past research invocation recalled from the index
// (spec.md §3 ResearchIndexEntry).
type Entry struct {
	ID         int64
	QueryText  string
	SessionID  string
	Intent     domain.Intent
	Result     domain.ResearchResult
	Similarity float64
	CreatedAt  time.Time

	PrimaryTopic      string
	Keywords          []string
	Completeness      float64
	SourceQuality     float64
	OverallQuality    float64
	ConfidenceInitial float64
	DecayRate         float64
	ExpiresAt         time.Time
	DocPath           string
	ContentTypes      []string
	Scope             string
}

// Confidence returns the entry's decayed confidence as of now (spec.md §3:
// "confidence (initial + decay_rate)").
func (e Entry) Confidence(now time.Time) float64 {
	return ConfidenceAt(e.ConfidenceInitial, e.DecayRate, e.CreatedAt, now)
}

// Expired reports whether the entry has passed its expiry.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Meta carries the topic/quality/confidence/expiry metadata Record attaches
// to a persisted entry, beyond the raw query/result/embedding.
type Meta struct {
	PrimaryTopic   string
	Keywords       []string
	Completeness   float64
	SourceQuality  float64
	OverallQuality float64
	ContentType    ContentType
	DocPath        string
	ContentTypes   []string
	Scope          string
}

// Open creates (or attaches to) the SQLite file at path and ensures schema.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("researchindex: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("researchindex: ping %s: %w", path, err)
	}
	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	timer := logging.StartTimer(logging.CategoryIndex, "migrate")
	defer timer.Stop()

	var version int
	if err := idx.db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("researchindex: read user_version: %w", err)
	}
	if version > CurrentSchemaVersion {
		return fmt.Errorf("researchindex: database schema v%d is newer than this binary's v%d", version, CurrentSchemaVersion)
	}

	_, err := idx.db.Exec(`
CREATE TABLE IF NOT EXISTS entries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	query_text TEXT NOT NULL,
	session_id TEXT NOT NULL,
	intent TEXT NOT NULL,
	result_json TEXT NOT NULL,
	embedding BLOB,
	created_at INTEGER NOT NULL,
	primary_topic TEXT NOT NULL DEFAULT '',
	keywords TEXT NOT NULL DEFAULT '',
	completeness REAL NOT NULL DEFAULT 0,
	source_quality REAL NOT NULL DEFAULT 0,
	overall_quality REAL NOT NULL DEFAULT 0,
	confidence_initial REAL NOT NULL DEFAULT 0,
	decay_rate REAL NOT NULL DEFAULT 0,
	expires_at INTEGER NOT NULL DEFAULT 0,
	doc_path TEXT NOT NULL DEFAULT '',
	content_types TEXT NOT NULL DEFAULT '',
	scope TEXT NOT NULL DEFAULT ''
)`)
	if err != nil {
		return fmt.Errorf("researchindex: create entries table: %w", err)
	}
	_, err = idx.db.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_session ON entries(session_id)`)
	if err != nil {
		return fmt.Errorf("researchindex: create session index: %w", err)
	}
	// A v1 database predates the CREATE's v2 columns; add them in place.
	if version == 1 {
		for _, col := range v2Columns {
			if _, err := idx.db.Exec(`ALTER TABLE entries ADD COLUMN ` + col); err != nil {
				return fmt.Errorf("researchindex: upgrade v1 schema: %w", err)
			}
		}
	}
	_, err = idx.db.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_topic ON entries(primary_topic)`)
	if err != nil {
		return fmt.Errorf("researchindex: create topic index: %w", err)
	}
	if version != CurrentSchemaVersion {
		if _, err := idx.db.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, CurrentSchemaVersion)); err != nil {
			return fmt.Errorf("researchindex: set user_version: %w", err)
		}
	}
	return nil
}

// Record stores one completed research invocation with its embedding (the
// orchestrator passes the embedding of the raw query text, whether or not
// Phase 2 ran) together with meta, the topic/quality/confidence
// metadata spec.md §3 attaches to a ResearchIndexEntry.
func (idx *Index) Record(ctx context.Context, query domain.Query, result domain.ResearchResult, embedding []float32, meta Meta) error {
	timer := logging.StartTimer(logging.CategoryIndex, "Record")
	defer timer.Stop()

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("researchindex: marshal result: %w", err)
	}
	var blob []byte
	if len(embedding) > 0 {
		blob = encodeFloat32Slice(embedding)
	}

	now := time.Now()
	decayRate := DecayRate(meta.ContentType)
	expiresAt := ExpiryFor(meta.ContentType, now)
	contentTypes := meta.ContentTypes
	if len(contentTypes) == 0 && meta.ContentType != "" {
		contentTypes = []string{string(meta.ContentType)}
	}

	_, err = idx.db.ExecContext(ctx,
		`INSERT INTO entries (
			query_text, session_id, intent, result_json, embedding, created_at,
			primary_topic, keywords, completeness, source_quality, overall_quality,
			confidence_initial, decay_rate, expires_at, doc_path, content_types, scope
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		query.Text, query.SessionID, string(result.Intent), string(resultJSON), blob, now.Unix(),
		meta.PrimaryTopic, strings.Join(meta.Keywords, ","), meta.Completeness, meta.SourceQuality, meta.OverallQuality,
		meta.OverallQuality, decayRate, expiresAt.Unix(), meta.DocPath, strings.Join(contentTypes, ","), meta.Scope,
	)
	if err != nil {
		return fmt.Errorf("researchindex: insert entry: %w", err)
	}
	return nil
}

const entryColumns = `id, query_text, session_id, intent, result_json, embedding, created_at,
	primary_topic, keywords, completeness, source_quality, overall_quality,
	confidence_initial, decay_rate, expires_at, doc_path, content_types, scope`

func scanEntry(rows *sql.Rows) (Entry, []byte, error) {
	var e Entry
	var intent, resultJSON, keywords, contentTypes string
	var blob []byte
	var createdAt, expiresAt int64
	err := rows.Scan(
		&e.ID, &e.QueryText, &e.SessionID, &intent, &resultJSON, &blob, &createdAt,
		&e.PrimaryTopic, &keywords, &e.Completeness, &e.SourceQuality, &e.OverallQuality,
		&e.ConfidenceInitial, &e.DecayRate, &expiresAt, &e.DocPath, &contentTypes, &e.Scope,
	)
	if err != nil {
		return e, nil, fmt.Errorf("researchindex: scan entry: %w", err)
	}
	e.Intent = domain.Intent(intent)
	e.CreatedAt = time.Unix(createdAt, 0)
	if expiresAt > 0 {
		e.ExpiresAt = time.Unix(expiresAt, 0)
	}
	e.Keywords = splitNonEmpty(keywords)
	e.ContentTypes = splitNonEmpty(contentTypes)
	if err := json.Unmarshal([]byte(resultJSON), &e.Result); err != nil {
		return e, nil, err
	}
	return e, blob, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// SimilarPast returns past entries ranked by cosine similarity to embedding,
// restricted to sessionID when sessionID is non-empty. Entries with no
// stored embedding are skipped.
func (idx *Index) SimilarPast(ctx context.Context, embedding []float32, sessionID string, topK int) ([]Entry, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "SimilarPast")
	defer timer.Stop()

	if topK <= 0 {
		topK = 5
	}

	query := `SELECT ` + entryColumns + ` FROM entries WHERE embedding IS NOT NULL`
	args := []interface{}{}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	rows, err := idx.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("researchindex: query entries: %w", err)
	}
	defer rows.Close()

	var candidates []Entry
	for rows.Next() {
		e, blob, err := scanEntry(rows)
		if err != nil {
			continue
		}
		vec := decodeFloat32Slice(blob)
		e.Similarity = cosineSimilarity32(embedding, vec)
		candidates = append(candidates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortEntriesBySimilarityDesc(candidates)
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// FindByTopic returns entries whose primary_topic is an exact match or a
// dotted descendant of topic, ranked by how close a match (spec.md §4.16:
// "search by topic (exact + parent prefix)").
func (idx *Index) FindByTopic(ctx context.Context, topic string, topK int) ([]Entry, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "FindByTopic")
	defer timer.Stop()
	if topK <= 0 {
		topK = 5
	}

	rows, err := idx.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("researchindex: query entries: %w", err)
	}
	defer rows.Close()

	var matches []Entry
	for rows.Next() {
		e, _, err := scanEntry(rows)
		if err != nil {
			continue
		}
		if isParentPrefix(topic, e.PrimaryTopic) {
			matches = append(matches, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByScoreDesc(matches, func(e Entry) float64 { return topicMatchScore(topic, e.PrimaryTopic) })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// SearchByKeywords returns entries ranked by the fraction of keywords they
// share with the query keyword set (spec.md §4.16: "search by keyword set").
func (idx *Index) SearchByKeywords(ctx context.Context, keywords []string, topK int) ([]Entry, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "SearchByKeywords")
	defer timer.Stop()
	if topK <= 0 {
		topK = 5
	}

	rows, err := idx.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("researchindex: query entries: %w", err)
	}
	defer rows.Close()

	var matches []Entry
	for rows.Next() {
		e, _, err := scanEntry(rows)
		if err != nil {
			continue
		}
		if keywordOverlapScore(keywords, e.Keywords) > 0 {
			matches = append(matches, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByScoreDesc(matches, func(e Entry) float64 { return keywordOverlapScore(keywords, e.Keywords) })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// FindRelated returns entries whose topic is a sibling of topic: same parent
// path, different leaf (spec.md §4.16: "find related by sibling topic path").
func (idx *Index) FindRelated(ctx context.Context, topic string, topK int) ([]Entry, error) {
	timer := logging.StartTimer(logging.CategoryIndex, "FindRelated")
	defer timer.Stop()
	if topK <= 0 {
		topK = 5
	}

	rows, err := idx.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("researchindex: query entries: %w", err)
	}
	defer rows.Close()

	var matches []Entry
	for rows.Next() {
		e, _, err := scanEntry(rows)
		if err != nil {
			continue
		}
		if isSibling(topic, e.PrimaryTopic) {
			matches = append(matches, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// RankScore combines topical match, quality, freshness, and current
// confidence into the single ranking score spec.md §4.16 requires each
// query result to carry ("combining topical match, quality, freshness, and
// current confidence").
func RankScore(e Entry, queryTopic string, now time.Time) float64 {
	topicScore := 1.0
	if queryTopic != "" {
		topicScore = topicMatchScore(queryTopic, e.PrimaryTopic)
	}
	ageDays := now.Sub(e.CreatedAt).Hours() / 24
	freshness := 1.0 / (1.0 + ageDays/30.0)
	confidence := e.Confidence(now)
	return 0.35*topicScore + 0.25*e.OverallQuality + 0.15*freshness + 0.25*confidence
}

// Close releases the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	_ = binary.Write(buf, binary.LittleEndian, vec)
	return buf.Bytes()
}

func decodeFloat32Slice(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	out := make([]float32, len(blob)/4)
	_ = binary.Read(bytes.NewReader(blob), binary.LittleEndian, &out)
	return out
}

func cosineSimilarity32(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortEntriesBySimilarityDesc(entries []Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Similarity > entries[j-1].Similarity; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
