// Package memory – sqlite.go implements VectorStore on SQLite. Embeddings
// are stored as JSON-encoded float32 arrays and ranked with in-process
// cosine similarity, which avoids a vector extension while keeping
// semantic retrieval. Without an embedder the store falls back to keyword
// overlap scoring with a recency tiebreak.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver.

	"github.com/jholhewres/mimic/pkg/mimic/llm"
)

// SQLiteStore persists memories in a local SQLite database.
type SQLiteStore struct {
	db       *sql.DB
	embedder llm.Embedder
	logger   *slog.Logger
}

// NewSQLiteStore opens or creates the memory database. The embedder may be
// nil; search then uses keyword scoring.
func NewSQLiteStore(path string, embedder llm.Embedder, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	store := &SQLiteStore{
		db:       db,
		embedder: embedder,
		logger:   logger.With("component", "memory"),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id            TEXT PRIMARY KEY,
			text          TEXT NOT NULL,
			time          DATETIME NOT NULL,
			target_kind   TEXT NOT NULL DEFAULT 'self',
			target_name   TEXT NOT NULL DEFAULT '',
			author_id     TEXT NOT NULL DEFAULT '',
			channel_id    TEXT NOT NULL DEFAULT '',
			guild_id      TEXT NOT NULL DEFAULT '',
			plugin_name   TEXT NOT NULL DEFAULT '',
			plugin_params TEXT NOT NULL DEFAULT '',
			embedding     TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_memories_guild  ON memories(guild_id);
		CREATE INDEX IF NOT EXISTS idx_memories_author ON memories(author_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert stores entries, overwriting existing IDs.
func (s *SQLiteStore) Insert(ctx context.Context, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO memories
			(id, text, time, target_kind, target_name, author_id, channel_id, guild_id, plugin_name, plugin_params, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}

		var embJSON any
		if s.embedder != nil {
			emb, err := s.embedder.Embed(ctx, e.Text)
			if err != nil {
				// Store without the embedding rather than losing the memory.
				s.logger.Warn("embedding failed, storing without vector", "id", e.ID, "error", err)
			} else if data, err := json.Marshal(emb); err == nil {
				embJSON = string(data)
			}
		}

		kind := e.TargetKind
		if kind == "" {
			kind = TargetSelf
		}

		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Text, e.Time.UTC(), string(kind), e.TargetName,
			e.AuthorID, e.ChannelID, e.GuildID, e.PluginName, e.PluginParams, embJSON,
		); err != nil {
			return fmt.Errorf("insert memory %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

// Search returns up to limit entries most relevant to the query.
func (s *SQLiteStore) Search(ctx context.Context, query string, filter Filter, limit int) ([]Entry, error) {
	if limit <= 0 {
		return nil, nil
	}

	where, args := buildFilter(filter)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, time, target_kind, target_name, author_id, channel_id, guild_id, plugin_name, plugin_params, embedding
		FROM memories `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	type scored struct {
		entry Entry
		score float64
	}
	var candidates []scored

	var queryEmb []float32
	if s.embedder != nil {
		if emb, err := s.embedder.Embed(ctx, query); err == nil {
			queryEmb = emb
		} else {
			s.logger.Warn("query embedding failed, falling back to keywords", "error", err)
		}
	}

	for rows.Next() {
		var e Entry
		var kind string
		var t time.Time
		var embRaw sql.NullString
		if err := rows.Scan(&e.ID, &e.Text, &t, &kind, &e.TargetName,
			&e.AuthorID, &e.ChannelID, &e.GuildID, &e.PluginName, &e.PluginParams, &embRaw); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		e.Time = t
		e.TargetKind = TargetKind(kind)

		score := 0.0
		if queryEmb != nil && embRaw.Valid {
			var emb []float32
			if json.Unmarshal([]byte(embRaw.String), &emb) == nil {
				score = cosine(queryEmb, emb)
			}
		} else {
			score = keywordScore(query, e.Text)
		}

		candidates = append(candidates, scored{entry: e, score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.Time.After(candidates[j].entry.Time)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]Entry, 0, len(candidates))
	for _, c := range candidates {
		if c.score <= 0 {
			continue
		}
		out = append(out, c.entry)
	}
	return out, nil
}

func buildFilter(f Filter) (string, []any) {
	var clauses []string
	var args []any

	if f.TargetKind != "" {
		clauses = append(clauses, "target_kind = ?")
		args = append(args, string(f.TargetKind))
	}
	if f.TargetName != "" {
		clauses = append(clauses, "target_name = ?")
		args = append(args, f.TargetName)
	}
	if f.GuildID != "" {
		clauses = append(clauses, "guild_id = ?")
		args = append(args, f.GuildID)
	}
	if f.AuthorID != "" {
		clauses = append(clauses, "author_id = ?")
		args = append(args, f.AuthorID)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// cosine computes cosine similarity between two vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

// keywordScore is the embedder-less fallback: fraction of query words
// present in the text.
func keywordScore(query, text string) float64 {
	words := strings.Fields(strings.ToLower(query))
	if len(words) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// Compile-time interface verification.
var _ VectorStore = (*SQLiteStore)(nil)
