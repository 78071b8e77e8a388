package questionbank

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB persists questions in sqlite. It is the durable collaborator behind a
// store's SaveFunc; the store itself never touches it.
type DB struct {
	db *sql.DB
}

// OpenDB opens a new database connection
func OpenDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection keeps ":memory:" databases coherent
	db.SetMaxOpenConns(1)

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.db.Close()
}

// CreateTables creates the necessary tables if they don't exist
func (db *DB) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS questions (
			id TEXT PRIMARY KEY,
			unique_id TEXT NOT NULL,
			language TEXT NOT NULL,
			partition_tag TEXT NOT NULL,
			discipline TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			type TEXT NOT NULL,
			question TEXT NOT NULL,
			options TEXT NOT NULL,
			correct TEXT NOT NULL,
			explanation TEXT,
			status TEXT NOT NULL,
			source_url TEXT,
			source_excerpt TEXT,
			creator_name TEXT,
			reviewer_name TEXT,
			quality_score INTEGER,
			critique TEXT,
			critique_score INTEGER,
			rejection_reason TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_questions_variant ON questions(unique_id, language)`,
	}

	for _, query := range queries {
		if _, err := db.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}

// SaveQuestions upserts questions in one transaction, keyed by id.
// Its signature matches SaveFunc.
func (db *DB) SaveQuestions(ctx context.Context, partition Partition, questions []Question) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO questions (
			id, unique_id, language, partition_tag, discipline, difficulty, type, question, options,
			correct, explanation, status, source_url, source_excerpt, creator_name, reviewer_name,
			quality_score, critique, critique_score, rejection_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			discipline = excluded.discipline,
			difficulty = excluded.difficulty,
			type = excluded.type,
			question = excluded.question,
			options = excluded.options,
			correct = excluded.correct,
			explanation = excluded.explanation,
			status = excluded.status,
			source_url = excluded.source_url,
			source_excerpt = excluded.source_excerpt,
			reviewer_name = excluded.reviewer_name,
			quality_score = excluded.quality_score,
			critique = excluded.critique,
			critique_score = excluded.critique_score,
			rejection_reason = excluded.rejection_reason`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("failed to marshal options: %w", err)
		}
		createdAt := q.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			q.ID, q.UniqueID, NormalizeLanguage(q.Language), string(partition), q.Discipline, q.Difficulty,
			string(q.Type), q.Question, string(options), q.Correct, q.Explanation, string(q.Status),
			q.SourceURL, q.SourceExcerpt, q.CreatorName, q.ReviewerName,
			q.QualityScore, q.Critique, q.CritiqueScore, q.RejectionReason, createdAt,
		); err != nil {
			return fmt.Errorf("failed to save question %s: %w", q.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit questions: %w", err)
	}
	return nil
}

// LoadQuestions returns every stored question in insertion order
func (db *DB) LoadQuestions(ctx context.Context) ([]Question, error) {
	questions, _, err := db.load(ctx)
	return questions, err
}

// LoadInto merges every stored question into store under the partition it
// was saved with and returns how many were merged
func (db *DB) LoadInto(ctx context.Context, store *QuestionStore) (int, error) {
	questions, partitions, err := db.load(ctx)
	if err != nil {
		return 0, err
	}
	byPartition := make(map[Partition][]Question)
	var order []Partition
	for i, q := range questions {
		p := partitions[i]
		if _, seen := byPartition[p]; !seen {
			order = append(order, p)
		}
		byPartition[p] = append(byPartition[p], q)
	}
	merged := 0
	for _, p := range order {
		merged += len(store.Merge(byPartition[p], p))
	}
	return merged, nil
}

func (db *DB) load(ctx context.Context) ([]Question, []Partition, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT id, unique_id, language, partition_tag, discipline, difficulty, type,
			question, options, correct, COALESCE(explanation, ''), status, COALESCE(source_url, ''),
			COALESCE(source_excerpt, ''), COALESCE(creator_name, ''), COALESCE(reviewer_name, ''),
			COALESCE(quality_score, 0), COALESCE(critique, ''), COALESCE(critique_score, 0),
			COALESCE(rejection_reason, ''), created_at
		FROM questions ORDER BY rowid`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var (
		questions  []Question
		partitions []Partition
	)
	for rows.Next() {
		var (
			q         Question
			partition string
			qType     string
			status    string
			options   string
		)
		if err := rows.Scan(&q.ID, &q.UniqueID, &q.Language, &partition, &q.Discipline, &q.Difficulty, &qType,
			&q.Question, &options, &q.Correct, &q.Explanation, &status, &q.SourceURL,
			&q.SourceExcerpt, &q.CreatorName, &q.ReviewerName,
			&q.QualityScore, &q.Critique, &q.CritiqueScore,
			&q.RejectionReason, &q.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan question: %w", err)
		}
		if err := json.Unmarshal([]byte(options), &q.Options); err != nil {
			return nil, nil, fmt.Errorf("failed to unmarshal options of %s: %w", q.ID, err)
		}
		q.Type = QuestionType(qType)
		q.Status = QuestionStatus(status)
		questions = append(questions, q)
		partitions = append(partitions, Partition(partition))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read questions: %w", err)
	}
	return questions, partitions, nil
}

// DeleteQuestion removes a question by id
func (db *DB) DeleteQuestion(ctx context.Context, id string) error {
	if _, err := db.db.ExecContext(ctx, "DELETE FROM questions WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete question %s: %w", id, err)
	}
	return nil
}
