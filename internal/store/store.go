package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/perefraz/internal"
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS paraphrase_requests (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL,
		document_name TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS candidate_results (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		provider_name TEXT NOT NULL,
		candidate_text TEXT NOT NULL,
		latency_ms INTEGER,
		error TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (request_id) REFERENCES paraphrase_requests(id)
	);

	CREATE TABLE IF NOT EXISTS final_paraphrases (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		selected_provider TEXT,
		final_text TEXT NOT NULL,
		humanized BOOLEAN DEFAULT FALSE,
		judge_reasoning TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (request_id) REFERENCES paraphrase_requests(id)
	);

	CREATE TABLE IF NOT EXISTS paraphrase_memory (
		id TEXT PRIMARY KEY,
		source_text TEXT NOT NULL UNIQUE,
		final_text TEXT NOT NULL,
		provider_used TEXT,
		usage_count INTEGER DEFAULT 1,
		invalidated BOOLEAN DEFAULT FALSE,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- document_jobs tracks per-document runs so interrupted jobs can resume
	CREATE TABLE IF NOT EXISTS document_jobs (
		id TEXT PRIMARY KEY,
		input_file TEXT NOT NULL,
		output_file TEXT NOT NULL,
		status TEXT DEFAULT 'running',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- job_fragments stores per-fragment final texts for resume support
	CREATE TABLE IF NOT EXISTS job_fragments (
		job_id TEXT NOT NULL,
		fragment_idx INTEGER NOT NULL,
		final_text TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (job_id, fragment_idx),
		FOREIGN KEY (job_id) REFERENCES document_jobs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_memory_lookup ON paraphrase_memory(source_text);
	CREATE INDEX IF NOT EXISTS idx_results_request ON candidate_results(request_id);
	CREATE INDEX IF NOT EXISTS idx_job_fragments ON job_fragments(job_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) SaveRequest(ctx context.Context, req internal.ParaphraseRequest, sourceText string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO paraphrase_requests (id, source_text, document_name, created_at) VALUES (?, ?, ?, ?)`,
		req.ID, sourceText, req.DocumentName, req.Timestamp)
	return err
}

func (s *Store) SaveCandidate(ctx context.Context, requestID, providerName, candidateText string, latencyMs int, errMsg string) error {
	id := fmt.Sprintf("%s_%s", requestID, providerName)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO candidate_results (id, request_id, provider_name, candidate_text, latency_ms, error) VALUES (?, ?, ?, ?, ?, ?)`,
		id, requestID, providerName, candidateText, latencyMs, errMsg)
	return err
}

func (s *Store) SaveFinalParaphrase(ctx context.Context, requestID, selectedProvider, finalText string, humanized bool, reasoning string) error {
	id := fmt.Sprintf("%s_final", requestID)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO final_paraphrases (id, request_id, selected_provider, final_text, humanized, judge_reasoning) VALUES (?, ?, ?, ?, ?, ?)`,
		id, requestID, selectedProvider, finalText, humanized, reasoning)
	return err
}

// GetCachedParaphrase returns a previously stored final paraphrase for the
// same source text, bumping its usage counters on a hit.
func (s *Store) GetCachedParaphrase(ctx context.Context, sourceText string) (string, bool, error) {
	var finalText string
	var invalidated bool

	err := s.db.QueryRowContext(ctx,
		`SELECT final_text, invalidated FROM paraphrase_memory WHERE source_text = ?`,
		normalizeText(sourceText)).Scan(&finalText, &invalidated)

	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if invalidated {
		return "", false, nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE paraphrase_memory SET usage_count = usage_count + 1, last_used = ? WHERE source_text = ?`,
		time.Now(), normalizeText(sourceText))

	return finalText, true, err
}

func (s *Store) SaveToMemory(ctx context.Context, sourceText, finalText, providerUsed string) error {
	id := fmt.Sprintf("mem_%d", time.Now().UnixNano())
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO paraphrase_memory (id, source_text, final_text, provider_used, usage_count, invalidated, last_used, created_at) VALUES (?, ?, ?, ?, 1, FALSE, ?, ?)`,
		id, normalizeText(sourceText), finalText, providerUsed, time.Now(), time.Now())
	return err
}

// MemoryEntry is a row from the paraphrase_memory table.
type MemoryEntry struct {
	ID           string
	SourceText   string
	FinalText    string
	ProviderUsed string
	UsageCount   int
	Invalidated  bool
	LastUsed     time.Time
}

// CacheStats summarises paraphrase memory usage.
type CacheStats struct {
	TotalEntries   int
	ActiveEntries  int
	InvalidEntries int
	TotalUsage     int
}

func (s *Store) InvalidateMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE paraphrase_memory SET invalidated = TRUE WHERE id = ?`, id)
	return err
}

// DeleteMemory permanently removes a paraphrase memory entry by ID.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM paraphrase_memory WHERE id = ?`, id)
	return err
}

// ClearMemory removes all paraphrase memory entries.
func (s *Store) ClearMemory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM paraphrase_memory`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMemory returns all paraphrase memory entries ordered by most recently used.
func (s *Store) ListMemory(ctx context.Context) ([]MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_text, final_text, provider_used, usage_count, invalidated, last_used FROM paraphrase_memory ORDER BY last_used DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.SourceText, &e.FinalText, &e.ProviderUsed, &e.UsageCount, &e.Invalidated, &e.LastUsed); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

// Stats returns summary statistics for the paraphrase memory.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0)
		FROM paraphrase_memory`).Scan(
		&stats.TotalEntries,
		&stats.ActiveEntries,
		&stats.InvalidEntries,
		&stats.TotalUsage,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// DocumentJob represents one document paraphrasing run.
type DocumentJob struct {
	ID         string
	InputFile  string
	OutputFile string
	Status     string
	CreatedAt  time.Time
}

// CreateJob creates a new document job record and returns its ID.
func (s *Store) CreateJob(ctx context.Context, inputFile, outputFile string) (string, error) {
	id := fmt.Sprintf("job_%d", time.Now().UnixNano())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_jobs (id, input_file, output_file) VALUES (?, ?, ?)`,
		id, inputFile, outputFile)
	return id, err
}

// GetJob retrieves a document job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*DocumentJob, error) {
	var job DocumentJob
	err := s.db.QueryRowContext(ctx,
		`SELECT id, input_file, output_file, status, created_at FROM document_jobs WHERE id = ?`,
		jobID).Scan(&job.ID, &job.InputFile, &job.OutputFile, &job.Status, &job.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return &job, err
}

// SaveJobFragment persists the final text for a single fragment of a job.
func (s *Store) SaveJobFragment(ctx context.Context, jobID string, fragmentIdx int, finalText string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO job_fragments (job_id, fragment_idx, final_text) VALUES (?, ?, ?)`,
		jobID, fragmentIdx, finalText)
	return err
}

// GetJobFragments returns all already-paraphrased fragments for a job as a
// fragment-index → text map.
func (s *Store) GetJobFragments(ctx context.Context, jobID string) (map[int]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT fragment_idx, final_text FROM job_fragments WHERE job_id = ?`,
		jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fragments := make(map[int]string)
	for rows.Next() {
		var idx int
		var finalText string
		if err := rows.Scan(&idx, &finalText); err != nil {
			return nil, err
		}
		fragments[idx] = finalText
	}
	return fragments, rows.Err()
}

// CompleteJob marks a document job as completed.
func (s *Store) CompleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE document_jobs SET status = 'completed', updated_at = ? WHERE id = ?`,
		time.Now(), jobID)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// normalizeText trims whitespace and applies Unicode NFC normalization
// for consistent cache key comparison.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}

// levenshtein returns the edit distance between two strings (rune-aware).
// Uses a space-optimized two-row DP implementation.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1]
			} else {
				min := prev[j]
				if prev[j-1] < min {
					min = prev[j-1]
				}
				if curr[j-1] < min {
					min = curr[j-1]
				}
				curr[j] = min + 1
			}
		}
		prev, curr = curr, prev
	}

	return prev[lb]
}

// stringSimilarity returns a similarity score in [0, 1] (1 = identical).
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len([]rune(a)), len([]rune(b))
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(a, b))/float64(maxLen)
}

// FuzzyGetCachedParaphrase returns a cached paraphrase whose normalised
// source text has at least threshold similarity (0–1) to sourceText. Pass
// threshold ≤ 0 to disable (always returns "", false, nil). To avoid O(n²)
// cost, texts longer than 1 000 runes are not fuzzy-matched.
func (s *Store) FuzzyGetCachedParaphrase(ctx context.Context, sourceText string, threshold float64) (string, bool, error) {
	if threshold <= 0 {
		return "", false, nil
	}

	normalized := normalizeText(sourceText)
	const maxFuzzyRunes = 1000
	if len([]rune(normalized)) > maxFuzzyRunes {
		return "", false, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source_text, final_text FROM paraphrase_memory WHERE NOT invalidated`)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	var bestFinal string
	bestScore := 0.0

	for rows.Next() {
		var srcText, finalText string
		if err := rows.Scan(&srcText, &finalText); err != nil {
			return "", false, err
		}

		// Quick length pre-filter: if the length difference alone makes it
		// impossible to reach the threshold, skip the expensive edit distance.
		ls, lr := len([]rune(normalized)), len([]rune(srcText))
		maxL := ls
		if lr > maxL {
			maxL = lr
		}
		diff := ls - lr
		if diff < 0 {
			diff = -diff
		}
		if maxL > 0 && 1.0-float64(diff)/float64(maxL) < threshold {
			continue
		}

		score := stringSimilarity(normalized, srcText)
		if score >= threshold && score > bestScore {
			bestScore = score
			bestFinal = finalText
		}
	}
	if err := rows.Err(); err != nil {
		return "", false, err
	}

	if bestFinal != "" {
		return bestFinal, true, nil
	}
	return "", false, nil
}
