package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/idverify/internal/core/domain"
)

const documentColumns = `id, user_id, document_type, original_filename, mime_type, storage_key,
	verification_status, ai_score, ai_decision, parsed_fields, ocr_text, ticket_id,
	processing_error, review_notes, processed_at, created_at, updated_at`

type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026030101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL DEFAULT '',
	document_type TEXT NOT NULL CHECK (document_type IN ('KTP', 'NPWP')),
	original_filename TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	verification_status TEXT NOT NULL,
	ai_score INTEGER CHECK (ai_score BETWEEN 0 AND 100),
	ai_decision TEXT,
	parsed_fields JSONB,
	ocr_text TEXT,
	ticket_id TEXT,
	processing_error TEXT,
	review_notes TEXT,
	processed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(verification_status);
CREATE INDEX IF NOT EXISTS idx_documents_user_id ON documents(user_id);
CREATE INDEX IF NOT EXISTS idx_documents_ticket_id ON documents(ticket_id) WHERE ticket_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS verification_attempts (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	attempt INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	error TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_verification_attempts_document ON verification_attempts(document_id, attempt);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, user_id, document_type, original_filename, mime_type, storage_key, verification_status, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
		doc.ID, doc.UserID, string(doc.Type), doc.OriginalFilename, doc.MimeType, doc.StorageKey,
		string(doc.Status), doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE id = $1
`, id)

	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document by id", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}
	return &doc, nil
}

// ListByStatus returns the oldest documents in the given status first.
func (r *DocumentRepository) ListByStatus(ctx context.Context, status domain.VerificationStatus, limit int) ([]domain.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+documentColumns+`
FROM documents
WHERE verification_status = $1
ORDER BY created_at ASC
LIMIT $2
`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents by status: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// SaveVerificationResult overwrites the scoring columns. Rerunning it for
// the same document is safe.
func (r *DocumentRepository) SaveVerificationResult(ctx context.Context, id string, result domain.VerificationResult) error {
	fieldsJSON, err := json.Marshal(result.ParsedFields)
	if err != nil {
		return fmt.Errorf("marshal parsed fields: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET ai_score = $2, ai_decision = $3, verification_status = $4, parsed_fields = $5,
	ocr_text = $6, processed_at = $7, processing_error = NULL, updated_at = $8
WHERE id = $1
`, id, result.Score, string(result.Decision.Decision), string(result.Decision.Outcome), fieldsJSON,
		result.OCRText, result.ProcessedAt, r.now())
	if err != nil {
		return fmt.Errorf("save verification result: %w", err)
	}
	return expectOneRow(res, "save verification result", id)
}

func (r *DocumentRepository) MarkProcessingFailed(ctx context.Context, id string, reason string, failedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET processing_error = $2, processed_at = $3, updated_at = $4
WHERE id = $1
`, id, reason, failedAt, r.now())
	if err != nil {
		return fmt.Errorf("mark processing failed: %w", err)
	}
	return expectOneRow(res, "mark processing failed", id)
}

func (r *DocumentRepository) SaveEscalation(ctx context.Context, id string, ticketID string, status domain.VerificationStatus) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET ticket_id = $2, verification_status = $3, updated_at = $4
WHERE id = $1
`, id, ticketID, string(status), r.now())
	if err != nil {
		return fmt.Errorf("save escalation: %w", err)
	}
	return expectOneRow(res, "save escalation", id)
}

func (r *DocumentRepository) ApplyReviewDecision(ctx context.Context, id string, status domain.VerificationStatus, notes string) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET verification_status = $2, review_notes = NULLIF($3, ''), updated_at = $4
WHERE id = $1
`, id, string(status), notes, r.now())
	if err != nil {
		return fmt.Errorf("apply review decision: %w", err)
	}
	return expectOneRow(res, "apply review decision", id)
}

func (r *DocumentRepository) RecordAttempt(ctx context.Context, attempt domain.ProcessingAttempt) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO verification_attempts (document_id, attempt, outcome, error, started_at, finished_at)
VALUES ($1,$2,$3,NULLIF($4, ''),$5,$6)
`, attempt.DocumentID, attempt.Attempt, string(attempt.Outcome), attempt.Error, attempt.StartedAt, attempt.FinishedAt)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the audited attempts of one document in order.
func (r *DocumentRepository) ListAttempts(ctx context.Context, documentID string) ([]domain.ProcessingAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT document_id, attempt, outcome, COALESCE(error, ''), started_at, finished_at
FROM verification_attempts
WHERE document_id = $1
ORDER BY id ASC
`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ProcessingAttempt, 0)
	for rows.Next() {
		var a domain.ProcessingAttempt
		var outcome string
		if err := rows.Scan(&a.DocumentID, &a.Attempt, &outcome, &a.Error, &a.StartedAt, &a.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Outcome = domain.AttemptOutcome(outcome)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}
	return out, nil
}

func expectOneRow(res sql.Result, operation, id string) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if rows == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (domain.Document, error) {
	var (
		doc         domain.Document
		docType     string
		status      string
		score       sql.NullInt64
		decision    sql.NullString
		fieldsRaw   []byte
		ocrText     sql.NullString
		ticketID    sql.NullString
		processErr  sql.NullString
		reviewNotes sql.NullString
		processedAt sql.NullTime
	)
	err := row.Scan(
		&doc.ID, &doc.UserID, &docType, &doc.OriginalFilename, &doc.MimeType, &doc.StorageKey,
		&status, &score, &decision, &fieldsRaw, &ocrText, &ticketID,
		&processErr, &reviewNotes, &processedAt, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return domain.Document{}, err
	}

	doc.Type = domain.DocumentType(docType)
	doc.Status = domain.VerificationStatus(status)
	if score.Valid {
		v := int(score.Int64)
		doc.AIScore = &v
	}
	if decision.Valid {
		v := domain.AIDecision(decision.String)
		doc.AIDecision = &v
	}
	if len(fieldsRaw) > 0 {
		if err := json.Unmarshal(fieldsRaw, &doc.ParsedFields); err != nil {
			return domain.Document{}, fmt.Errorf("unmarshal parsed fields: %w", err)
		}
	}
	doc.OCRText = nullString(ocrText)
	doc.TicketID = nullString(ticketID)
	doc.ProcessingError = nullString(processErr)
	doc.ReviewNotes = nullString(reviewNotes)
	if processedAt.Valid {
		t := processedAt.Time
		doc.ProcessedAt = &t
	}
	return doc, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
