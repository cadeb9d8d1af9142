package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/aggindex"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// QuestionServiceInterface defines the interface for question operations
type QuestionServiceInterface interface {
	SaveQuestion(ctx context.Context, q *models.Question) (*models.Question, error)
	GetQuestionByID(ctx context.Context, id string) (*models.Question, error)
	GetQuestionsByIDs(ctx context.Context, ids []string) ([]*models.Question, error)
	DeleteQuestion(ctx context.Context, id string) error
	ScanQuestions(ctx context.Context, cursor string, pageSize int) ([]*models.Question, string, bool, error)
}

// QuestionService handles question persistence. Every write keeps the record
// partitions in lockstep with the question row.
type QuestionService struct {
	db     *sql.DB
	store  *aggindex.Store
	logger *observability.Logger
}

// NewQuestionService creates a new question service
func NewQuestionService(db *sql.DB, store *aggindex.Store, logger *observability.Logger) *QuestionService {
	return &QuestionService{db: db, store: store, logger: logger}
}

// SaveQuestion persists a new question and indexes it into every applicable
// record partition. A question needs a theme; a group requires a subtheme.
func (s *QuestionService) SaveQuestion(ctx context.Context, q *models.Question) (result0 *models.Question, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "SaveQuestion",
		attribute.String("theme.id", q.ThemeID))
	defer observability.FinishSpan(span, &err)

	if q.ThemeID == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingDimension, "question requires a theme")
	}
	if q.GroupID != "" && q.SubthemeID == "" {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "a grouped question requires a subtheme")
	}
	if q.Statement == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "question statement is required")
	}

	if q.GroupID != "" {
		// The group must actually sit under the declared subtheme.
		var parent string
		err = s.db.QueryRowContext(ctx,
			`SELECT subtheme_id FROM question_groups WHERE id = $1`, q.GroupID).Scan(&parent)
		if err != nil {
			return nil, mapNotFound(err, "group %s not found", q.GroupID)
		}
		if parent != q.SubthemeID {
			return nil, contextutils.WrapErrorf(contextutils.ErrInvalidInput,
				"group %s does not belong to subtheme %s", q.GroupID, q.SubthemeID)
		}
	}

	saved := &models.Question{
		ID:         uuid.New().String(),
		ThemeID:    q.ThemeID,
		SubthemeID: q.SubthemeID,
		GroupID:    q.GroupID,
		Statement:  q.Statement,
		CreatedAt:  time.Now(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO questions (id, theme_id, subtheme_id, group_id, statement, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6)`,
		saved.ID, saved.ThemeID, saved.SubthemeID, saved.GroupID, saved.Statement, saved.CreatedAt)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to insert question")
	}

	if err := indexQuestion(ctx, s.store, saved); err != nil {
		return nil, contextutils.WrapError(err, "failed to index question")
	}

	s.logger.Info(ctx, "Question saved", map[string]interface{}{
		"question_id": saved.ID,
		"theme_id":    saved.ThemeID,
	})
	return saved, nil
}

// GetQuestionByID returns a single question
func (s *QuestionService) GetQuestionByID(ctx context.Context, id string) (result0 *models.Question, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "GetQuestionByID",
		observability.AttributeQuestionID(id))
	defer observability.FinishSpan(span, &err)

	var q models.Question
	var subtheme, group sql.NullString
	err = s.db.QueryRowContext(ctx,
		`SELECT id, theme_id, subtheme_id, group_id, statement, created_at FROM questions WHERE id = $1`, id).
		Scan(&q.ID, &q.ThemeID, &subtheme, &group, &q.Statement, &q.CreatedAt)
	if err != nil {
		return nil, mapNotFound(err, "question %s not found", id)
	}
	q.SubthemeID = subtheme.String
	q.GroupID = group.String
	return &q, nil
}

// GetQuestionsByIDs returns the questions matching the given ids. Missing ids
// are silently skipped; the caller sees them as absent from the result.
func (s *QuestionService) GetQuestionsByIDs(ctx context.Context, ids []string) (result0 []*models.Question, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "GetQuestionsByIDs",
		attribute.Int("ids.count", len(ids)))
	defer observability.FinishSpan(span, &err)

	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, theme_id, subtheme_id, group_id, statement, created_at
		 FROM questions WHERE id = ANY($1) ORDER BY id`, pq.Array(ids))
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query questions")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr)
		}
	}()

	return scanQuestions(rows)
}

// DeleteQuestion removes a question, its user facts, and all of its index
// entries across record and fact partitions.
func (s *QuestionService) DeleteQuestion(ctx context.Context, id string) (err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "DeleteQuestion",
		observability.AttributeQuestionID(id))
	defer observability.FinishSpan(span, &err)

	q, err := s.GetQuestionByID(ctx, id)
	if err != nil {
		return err
	}

	// Collect the fact rows first so their index entries can be removed too.
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, kind FROM user_facts WHERE question_id = $1`, id)
	if err != nil {
		return contextutils.WrapError(err, "failed to query user facts for question")
	}
	type factRow struct {
		userID string
		kind   models.FactKind
	}
	var facts []factRow
	for rows.Next() {
		var f factRow
		if err := rows.Scan(&f.userID, &f.kind); err != nil {
			_ = rows.Close()
			return contextutils.WrapError(err, "failed to scan user fact")
		}
		facts = append(facts, f)
	}
	if closeErr := rows.Close(); closeErr != nil {
		s.logger.Error(ctx, "Failed to close rows", closeErr)
	}
	if err := rows.Err(); err != nil {
		return contextutils.WrapError(err, "error iterating user facts")
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM user_facts WHERE question_id = $1`, id)
	if err != nil {
		return contextutils.WrapError(err, "failed to delete user facts")
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return contextutils.WrapError(err, "failed to delete question")
	}

	for _, f := range facts {
		if err := deindexUserFact(ctx, s.store, f.userID, q, f.kind); err != nil {
			return contextutils.WrapError(err, "failed to deindex user fact")
		}
	}
	if err := deindexQuestion(ctx, s.store, q); err != nil {
		return contextutils.WrapError(err, "failed to deindex question")
	}

	s.logger.Info(ctx, "Question deleted", map[string]interface{}{
		"question_id": id,
		"facts":       len(facts),
	})
	return nil
}

// ScanQuestions pages through all questions in id order using a keyset
// cursor. An empty cursor starts from the beginning; done is true when the
// returned page is the last one.
func (s *QuestionService) ScanQuestions(ctx context.Context, cursor string, pageSize int) (result0 []*models.Question, nextCursor string, done bool, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "ScanQuestions",
		attribute.Int("page.size", pageSize))
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, theme_id, subtheme_id, group_id, statement, created_at
		 FROM questions WHERE id > $1 ORDER BY id LIMIT $2`, cursor, pageSize)
	if err != nil {
		return nil, "", false, contextutils.WrapError(err, "failed to scan questions")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr)
		}
	}()

	page, err := scanQuestions(rows)
	if err != nil {
		return nil, "", false, err
	}
	if len(page) == 0 {
		return nil, cursor, true, nil
	}
	return page, page[len(page)-1].ID, len(page) < pageSize, nil
}

func scanQuestions(rows *sql.Rows) ([]*models.Question, error) {
	var out []*models.Question
	for rows.Next() {
		var q models.Question
		var subtheme, group sql.NullString
		if err := rows.Scan(&q.ID, &q.ThemeID, &subtheme, &group, &q.Statement, &q.CreatedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan question")
		}
		q.SubthemeID = subtheme.String
		q.GroupID = group.String
		out = append(out, &q)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating questions")
	}
	return out, nil
}

var _ QuestionServiceInterface = (*QuestionService)(nil)
