package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/aggindex"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// UserFactServiceInterface defines the interface for per-user fact operations
type UserFactServiceInterface interface {
	MarkAnswered(ctx context.Context, userID, questionID string, correct bool) error
	ToggleBookmark(ctx context.Context, userID, questionID string) (bool, error)
	ScanUserFacts(ctx context.Context, cursor string, pageSize int) ([]*models.UserFact, string, bool, error)
}

// UserFactService maintains the per-(user, question) markers and their fact
// partition entries in lockstep.
type UserFactService struct {
	db        *sql.DB
	store     *aggindex.Store
	questions QuestionServiceInterface
	logger    *observability.Logger
}

// NewUserFactService creates a new user fact service
func NewUserFactService(db *sql.DB, store *aggindex.Store, questions QuestionServiceInterface, logger *observability.Logger) *UserFactService {
	return &UserFactService{db: db, store: store, questions: questions, logger: logger}
}

// MarkAnswered records that a user answered a question. The answered marker
// is permanent and idempotent; the incorrect marker tracks only the latest
// outcome, so a correct answer clears it and a wrong one sets it.
func (s *UserFactService) MarkAnswered(ctx context.Context, userID, questionID string, correct bool) (err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "MarkAnswered",
		observability.AttributeUserID(userID),
		observability.AttributeQuestionID(questionID),
		attribute.Bool("answer.correct", correct))
	defer observability.FinishSpan(span, &err)

	if userID == "" || questionID == "" {
		return contextutils.WrapError(contextutils.ErrMissingRequired, "user id and question id are required")
	}

	q, err := s.questions.GetQuestionByID(ctx, questionID)
	if err != nil {
		return err
	}

	if err := s.upsertFact(ctx, userID, questionID, models.FactAnswered); err != nil {
		return err
	}
	if err := indexUserFact(ctx, s.store, userID, q, models.FactAnswered); err != nil {
		return contextutils.WrapError(err, "failed to index answered fact")
	}

	if correct {
		if err := s.removeFact(ctx, userID, questionID, models.FactIncorrect); err != nil {
			return err
		}
		if err := deindexUserFact(ctx, s.store, userID, q, models.FactIncorrect); err != nil {
			return contextutils.WrapError(err, "failed to deindex incorrect fact")
		}
	} else {
		if err := s.upsertFact(ctx, userID, questionID, models.FactIncorrect); err != nil {
			return err
		}
		if err := indexUserFact(ctx, s.store, userID, q, models.FactIncorrect); err != nil {
			return contextutils.WrapError(err, "failed to index incorrect fact")
		}
	}

	s.logger.Debug(ctx, "Answer recorded", map[string]interface{}{
		"user_id":     userID,
		"question_id": questionID,
		"correct":     correct,
	})
	return nil
}

// ToggleBookmark flips a user's bookmark on a question and returns the new
// state: true when the bookmark is now set.
func (s *UserFactService) ToggleBookmark(ctx context.Context, userID, questionID string) (result0 bool, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "ToggleBookmark",
		observability.AttributeUserID(userID),
		observability.AttributeQuestionID(questionID))
	defer observability.FinishSpan(span, &err)

	if userID == "" || questionID == "" {
		return false, contextutils.WrapError(contextutils.ErrMissingRequired, "user id and question id are required")
	}

	q, err := s.questions.GetQuestionByID(ctx, questionID)
	if err != nil {
		return false, err
	}

	var exists bool
	err = s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_facts WHERE user_id = $1 AND question_id = $2 AND kind = $3)`,
		userID, questionID, models.FactBookmarked).Scan(&exists)
	if err != nil {
		return false, contextutils.WrapError(err, "failed to check bookmark")
	}

	if exists {
		if err := s.removeFact(ctx, userID, questionID, models.FactBookmarked); err != nil {
			return false, err
		}
		if err := deindexUserFact(ctx, s.store, userID, q, models.FactBookmarked); err != nil {
			return false, contextutils.WrapError(err, "failed to deindex bookmark")
		}
		return false, nil
	}

	if err := s.upsertFact(ctx, userID, questionID, models.FactBookmarked); err != nil {
		return false, err
	}
	if err := indexUserFact(ctx, s.store, userID, q, models.FactBookmarked); err != nil {
		return false, contextutils.WrapError(err, "failed to index bookmark")
	}
	return true, nil
}

// ScanUserFacts pages through all user facts in id order using a keyset
// cursor, for the repair rebuild scan.
func (s *UserFactService) ScanUserFacts(ctx context.Context, cursor string, pageSize int) (result0 []*models.UserFact, nextCursor string, done bool, err error) {
	ctx, span := observability.TraceQuestionFunction(ctx, "ScanUserFacts",
		attribute.Int("page.size", pageSize))
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, question_id, kind, created_at
		 FROM user_facts WHERE id > $1 ORDER BY id LIMIT $2`, cursor, pageSize)
	if err != nil {
		return nil, "", false, contextutils.WrapError(err, "failed to scan user facts")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr)
		}
	}()

	var page []*models.UserFact
	for rows.Next() {
		var f models.UserFact
		if err := rows.Scan(&f.ID, &f.UserID, &f.QuestionID, &f.Kind, &f.CreatedAt); err != nil {
			return nil, "", false, contextutils.WrapError(err, "failed to scan user fact")
		}
		page = append(page, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, "", false, contextutils.WrapError(err, "error iterating user facts")
	}

	if len(page) == 0 {
		return nil, cursor, true, nil
	}
	return page, page[len(page)-1].ID, len(page) < pageSize, nil
}

func (s *UserFactService) upsertFact(ctx context.Context, userID, questionID string, kind models.FactKind) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_facts (id, user_id, question_id, kind, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, question_id, kind) DO NOTHING`,
		uuid.New().String(), userID, questionID, kind, time.Now())
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to upsert %s fact", kind)
	}
	return nil
}

func (s *UserFactService) removeFact(ctx context.Context, userID, questionID string, kind models.FactKind) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_facts WHERE user_id = $1 AND question_id = $2 AND kind = $3`,
		userID, questionID, kind)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to remove %s fact", kind)
	}
	return nil
}

var _ UserFactServiceInterface = (*UserFactService)(nil)
