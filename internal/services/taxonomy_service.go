// Package services contains the business logic over the primary store and
// the aggregate index. Every write that touches an indexed record updates
// the matching partitions in lockstep.
package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/OrtoQBank/ortoqbank-sub001/internal/models"
	"github.com/OrtoQBank/ortoqbank-sub001/internal/observability"
	contextutils "github.com/OrtoQBank/ortoqbank-sub001/internal/utils"
)

// TaxonomyServiceInterface defines the interface for taxonomy operations
type TaxonomyServiceInterface interface {
	CreateTheme(ctx context.Context, name string) (*models.Theme, error)
	CreateSubtheme(ctx context.Context, themeID, name string) (*models.Subtheme, error)
	CreateGroup(ctx context.Context, subthemeID, name string) (*models.QuestionGroup, error)
	GetThemes(ctx context.Context) ([]*models.Theme, error)
	GetSubthemesByTheme(ctx context.Context, themeID string) ([]*models.Subtheme, error)
	GetGroupsBySubtheme(ctx context.Context, subthemeID string) ([]*models.QuestionGroup, error)
	SubthemeParents(ctx context.Context, ids []string) (map[string]string, error)
	GroupParents(ctx context.Context, ids []string) (map[string]string, error)
}

// TaxonomyService handles taxonomy tree operations. It also implements
// taxonomy.ParentReader for the scope resolver.
type TaxonomyService struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewTaxonomyService creates a new taxonomy service
func NewTaxonomyService(db *sql.DB, logger *observability.Logger) *TaxonomyService {
	return &TaxonomyService{db: db, logger: logger}
}

// CreateTheme creates a new top-level theme
func (s *TaxonomyService) CreateTheme(ctx context.Context, name string) (result0 *models.Theme, err error) {
	ctx, span := observability.TraceTaxonomyFunction(ctx, "CreateTheme")
	defer observability.FinishSpan(span, &err)

	if name == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "theme name is required")
	}

	theme := &models.Theme{
		ID:        uuid.New().String(),
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO themes (id, name, created_at) VALUES ($1, $2, $3)`,
		theme.ID, theme.Name, theme.CreatedAt)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to create theme")
	}

	s.logger.Info(ctx, "Theme created", map[string]interface{}{"theme_id": theme.ID, "name": name})
	return theme, nil
}

// CreateSubtheme creates a subtheme under an existing theme
func (s *TaxonomyService) CreateSubtheme(ctx context.Context, themeID, name string) (result0 *models.Subtheme, err error) {
	ctx, span := observability.TraceTaxonomyFunction(ctx, "CreateSubtheme",
		attribute.String("theme.id", themeID))
	defer observability.FinishSpan(span, &err)

	if themeID == "" || name == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "theme id and subtheme name are required")
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM themes WHERE id = $1)`, themeID).Scan(&exists)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to check theme existence")
	}
	if !exists {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "theme %s not found", themeID)
	}

	subtheme := &models.Subtheme{
		ID:        uuid.New().String(),
		ThemeID:   themeID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subthemes (id, theme_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		subtheme.ID, subtheme.ThemeID, subtheme.Name, subtheme.CreatedAt)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to create subtheme")
	}

	s.logger.Info(ctx, "Subtheme created", map[string]interface{}{"subtheme_id": subtheme.ID, "theme_id": themeID})
	return subtheme, nil
}

// CreateGroup creates a question group under an existing subtheme
func (s *TaxonomyService) CreateGroup(ctx context.Context, subthemeID, name string) (result0 *models.QuestionGroup, err error) {
	ctx, span := observability.TraceTaxonomyFunction(ctx, "CreateGroup",
		attribute.String("subtheme.id", subthemeID))
	defer observability.FinishSpan(span, &err)

	if subthemeID == "" || name == "" {
		return nil, contextutils.WrapError(contextutils.ErrMissingRequired, "subtheme id and group name are required")
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM subthemes WHERE id = $1)`, subthemeID).Scan(&exists)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to check subtheme existence")
	}
	if !exists {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "subtheme %s not found", subthemeID)
	}

	group := &models.QuestionGroup{
		ID:         uuid.New().String(),
		SubthemeID: subthemeID,
		Name:       name,
		CreatedAt:  time.Now(),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO question_groups (id, subtheme_id, name, created_at) VALUES ($1, $2, $3, $4)`,
		group.ID, group.SubthemeID, group.Name, group.CreatedAt)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to create question group")
	}

	s.logger.Info(ctx, "Question group created", map[string]interface{}{"group_id": group.ID, "subtheme_id": subthemeID})
	return group, nil
}

// GetThemes returns all themes ordered by name
func (s *TaxonomyService) GetThemes(ctx context.Context) (result0 []*models.Theme, err error) {
	ctx, span := observability.TraceTaxonomyFunction(ctx, "GetThemes")
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM themes ORDER BY name`)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query themes")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr)
		}
	}()

	var themes []*models.Theme
	for rows.Next() {
		var t models.Theme
		if err := rows.Scan(&t.ID, &t.Name, &t.CreatedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan theme")
		}
		themes = append(themes, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating themes")
	}
	return themes, nil
}

// GetSubthemesByTheme returns all subthemes of a theme ordered by name
func (s *TaxonomyService) GetSubthemesByTheme(ctx context.Context, themeID string) (result0 []*models.Subtheme, err error) {
	ctx, span := observability.TraceTaxonomyFunction(ctx, "GetSubthemesByTheme",
		attribute.String("theme.id", themeID))
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, theme_id, name, created_at FROM subthemes WHERE theme_id = $1 ORDER BY name`, themeID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query subthemes")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr)
		}
	}()

	var subthemes []*models.Subtheme
	for rows.Next() {
		var st models.Subtheme
		if err := rows.Scan(&st.ID, &st.ThemeID, &st.Name, &st.CreatedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan subtheme")
		}
		subthemes = append(subthemes, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating subthemes")
	}
	return subthemes, nil
}

// GetGroupsBySubtheme returns all groups of a subtheme ordered by name
func (s *TaxonomyService) GetGroupsBySubtheme(ctx context.Context, subthemeID string) (result0 []*models.QuestionGroup, err error) {
	ctx, span := observability.TraceTaxonomyFunction(ctx, "GetGroupsBySubtheme",
		attribute.String("subtheme.id", subthemeID))
	defer observability.FinishSpan(span, &err)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subtheme_id, name, created_at FROM question_groups WHERE subtheme_id = $1 ORDER BY name`, subthemeID)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query question groups")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr)
		}
	}()

	var groups []*models.QuestionGroup
	for rows.Next() {
		var g models.QuestionGroup
		if err := rows.Scan(&g.ID, &g.SubthemeID, &g.Name, &g.CreatedAt); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan question group")
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating question groups")
	}
	return groups, nil
}

// SubthemeParents returns subtheme id -> theme id for the given ids.
// Unknown ids are absent from the result.
func (s *TaxonomyService) SubthemeParents(ctx context.Context, ids []string) (result0 map[string]string, err error) {
	ctx, span := observability.TraceTaxonomyFunction(ctx, "SubthemeParents",
		attribute.Int("ids.count", len(ids)))
	defer observability.FinishSpan(span, &err)

	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, theme_id FROM subthemes WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query subtheme parents")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr)
		}
	}()

	for rows.Next() {
		var id, themeID string
		if err := rows.Scan(&id, &themeID); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan subtheme parent")
		}
		out[id] = themeID
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating subtheme parents")
	}
	return out, nil
}

// GroupParents returns group id -> subtheme id for the given ids.
// Unknown ids are absent from the result.
func (s *TaxonomyService) GroupParents(ctx context.Context, ids []string) (result0 map[string]string, err error) {
	ctx, span := observability.TraceTaxonomyFunction(ctx, "GroupParents",
		attribute.Int("ids.count", len(ids)))
	defer observability.FinishSpan(span, &err)

	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, subtheme_id FROM question_groups WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query group parents")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Error(ctx, "Failed to close rows", closeErr)
		}
	}()

	for rows.Next() {
		var id, subthemeID string
		if err := rows.Scan(&id, &subthemeID); err != nil {
			return nil, contextutils.WrapError(err, "failed to scan group parent")
		}
		out[id] = subthemeID
	}
	if err := rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "error iterating group parents")
	}
	return out, nil
}

var _ TaxonomyServiceInterface = (*TaxonomyService)(nil)

// mapNotFound converts sql.ErrNoRows into a typed not-found error.
func mapNotFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, format, args...)
	}
	return contextutils.WrapErrorf(err, format, args...)
}
