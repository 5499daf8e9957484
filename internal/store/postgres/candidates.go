package postgresstore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"metismedia/internal/store"
)

// CandidateRepo hosts the pgvector queries behind the matching stage. The
// prefilter ranks by cosine distance (`<=>`) against the campaign query
// vector and reports similarity as 1 - distance.
type CandidateRepo struct {
	db     *gorm.DB
	logger *slog.Logger
}

type candidateRow struct {
	InfluencerID       uuid.UUID  `gorm:"column:influencer_id"`
	Similarity         float64    `gorm:"column:similarity"`
	LastScrapedAt      *time.Time `gorm:"column:last_scraped_at"`
	PolarityScore      *int       `gorm:"column:polarity_score"`
	PrimaryURL         *string    `gorm:"column:primary_url"`
	BioText            *string    `gorm:"column:bio_text"`
	LastPulseCheckedAt *time.Time `gorm:"column:last_pulse_checked_at"`
	RecentEmbeddingID  *uuid.UUID `gorm:"column:recent_embedding_id"`
}

// buildPrefilterQuery assembles the safety prefilter SQL. Eligibility and the
// optional brief filters apply in the database; candidates holding an active
// reservation are excluded so concurrent campaigns never score each other's
// leased influencers.
func buildPrefilterQuery(queryEmbeddingID, tenantID uuid.UUID, filter store.CandidateFilter, limit int) (string, []any) {
	var sql strings.Builder
	args := []any{queryEmbeddingID, tenantID, tenantID}

	sql.WriteString(`
SELECT i.id AS influencer_id,
       1 - (e.vector <=> q.vector) AS similarity,
       i.last_scraped_at,
       i.polarity_score,
       i.primary_url,
       i.bio_text,
       i.last_pulse_checked_at,
       i.recent_embedding_id
FROM influencers i
JOIN embeddings e ON e.id = i.bio_embedding_id AND e.tenant_id = i.tenant_id
JOIN embeddings q ON q.id = ? AND q.tenant_id = ?
WHERE i.tenant_id = ?
  AND i.do_not_contact = FALSE
  AND (i.cooling_off_until IS NULL OR i.cooling_off_until <= NOW())
  AND i.bio_embedding_id IS NOT NULL
  AND NOT EXISTS (
    SELECT 1 FROM reservations res
    WHERE res.tenant_id = i.tenant_id
      AND res.influencer_id = i.id
      AND res.reserved_until > NOW()
  )`)

	// Rows with a null bio cannot be cleared against the exclusion terms, so
	// they pass the regex and are settled later by the pulse check.
	if pattern := thirdRailPattern(filter.ThirdRailTerms); pattern != "" {
		sql.WriteString("\n  AND (i.bio_text IS NULL OR i.bio_text !~* ?)")
		args = append(args, pattern)
	}
	if len(filter.Platforms) > 0 {
		sql.WriteString("\n  AND (i.platform IS NULL OR i.platform IN (?))")
		args = append(args, filter.Platforms)
	}
	if filter.Geography != "" {
		sql.WriteString("\n  AND (i.geography IS NULL OR i.geography ILIKE ?)")
		args = append(args, "%"+filter.Geography+"%")
	}

	sql.WriteString("\nORDER BY e.vector <=> q.vector\nLIMIT ?")
	args = append(args, limit)
	return sql.String(), args
}

func (r *CandidateRepo) Prefilter(ctx context.Context, tenantID, queryEmbeddingID uuid.UUID, filter store.CandidateFilter, limit int) ([]store.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}

	sql, args := buildPrefilterQuery(queryEmbeddingID, tenantID, filter, limit)
	var rows []candidateRow
	if err := r.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("prefilter candidates: %w", err)
	}

	candidates := make([]store.Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, store.Candidate{
			InfluencerID:       row.InfluencerID,
			Similarity:         row.Similarity,
			LastScrapedAt:      row.LastScrapedAt,
			PolarityScore:      row.PolarityScore,
			PrimaryURL:         row.PrimaryURL,
			BioText:            row.BioText,
			LastPulseCheckedAt: row.LastPulseCheckedAt,
			RecentEmbeddingID:  row.RecentEmbeddingID,
		})
	}
	return candidates, nil
}

// reserveLockSQL locks exactly the named influencer rows, skipping any with
// an active lease and any locked by a concurrent worker, so two workers
// reserving overlapping sets end up holding disjoint influencers.
const reserveLockSQL = `
SELECT i.id
FROM influencers i
WHERE i.tenant_id = ?
  AND i.id IN (?)
  AND NOT EXISTS (
    SELECT 1 FROM reservations res
    WHERE res.tenant_id = i.tenant_id
      AND res.influencer_id = i.id
      AND res.reserved_until > NOW()
  )
FOR UPDATE OF i SKIP LOCKED`

// Reserve leases the given influencers inside the current transaction. The
// caller passes the candidates it already scored and filtered; only they are
// ever locked. Returns influencer id -> reservation id for the rows won.
func (r *CandidateRepo) Reserve(ctx context.Context, tenantID uuid.UUID, influencerIDs []uuid.UUID, duration time.Duration, reason string) (map[uuid.UUID]uuid.UUID, error) {
	if len(influencerIDs) == 0 {
		return map[uuid.UUID]uuid.UUID{}, nil
	}

	var lockedIDs []uuid.UUID
	err := r.db.WithContext(ctx).
		Raw(reserveLockSQL, tenantID, influencerIDs).
		Scan(&lockedIDs).
		Error
	if err != nil {
		return nil, fmt.Errorf("lock influencers for reservation: %w", err)
	}

	until := time.Now().UTC().Add(duration)
	out := make(map[uuid.UUID]uuid.UUID, len(lockedIDs))
	for _, influencerID := range lockedIDs {
		model := reservationModel{
			ID:            uuid.New(),
			TenantID:      tenantID,
			InfluencerID:  influencerID,
			ReservedUntil: until,
		}
		if reason != "" {
			model.Reason = &reason
		}
		if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
			return nil, fmt.Errorf("insert reservation: %w", err)
		}
		out[influencerID] = model.ID
	}

	if r.logger != nil {
		r.logger.Debug("candidates reserved",
			"event", "candidates_reserved",
			"module", "store",
			"layer", "postgres",
			"tenant_id", tenantID.String(),
			"requested", len(influencerIDs),
			"won", len(out),
			"reserved_until", until.Format(time.RFC3339),
		)
	}
	return out, nil
}

// thirdRailPattern folds the exclusion terms into one case-insensitive
// alternation. Terms are quoted so brief authors can use punctuation freely.
func thirdRailPattern(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(term))
	}
	return strings.Join(quoted, "|")
}
