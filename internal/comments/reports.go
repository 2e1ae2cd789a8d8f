package comments

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/commentary/internal/events"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Report files a complaint about a visible comment. Every call inserts a new row.
func (s *Service) Report(ctx context.Context, request ReportRequest) (Report, error) {
	normalized, err := validateReport(request)
	if err != nil {
		return Report{}, err
	}

	comment, err := s.repo.Find(ctx, normalized.CommentID)
	if err != nil {
		s.logError(opReport, "comment_select_failed", err, zap.String("comment_id", normalized.CommentID))
		return Report{}, newServiceError(opReport, "comment_select_failed", err)
	}
	if comment == nil || !comment.IsActive {
		return Report{}, ErrNotFound
	}

	reportID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opReport, "id_generation_failed", err)
		return Report{}, newServiceError(opReport, "id_generation_failed", err)
	}
	report := Report{
		ReportID:        reportID,
		CommentID:       comment.CommentID,
		Reason:          string(normalized.Reason),
		Description:     normalized.Description,
		ReporterContact: normalized.ReporterContact,
		ReporterIP:      normalized.ReporterIP,
		CreatedAt:       s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&report).Error; err != nil {
		s.logError(opReport, "insert_failed", err, zap.String("comment_id", comment.CommentID))
		return Report{}, newServiceError(opReport, "insert_failed", err)
	}

	s.publish(ctx, events.TypeCommentReported, *comment)
	return report, nil
}

// ListReports returns the report queue, oldest first.
func (s *Service) ListReports(ctx context.Context, query ReportQuery) ([]Report, error) {
	db := s.db.WithContext(ctx).Model(&Report{})
	if !query.IncludeResolved {
		db = db.Where("is_resolved = ?", false)
	}
	var reports []Report
	err := retryStore(ctx, func() error {
		reports = nil
		if err := db.Session(&gorm.Session{}).
			Order("created_at ASC, report_id ASC").
			Limit(normalizeLimit(query.Limit, 100)).
			Offset(max(query.Offset, 0)).
			Find(&reports).Error; err != nil {
			s.logError(opListReports, "query_failed", err)
			return newServiceError(opListReports, "query_failed", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// ResolveReport marks a report handled. Resolving twice keeps the first resolution.
func (s *Service) ResolveReport(ctx context.Context, reportID, moderatorID string) (Report, error) {
	reportID = strings.TrimSpace(reportID)
	var report Report
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("report_id = ?", reportID).
			Take(&report).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrReportNotFound
		}
		if err != nil {
			s.logError(opResolveReport, "report_select_failed", err, zap.String("report_id", reportID))
			return newServiceError(opResolveReport, "report_select_failed", err)
		}
		if report.IsResolved {
			return nil
		}

		now := s.clock().UTC()
		report.IsResolved = true
		report.ResolvedAt = &now
		report.ResolvedBy = optionalString(moderatorID)
		if err := tx.Model(&Report{}).
			Where("report_id = ?", reportID).
			Updates(map[string]any{
				"is_resolved": true,
				"resolved_at": now,
				"resolved_by": report.ResolvedBy,
			}).Error; err != nil {
			s.logError(opResolveReport, "update_failed", err, zap.String("report_id", reportID))
			return newServiceError(opResolveReport, "update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Report{}, txErr
	}
	return report, nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
