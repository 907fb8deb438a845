package audits

import (
	"context"
	"errors"
	"fmt"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

// GenerateReport renders the PDF for an analyzed order and completes it.
// An order that already has its report returns the stored URL.
func (s *Service) GenerateReport(ctx context.Context, orderID string) (string, error) {
	log := s.logFor("generate_report", orderID)

	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("load order: %w", err)
	}
	if order.HasReport() && (order.Status == domain.StatusCompleted || order.Status == domain.StatusPartial) {
		return order.ReportURL, nil
	}
	if order.Status != domain.StatusAnalyzing {
		log.Info().Str("status", string(order.Status)).Msg("order not ready for a report, skipping")
		return "", nil
	}
	if !order.HasAnalysis() {
		log.Warn().Msg("no stored analysis, skipping report")
		return "", nil
	}

	url, err := s.renderer.GenerateReport(ctx, order)
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	var done domain.AuditOrder
	if order.CrawlPartial {
		done, err = order.MarkPartial(order.Result, s.now())
	} else {
		done, err = order.MarkAnalysisCompleted(s.now())
	}
	if err != nil {
		return "", err
	}
	done, err = done.AttachReport(url, s.now())
	if err != nil {
		return "", err
	}
	saved, ok, err := s.save(ctx, log, done)
	if err != nil || !ok {
		return "", err
	}
	log.Info().Str("status", string(saved.Status)).Str("report_url", url).Msg("report ready")
	if err := s.notifier.ReportReady(ctx, saved); err != nil {
		log.Error().Err(err).Msg("report notification not sent")
	}
	return url, nil
}

// GenerateReportJob adapts GenerateReport to the job registry.
func (s *Service) GenerateReportJob(ctx context.Context, job ports.GenerateReportJob) error {
	_, err := s.GenerateReport(ctx, job.AuditOrderID)
	if errors.Is(err, domain.ErrNotFound) {
		log := s.logFor("generate_report", job.AuditOrderID)
		log.Warn().Msg("audit order not found, dropping job")
		return nil
	}
	return err
}
