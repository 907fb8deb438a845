package audits

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"geoaudit/internal/domain"
	"geoaudit/internal/ports"
)

func analysisKey(orderID string) string { return "audits/" + orderID + "/analysis.json" }

// AnalyzeObservations sends stored observations to the analyzer and keeps the
// validated analysis on the order. Completion is left to report generation.
func (s *Service) AnalyzeObservations(ctx context.Context, job ports.AnalyzeObservationsJob) error {
	log := s.logFor("analyze_observations", job.AuditOrderID)

	order, ok, err := s.loadActive(ctx, log, job.AuditOrderID)
	if err != nil || !ok {
		return err
	}
	if order.IsTerminal() {
		log.Info().Str("status", string(order.Status)).Msg("order already terminal, skipping analysis")
		return nil
	}
	if order.Status != domain.StatusAnalyzing {
		log.Warn().Str("status", string(order.Status)).Msg("order not analyzing, skipping")
		return nil
	}
	if order.HasAnalysis() {
		log.Info().Msg("analysis already stored, scheduling report")
		return s.enqueueReport(ctx, order.ID)
	}
	if order.CrawlDataURL == "" {
		return s.failAndCompensate(ctx, log, order, "crawl data is missing")
	}
	brief, err := order.Brief()
	if err != nil {
		return s.failAndCompensate(ctx, log, order, err.Error())
	}

	raw, err := s.storage.Download(ctx, order.CrawlDataURL)
	if err != nil {
		return fmt.Errorf("download observations: %w", err)
	}
	obs, err := domain.ParseObservations(raw)
	if err != nil {
		return s.failAndCompensate(ctx, log, order, err.Error())
	}

	analysis, rawResponse, err := s.analyzer.Analyze(ctx, obs, brief.BrandContext())
	if errors.Is(err, domain.ErrSchemaViolation) {
		return s.rejectAnalysis(ctx, order, rawResponse, err)
	}
	if err != nil {
		return fmt.Errorf("analyze observations: %w", err)
	}
	if err := analysis.Validate(); err != nil {
		return s.rejectAnalysis(ctx, order, rawResponse, err)
	}

	enriched := Enrich(analysis, obs)
	body, err := json.Marshal(enriched)
	if err != nil {
		return fmt.Errorf("encode analysis: %w", err)
	}
	key := analysisKey(order.ID)
	if err := s.storage.Upload(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("store analysis: %w", err)
	}

	meta := ExtractMetadata(enriched, obs)
	stored, err := order.StoreAnalysisResults(meta, key, s.now())
	if err != nil {
		return err
	}
	if _, ok, err := s.save(ctx, log, stored); err != nil || !ok {
		return err
	}
	log.Info().Int("geo_score", analysis.GeoScore).Int("actions", meta.TotalActions).Msg("analysis stored")
	return s.enqueueReport(ctx, order.ID)
}

// rejectAnalysis keeps the invalid analyzer response and compensates.
func (s *Service) rejectAnalysis(ctx context.Context, order domain.AuditOrder, raw []byte, cause error) error {
	log := s.logFor("analyze_observations", order.ID)
	if !json.Valid(raw) {
		// jsonb columns only accept JSON; keep the text as a JSON string
		quoted, err := json.Marshal(string(raw))
		if err != nil {
			return err
		}
		raw = quoted
	}
	rejected, err := order.MarkSchemaError(raw, cause.Error(), s.now())
	if errors.Is(err, domain.ErrInvalidTransition) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.compensate(ctx, log, rejected)
}

func (s *Service) enqueueReport(ctx context.Context, orderID string) error {
	if err := s.jobs.Enqueue(ctx, ports.GenerateReportJob{AuditOrderID: orderID}); err != nil {
		return fmt.Errorf("enqueue report: %w", err)
	}
	return nil
}
