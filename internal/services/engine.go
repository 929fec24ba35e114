package services

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantforge/analysis-engine/internal/models"
)

// requestState names the coordinator's position in a request lifecycle.
// Transitions are linear on the success path; Denied and Failed are the
// terminal alternatives.
type requestState string

const (
	stateReceived    requestState = "received"
	stateAdmitted    requestState = "admitted"
	stateGathering   requestState = "gathering"
	stateInferring   requestState = "inferring"
	stateValidating  requestState = "validating"
	stateCalibrating requestState = "calibrating"
	stateAssembled   requestState = "assembled"
	stateDenied      requestState = "denied"
	stateFailed      requestState = "failed"
)

// noModel marks responses assembled without any model involvement, such
// as a sentiment request with zero news to analyze.
const noModel = "none"

// AnalysisEngine sequences one analysis request through admission,
// gathering, inference, validation, and calibration. It is the only
// component that decides the final outcome class; inner components
// report structured results and errors, never status codes.
type AnalysisEngine struct {
	limiter    *RateLimiter
	gatherer   *DataGatherer
	chain      *ProviderChain
	prompts    *PromptLibrary
	validator  *ResponseValidator
	calibrator *ConfidenceCalibrator
	quick      *RuleBasedAnalyzer
	usage      UsageSink
	version    string
	tracer     trace.Tracer
	logger     *logrus.Logger
}

func NewAnalysisEngine(
	limiter *RateLimiter,
	gatherer *DataGatherer,
	chain *ProviderChain,
	prompts *PromptLibrary,
	validator *ResponseValidator,
	calibrator *ConfidenceCalibrator,
	quick *RuleBasedAnalyzer,
	usage UsageSink,
	version string,
	tracer trace.Tracer,
	logger *logrus.Logger,
) *AnalysisEngine {
	return &AnalysisEngine{
		limiter:    limiter,
		gatherer:   gatherer,
		chain:      chain,
		prompts:    prompts,
		validator:  validator,
		calibrator: calibrator,
		quick:      quick,
		usage:      usage,
		version:    version,
		tracer:     tracer,
		logger:     logger,
	}
}

// Analyze runs the full pipeline for one request. Errors are returned
// as structured values (*RateLimitError, ErrAllProvidersFailed) for the
// HTTP layer to map onto the response contract.
func (e *AnalysisEngine) Analyze(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResponse, error) {
	start := time.Now()

	ctx, span := e.tracer.Start(ctx, "analysis.request", trace.WithAttributes(
		attribute.String("ticker", req.Ticker),
		attribute.String("analysis_type", string(req.AnalysisType)),
		attribute.String("tier", string(req.Tier)),
	))
	defer span.End()

	log := e.logger.WithFields(logrus.Fields{
		"request_id":    req.RequestID,
		"ticker":        req.Ticker,
		"analysis_type": req.AnalysisType,
		"user_id":       req.UserID,
	})
	log.WithField("state", stateReceived).Info("Analysis request received")

	if err := e.limiter.Admit(req.UserID, req.Tier); err != nil {
		log.WithField("state", stateDenied).Info("Analysis request denied by rate limiter")
		return nil, err
	}
	log.WithField("state", stateAdmitted).Debug("Request admitted")

	bundle := e.gatherEvidence(ctx, req, log)

	result, err := e.infer(ctx, req, bundle, log)
	if err != nil {
		log.WithError(err).WithField("state", stateFailed).Error("Inference failed")
		return nil, err
	}

	log.WithField("state", stateValidating).Debug("Validating inference result")
	report := e.validate(ctx, result, bundle, req.AnalysisType)

	log.WithField("state", stateCalibrating).Debug("Calibrating confidence")
	calibrated := e.calibrator.Calibrate(result.Extraction.RawConfidence, bundle, report)

	resp := e.assemble(req, bundle, result, report, calibrated, start)
	log.WithFields(logrus.Fields{
		"state":              stateAssembled,
		"model_used":         result.Provider,
		"confidence":         calibrated.Final,
		"warnings":           len(report.Warnings),
		"processing_time_ms": resp.Meta.ProcessingTimeMs,
	}).Info("Analysis request complete")

	e.usage.RecordAnalysis(req.UserID, result.Provider, result.Usage.TotalTokens)

	return resp, nil
}

func (e *AnalysisEngine) gatherEvidence(ctx context.Context, req *models.AnalysisRequest, log *logrus.Entry) *models.EvidenceBundle {
	ctx, span := e.tracer.Start(ctx, "analysis.gather")
	defer span.End()

	log.WithField("state", stateGathering).Debug("Gathering evidence")
	bundle := e.gatherer.Gather(ctx, req.Ticker, req.DaysBefore, req.Timezone)
	span.SetAttributes(
		attribute.Int("news_count", bundle.NewsCount()),
		attribute.Bool("has_price_data", bundle.HasPriceData),
	)
	return bundle
}

// infer selects the analysis strategy once per request. Quick never
// touches the provider chain; a sentiment request with no news resolves
// immediately without burning an inference call.
func (e *AnalysisEngine) infer(ctx context.Context, req *models.AnalysisRequest, bundle *models.EvidenceBundle, log *logrus.Entry) (*models.InferenceResult, error) {
	ctx, span := e.tracer.Start(ctx, "analysis.infer")
	defer span.End()

	log.WithField("state", stateInferring).Debug("Running inference")

	if req.AnalysisType == models.AnalysisQuick {
		return e.quick.Analyze(req.Ticker, bundle), nil
	}

	if req.AnalysisType == models.AnalysisSentimentOnly && bundle.NewsCount() == 0 {
		return &models.InferenceResult{
			Provider: noModel,
			Extraction: models.Extraction{
				Summary:       "Insufficient data for sentiment analysis",
				Sentiment:     "neutral",
				RawConfidence: 0,
			},
		}, nil
	}

	prompt, err := e.prompts.Build(req.AnalysisType, req, bundle)
	if err != nil {
		return nil, err
	}
	result, err := e.chain.Infer(ctx, prompt)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("provider", result.Provider))
	return result, nil
}

func (e *AnalysisEngine) validate(ctx context.Context, result *models.InferenceResult, bundle *models.EvidenceBundle, analysisType models.AnalysisType) *models.ValidationReport {
	_, span := e.tracer.Start(ctx, "analysis.validate")
	defer span.End()

	return e.validator.Validate(result, bundle, analysisType)
}

func (e *AnalysisEngine) assemble(
	req *models.AnalysisRequest,
	bundle *models.EvidenceBundle,
	result *models.InferenceResult,
	report *models.ValidationReport,
	calibrated *models.CalibratedConfidence,
	start time.Time,
) *models.AnalysisResponse {
	insights := result.Extraction.KeyInsights
	if insights == nil {
		insights = []string{}
	}
	return &models.AnalysisResponse{
		Ticker:              req.Ticker,
		AnalysisType:        req.AnalysisType,
		Summary:             result.Extraction.Summary,
		Sentiment:           result.Extraction.Sentiment,
		Recommendation:      result.Extraction.Recommendation,
		Confidence:          calibrated.Final,
		KeyInsights:         insights,
		ValidationWarnings:  report.Warnings,
		ConfidenceReasoning: calibrated.Reasoning,
		Meta: models.Meta{
			AnalysisDate:     start.UTC(),
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			NewsCount:        bundle.NewsCount(),
			HasPriceData:     bundle.HasPriceData,
			ModelUsed:        result.Provider,
			Version:          e.version,
			RequestID:        req.RequestID,
		},
	}
}
