package domain

import (
	"github.com/halcyonops/opsml-backend/internal/domain/ml"
)

type Dataset = ml.Dataset
type TrainingRun = ml.TrainingRun
type InferenceRun = ml.InferenceRun
type ModelVersion = ml.ModelVersion
type Document = ml.Document
type AuditEvent = ml.AuditEvent
type ScoredRecord = ml.ScoredRecord

const (
	RunStatusRunning = ml.RunStatusRunning
	RunStatusSuccess = ml.RunStatusSuccess
	RunStatusFailed  = ml.RunStatusFailed

	ModelStatusDraft   = ml.ModelStatusDraft
	ModelStatusActive  = ml.ModelStatusActive
	ModelStatusRetired = ml.ModelStatusRetired

	AlgorithmGBM             = ml.AlgorithmGBM
	AlgorithmIsolationForest = ml.AlgorithmIsolationForest

	AuditTrainingStarted    = ml.AuditTrainingStarted
	AuditTrainingCompleted  = ml.AuditTrainingCompleted
	AuditTrainingFailed     = ml.AuditTrainingFailed
	AuditModelRegistered    = ml.AuditModelRegistered
	AuditModelPromoted      = ml.AuditModelPromoted
	AuditModelRetired       = ml.AuditModelRetired
	AuditInferenceStarted   = ml.AuditInferenceStarted
	AuditInferenceCompleted = ml.AuditInferenceCompleted
	AuditInferenceFailed    = ml.AuditInferenceFailed

	DocumentLinkedArtifact        = ml.DocumentLinkedArtifact
	DocumentLinkedMetrics         = ml.DocumentLinkedMetrics
	DocumentLinkedLogs            = ml.DocumentLinkedLogs
	DocumentLinkedInferenceOutput = ml.DocumentLinkedInferenceOutput
	DocumentLinkedTrainingDataset = ml.DocumentLinkedTrainingDataset
)
