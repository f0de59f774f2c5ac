package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"mime"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hr-platform/backend/internal/access"
	"github.com/hr-platform/backend/internal/blob"
	"github.com/hr-platform/backend/internal/llm"
	"github.com/hr-platform/backend/internal/metrics"
	"github.com/hr-platform/backend/internal/storage/models"
	"github.com/hr-platform/backend/internal/storage/sqldb"
	"github.com/hr-platform/backend/internal/textract"
	"github.com/hr-platform/backend/pkg/config"
	"github.com/hr-platform/backend/pkg/logger"
)

// Extractor is the LM side of the pipeline.
type Extractor interface {
	Provider() string
	Model() string
	ExtractCV(ctx context.Context, cvText string, hints llm.CatalogHints) (*llm.Result, error)
}

type UsageRecorder interface {
	Record(ctx context.Context, ev *models.UsageEvent) bool
}

// StatusCache holds short-lived status projections for pollers.
type StatusCache interface {
	GetStatus(ctx context.Context, extractionID string, status any) (bool, error)
	SetStatus(ctx context.Context, extractionID string, status any) error
	InvalidateStatus(ctx context.Context, extractionID string) error
}

// SkillProjector mirrors an employee's skills into an external graph.
type SkillProjector interface {
	ProjectSkills(ctx context.Context, tenantID string, employeeID int64, skills []models.SkillFact) error
}

type Dispatcher interface {
	Dispatch(job Job) bool
}

// Deps are the collaborators of the orchestrator. Cache and Graph are
// optional.
type Deps struct {
	Store    *sqldb.Store
	Blobs    blob.Store
	Text     textract.Extractor
	LLM      Extractor
	Resolver Resolver
	Usage    UsageRecorder
	Cache    StatusCache
	Graph    SkillProjector
}

type Options struct {
	MaxRetries        int
	ImportTimeout     time.Duration
	MaxUploadBytes    int64
	AcceptedMimeTypes []string
	AutoImport        bool
	HintLimit         int
}

func OptionsFromConfig(cfg config.PipelineConfig) Options {
	return Options{
		MaxRetries:        cfg.MaxRetries,
		ImportTimeout:     cfg.ImportTxTimeout(),
		MaxUploadBytes:    cfg.MaxUploadBytes,
		AcceptedMimeTypes: cfg.AcceptedMimeTypes,
		AutoImport:        cfg.AutoImport,
	}
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxErrorMessage  = 1000
)

// Orchestrator drives extractions through their state machine. Every status
// change goes through the repository's compare-and-swap, so concurrent
// callers on the same extraction see exactly one winner and the losers
// return without effect.
type Orchestrator struct {
	store      *sqldb.Store
	blobs      blob.Store
	text       textract.Extractor
	lm         Extractor
	resolver   Resolver
	usage      UsageRecorder
	cache      StatusCache
	graph      SkillProjector
	dispatcher Dispatcher

	opts     Options
	accepted map[string]bool
	writer   func(tx *sqldb.Store) factWriter

	// blobLocks serialise reference changes per storage key so a delete
	// cannot drop a blob an upload of the same bytes is about to reference.
	blobLocks [64]sync.Mutex
}

func NewOrchestrator(deps Deps, opts Options) *Orchestrator {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = 30 * time.Second
	}
	if opts.HintLimit <= 0 {
		opts.HintLimit = 2000
	}

	accepted := make(map[string]bool, len(opts.AcceptedMimeTypes))
	for _, m := range opts.AcceptedMimeTypes {
		accepted[strings.ToLower(strings.TrimSpace(m))] = true
	}

	return &Orchestrator{
		store:    deps.Store,
		blobs:    deps.Blobs,
		text:     deps.Text,
		lm:       deps.LLM,
		resolver: deps.Resolver,
		usage:    deps.Usage,
		cache:    deps.Cache,
		graph:    deps.Graph,
		opts:     opts,
		accepted: accepted,
		writer:   storeWriter,
	}
}

// SetDispatcher enables asynchronous dispatch after upload and retry.
// Without one, pending work is left to the retry worker.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

type UploadRequest struct {
	EmployeeID int64
	Filename   string
	MimeType   string
	Data       []byte
}

// Upload stores the file and creates a pending extraction. Nothing is
// written when authorization or validation fails.
func (o *Orchestrator) Upload(ctx context.Context, p access.Principal, req UploadRequest) (*models.Extraction, error) {
	if err := p.AuthorizeEmployee(p.TenantID, req.EmployeeID); err != nil {
		metrics.UploadsTotal.WithLabelValues("forbidden").Inc()
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}

	mimeType, err := o.validateUpload(req)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if _, err := o.store.GetEmployee(ctx, p.TenantID, req.EmployeeID); err != nil {
		if errors.Is(err, sqldb.ErrNotFound) {
			metrics.UploadsTotal.WithLabelValues("forbidden").Inc()
			return nil, fmt.Errorf("%w: employee %d is not in tenant %s", ErrNotAuthorized, req.EmployeeID, p.TenantID)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	filename := filepath.Base(strings.TrimSpace(req.Filename))
	if filename == "." || filename == "/" || filename == "" {
		filename = "cv"
	}

	unlock := o.lockBlob(blob.Key(req.Data, filename))
	defer unlock()

	key, err := o.blobs.Put(ctx, req.Data, filename, mimeType)
	if err != nil {
		metrics.UploadsTotal.WithLabelValues("storage_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	ext := &models.Extraction{
		ID:               uuid.NewString(),
		TenantID:         p.TenantID,
		EmployeeID:       req.EmployeeID,
		UploadedBy:       p.UserID,
		OriginalFilename: filename,
		MimeType:         mimeType,
		FileSizeBytes:    int64(len(req.Data)),
		StorageKey:       key,
	}
	if err := o.store.CreateExtraction(ctx, ext); err != nil {
		o.releaseBlob(ctx, key)
		metrics.UploadsTotal.WithLabelValues("storage_error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	unlock()

	metrics.UploadsTotal.WithLabelValues("accepted").Inc()
	logger.Info("CV uploaded",
		zap.String("extraction_id", ext.ID),
		zap.String("tenant_id", ext.TenantID),
		zap.Int64("employee_id", ext.EmployeeID),
		zap.String("mime_type", mimeType),
		zap.Int64("size_bytes", ext.FileSizeBytes),
	)

	o.dispatch(Job{ExtractionID: ext.ID, Kind: JobRun})
	return ext, nil
}

var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

func (o *Orchestrator) validateUpload(req UploadRequest) (string, error) {
	if len(req.Data) == 0 {
		return "", fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if o.opts.MaxUploadBytes > 0 && int64(len(req.Data)) > o.opts.MaxUploadBytes {
		return "", fmt.Errorf("%w: file is %d bytes, limit is %d", ErrInvalidInput, len(req.Data), o.opts.MaxUploadBytes)
	}

	mimeType := ""
	if req.MimeType != "" {
		if parsed, _, err := mime.ParseMediaType(req.MimeType); err == nil {
			mimeType = strings.ToLower(parsed)
		}
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = extensionTypes[strings.ToLower(filepath.Ext(req.Filename))]
	}
	if !o.accepted[mimeType] {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrInvalidInput, req.MimeType)
	}
	return mimeType, nil
}

// Run performs the extraction phase of a pending extraction. It returns nil
// when the extraction is not pending or another caller won the transition;
// LM and document failures end as failed statuses rather than errors.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	ext, err := o.store.GetExtraction(ctx, id)
	if errors.Is(err, sqldb.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if ext.Status != models.StatusPending {
		logger.Debug("Run skipped", zap.String("extraction_id", id), zap.String("status", string(ext.Status)))
		return nil
	}

	start := time.Now()
	ext, err = o.transition(ctx, ext, models.StatusProcessing, models.ExtractionPatch{})
	if errors.Is(err, sqldb.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	data, err := o.blobs.Get(ctx, ext.StorageKey)
	if err != nil {
		return o.fail(ctx, ext, models.PhasePythonConnection, fmt.Errorf("failed to read upload: %w", err), models.ExtractionPatch{})
	}

	text, err := o.text.Extract(ctx, data, ext.MimeType)
	if err != nil {
		return o.fail(ctx, ext, models.PhasePythonConnection, fmt.Errorf("failed to convert document: %w", err), models.ExtractionPatch{})
	}

	hints, err := o.resolver.Hints(ctx, o.opts.HintLimit)
	if err != nil {
		logger.Warn("Failed to load catalog hints", zap.String("extraction_id", id), zap.Error(err))
	}

	res, lmErr := o.lm.ExtractCV(ctx, text, hints)
	o.recordUsage(ctx, ext, res)

	elapsed := time.Since(start).Seconds()
	patch := models.ExtractionPatch{ProcessingTimeSeconds: &elapsed}
	if res != nil {
		patch.LLMModelUsed = &res.Model
		patch.LLMTokensUsed = &res.Usage.TotalTokens
		patch.LLMCost = &res.Cost
	}
	metrics.StageDuration.WithLabelValues("extraction").Observe(elapsed)

	if lmErr == nil && (res == nil || res.CV == nil) {
		lmErr = llm.ErrEmptyResponse
	}
	if lmErr != nil {
		return o.fail(ctx, ext, models.PhasePythonExtraction, lmErr, patch)
	}

	patch.ExtractedText = &text
	patch.ExtractionResult = res.Raw
	if _, err := o.transition(ctx, ext, models.StatusExtracted, patch); err != nil {
		return ignoreConflict(err)
	}

	if o.opts.AutoImport {
		return o.Import(ctx, id)
	}
	return nil
}

// recordUsage appends one usage event per provider attempt. A call the
// circuit breaker rejected reached no provider and records nothing.
func (o *Orchestrator) recordUsage(ctx context.Context, ext *models.Extraction, res *llm.Result) {
	if o.usage == nil || res == nil {
		return
	}

	for _, a := range res.Attempts {
		ev := &models.UsageEvent{
			TenantID:         ext.TenantID,
			UserID:           ext.UploadedBy,
			OperationType:    models.OperationCVExtraction,
			Provider:         res.Provider,
			Model:            a.Model,
			PromptTokens:     a.Usage.PromptTokens,
			CompletionTokens: a.Usage.CompletionTokens,
			EstimatedCost:    a.Cost,
			ResponseTimeMS:   a.Duration.Milliseconds(),
			Status:           models.UsageSuccess,
			EntityType:       models.EntityExtraction,
			EntityID:         ext.ID,
		}
		if a.Err != nil {
			ev.Status = models.UsageFailure
			ev.ErrorMessage = logger.Truncate(a.Err.Error(), maxErrorMessage)
		}
		o.usage.Record(ctx, ev)
	}
}

// Import writes the stored extraction result into the employee tables. A
// transient database failure parks the extraction back in extracted with one
// more retry counted, until the retry budget is spent.
func (o *Orchestrator) Import(ctx context.Context, id string) error {
	ext, err := o.store.GetExtraction(ctx, id)
	if errors.Is(err, sqldb.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if ext.Status != models.StatusExtracted {
		logger.Debug("Import skipped", zap.String("extraction_id", id), zap.String("status", string(ext.Status)))
		return nil
	}

	start := time.Now()
	ext, err = o.transition(ctx, ext, models.StatusImporting, models.ExtractionPatch{})
	if errors.Is(err, sqldb.ErrStatusConflict) {
		return nil
	}
	if err != nil {
		return err
	}

	var cv models.CVExtraction
	if err := json.Unmarshal(ext.ExtractionResult, &cv); err != nil {
		return o.failImport(ctx, ext, fmt.Errorf("stored extraction result is unreadable: %w", err), false)
	}

	plan, err := buildPlan(ctx, o.resolver, &cv)
	if err != nil {
		return o.failImport(ctx, ext, err, sqldb.IsTransient(err))
	}

	scope := models.FactScope{TenantID: ext.TenantID, EmployeeID: ext.EmployeeID, ExtractionID: ext.ID}

	txCtx, cancel := context.WithTimeout(ctx, o.opts.ImportTimeout)
	defer cancel()

	var stats *models.ImportStats
	err = o.store.WithTx(txCtx, func(tx *sqldb.Store) error {
		w := o.writer(tx)
		s, err := savePlan(txCtx, w, scope, plan)
		if err != nil {
			return err
		}
		total := ext.ProcessingTimeSeconds + time.Since(start).Seconds()
		_, err = w.TransitionExtraction(txCtx, ext.ID, models.StatusImporting, models.StatusCompleted, models.ExtractionPatch{
			ImportStats:           s,
			ProcessingTimeSeconds: &total,
		})
		stats = s
		return err
	})
	metrics.StageDuration.WithLabelValues("import").Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, sqldb.ErrStatusConflict) {
			logger.Warn("Import lost its extraction to another writer", zap.String("extraction_id", id))
			return nil
		}
		transient := sqldb.IsTransient(err) || errors.Is(txCtx.Err(), context.DeadlineExceeded)
		return o.failImport(ctx, ext, err, transient)
	}

	o.afterTransition(ctx, ext.ID, models.StatusImporting, models.StatusCompleted)
	metrics.ImportOutcomes.WithLabelValues("completed").Inc()
	logger.Info("CV imported",
		zap.String("extraction_id", id),
		zap.String("tenant_id", ext.TenantID),
		zap.Int64("employee_id", ext.EmployeeID),
		zap.Int("skills_saved", stats.SkillsSaved),
		zap.Int("education_saved", stats.EducationSaved),
		zap.Int("work_experiences_saved", stats.WorkExperiencesSaved),
		zap.Any("unresolved", stats.Unresolved),
	)

	o.projectSkills(ctx, scope)
	return nil
}

// failImport moves an importing extraction back to extracted for a
// transient failure with retries left, and to failed otherwise.
func (o *Orchestrator) failImport(ctx context.Context, ext *models.Extraction, cause error, transient bool) error {
	retries := ext.RetryCount
	if transient {
		retries++
	}

	if transient && retries < o.opts.MaxRetries {
		metrics.ImportOutcomes.WithLabelValues("retry").Inc()
		logger.Warn("Import failed, will retry",
			zap.String("extraction_id", ext.ID),
			zap.String("tenant_id", ext.TenantID),
			zap.Int("retry_count", retries),
			zap.Error(cause),
		)
		_, err := o.transition(ctx, ext, models.StatusExtracted, models.ExtractionPatch{RetryCount: &retries})
		return ignoreConflict(err)
	}

	if retries > o.opts.MaxRetries {
		retries = o.opts.MaxRetries
	}
	metrics.ImportOutcomes.WithLabelValues("failed").Inc()
	logger.Warn("Import failed permanently",
		zap.String("extraction_id", ext.ID),
		zap.String("tenant_id", ext.TenantID),
		zap.String("failure", importFailureKind(cause, transient)),
		zap.Int("retry_count", retries),
	)
	return o.fail(ctx, ext, models.PhaseDatabaseSave, cause, models.ExtractionPatch{RetryCount: &retries})
}

// importFailureKind names why an import stopped: a spent retry budget, a
// constraint the payload cannot satisfy, or a cause the store does not
// classify.
func importFailureKind(cause error, transient bool) string {
	switch {
	case transient:
		return "retries_exhausted"
	case sqldb.IsConstraint(cause):
		return "constraint"
	default:
		return "unknown"
	}
}

// fail moves ext to failed with phase and cause recorded.
func (o *Orchestrator) fail(ctx context.Context, ext *models.Extraction, phase models.ErrorPhase, cause error, patch models.ExtractionPatch) error {
	msg := logger.Truncate(cause.Error(), maxErrorMessage)
	patch.ErrorPhase = &phase
	patch.ErrorMessage = &msg

	logger.Warn("Extraction failed",
		zap.String("extraction_id", ext.ID),
		zap.String("tenant_id", ext.TenantID),
		zap.String("from", string(ext.Status)),
		zap.String("error_phase", string(phase)),
		zap.Error(cause),
	)

	_, err := o.transition(context.WithoutCancel(ctx), ext, models.StatusFailed, patch)
	return ignoreConflict(err)
}

func (o *Orchestrator) transition(ctx context.Context, ext *models.Extraction, to models.Status, patch models.ExtractionPatch) (*models.Extraction, error) {
	updated, err := o.store.TransitionExtraction(ctx, ext.ID, ext.Status, to, patch)
	if err != nil {
		return nil, err
	}
	o.afterTransition(ctx, ext.ID, ext.Status, to)
	return updated, nil
}

func (o *Orchestrator) afterTransition(ctx context.Context, id string, from, to models.Status) {
	metrics.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	if o.cache != nil {
		if err := o.cache.InvalidateStatus(ctx, id); err != nil {
			logger.Warn("Failed to invalidate status cache", zap.String("extraction_id", id), zap.Error(err))
		}
	}
}

func (o *Orchestrator) projectSkills(ctx context.Context, scope models.FactScope) {
	if o.graph == nil {
		return
	}
	skills, err := o.store.ListSkills(ctx, scope.TenantID, scope.EmployeeID)
	if err == nil {
		err = o.graph.ProjectSkills(ctx, scope.TenantID, scope.EmployeeID, skills)
	}
	if err != nil {
		metrics.GraphProjections.WithLabelValues("failed").Inc()
		logger.Warn("Skill graph projection failed",
			zap.String("extraction_id", scope.ExtractionID),
			zap.Int64("employee_id", scope.EmployeeID),
			zap.Error(err),
		)
		return
	}
	metrics.GraphProjections.WithLabelValues("ok").Inc()
}

func (o *Orchestrator) dispatch(job Job) {
	if o.dispatcher == nil {
		return
	}
	o.dispatcher.Dispatch(job)
}

// lockBlob locks the stripe guarding key and returns its unlock. The unlock
// is idempotent so callers can release early and still defer it.
func (o *Orchestrator) lockBlob(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &o.blobLocks[h.Sum32()%uint32(len(o.blobLocks))]
	mu.Lock()
	var once sync.Once
	return func() { once.Do(mu.Unlock) }
}

// releaseBlob deletes the blob once no extraction references it. Callers hold
// the key's lock.
func (o *Orchestrator) releaseBlob(ctx context.Context, key string) {
	refs, err := o.store.CountStorageKeyRefs(ctx, key)
	if err != nil {
		logger.Warn("Failed to count blob references", zap.String("storage_key", key), zap.Error(err))
		return
	}
	if refs > 0 {
		return
	}
	if err := o.blobs.Delete(ctx, key); err != nil {
		logger.Warn("Failed to delete blob", zap.String("storage_key", key), zap.Error(err))
	}
}

// load fetches an extraction the principal may see.
func (o *Orchestrator) load(ctx context.Context, p access.Principal, id string) (*models.Extraction, error) {
	ext, err := o.store.GetExtraction(ctx, id)
	if errors.Is(err, sqldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := p.AuthorizeEmployee(ext.TenantID, ext.EmployeeID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	return ext, nil
}

// GetStatus returns the polling projection of an extraction.
func (o *Orchestrator) GetStatus(ctx context.Context, p access.Principal, id string) (*StatusView, error) {
	if o.cache != nil {
		var cached StatusView
		found, err := o.cache.GetStatus(ctx, id, &cached)
		if err != nil {
			logger.Warn("Status cache read failed", zap.String("extraction_id", id), zap.Error(err))
		}
		if found {
			if err := p.AuthorizeEmployee(cached.TenantID, cached.EmployeeID); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
			}
			return &cached, nil
		}
	}

	ext, err := o.load(ctx, p, id)
	if err != nil {
		return nil, err
	}

	view := NewStatusView(ext)
	if o.cache != nil {
		if err := o.cache.SetStatus(ctx, id, view); err != nil {
			logger.Warn("Status cache write failed", zap.String("extraction_id", id), zap.Error(err))
		}
	}
	return view, nil
}

// List returns an employee's extractions, newest first.
func (o *Orchestrator) List(ctx context.Context, p access.Principal, employeeID int64, limit int) ([]*StatusView, error) {
	if err := p.AuthorizeEmployee(p.TenantID, employeeID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	exts, err := o.store.ListExtractionsForEmployee(ctx, p.TenantID, employeeID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	views := make([]*StatusView, 0, len(exts))
	for i := range exts {
		views = append(views, NewStatusView(&exts[i]))
	}
	return views, nil
}

// Retry re-enters a failed extraction. Failures while saving with a stored
// result resume at import; anything else starts over from pending.
func (o *Orchestrator) Retry(ctx context.Context, p access.Principal, id string) (*StatusView, error) {
	if err := p.RequireRole(access.RoleHR); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	ext, err := o.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if ext.Status != models.StatusFailed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, ext.Status)
	}

	job := Job{ExtractionID: id, Kind: JobRun}
	to := models.StatusPending
	if ext.ErrorPhase != nil && *ext.ErrorPhase == models.PhaseDatabaseSave && len(ext.ExtractionResult) > 0 {
		job.Kind = JobImport
		to = models.StatusExtracted
	}

	updated, err := o.transition(ctx, ext, to, models.ExtractionPatch{})
	if errors.Is(err, sqldb.ErrStatusConflict) {
		return nil, fmt.Errorf("%w: status changed concurrently", ErrNotRetryable)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Extraction retry requested",
		zap.String("extraction_id", id),
		zap.String("tenant_id", ext.TenantID),
		zap.String("user_id", p.UserID),
		zap.String("resume_at", string(to)),
	)
	o.dispatch(job)
	return NewStatusView(updated), nil
}

// Cancel fails a pending extraction before it is dispatched.
func (o *Orchestrator) Cancel(ctx context.Context, p access.Principal, id string) (*StatusView, error) {
	if err := p.RequireRole(access.RoleHR); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	ext, err := o.load(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if ext.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: only pending extractions can be cancelled", ErrConflict)
	}

	phase := models.PhaseUnknown
	msg := "cancelled by " + p.UserID
	updated, err := o.transition(ctx, ext, models.StatusFailed, models.ExtractionPatch{ErrorPhase: &phase, ErrorMessage: &msg})
	if errors.Is(err, sqldb.ErrStatusConflict) {
		return nil, fmt.Errorf("%w: extraction already started", ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return NewStatusView(updated), nil
}

// Delete removes a terminal extraction and, when no other extraction shares
// it, its blob. Facts it wrote stay with a cleared back-reference.
func (o *Orchestrator) Delete(ctx context.Context, p access.Principal, id string) error {
	if err := p.RequireRole(access.RoleHR); err != nil {
		return fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	ext, err := o.load(ctx, p, id)
	if err != nil {
		return err
	}

	unlock := o.lockBlob(ext.StorageKey)
	defer unlock()

	err = o.store.DeleteExtraction(ctx, ext.TenantID, id)
	switch {
	case errors.Is(err, sqldb.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, sqldb.ErrStatusConflict):
		return fmt.Errorf("%w: extraction is %s", ErrConflict, ext.Status)
	case err != nil:
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	if o.cache != nil {
		_ = o.cache.InvalidateStatus(ctx, id)
	}
	o.releaseBlob(ctx, ext.StorageKey)
	return nil
}

// UsageSummary aggregates the tenant's LM usage since the given time.
func (o *Orchestrator) UsageSummary(ctx context.Context, p access.Principal, since time.Time) ([]models.UsageSummaryRow, error) {
	if err := p.RequireRole(access.RoleHR); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAuthorized, err)
	}
	rows, err := o.store.UsageSummary(ctx, p.TenantID, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return rows, nil
}

func ignoreConflict(err error) error {
	if errors.Is(err, sqldb.ErrStatusConflict) {
		return nil
	}
	return err
}
