// Package predictor categorizes transactions with a loaded model artifact,
// falling back to keyword rules when no model is available or scoring fails.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"txcat/internal/core"
	"txcat/internal/features"
	logfields "txcat/internal/log"
	"txcat/internal/model"
)

type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Result is the categorization of one transaction.
type Result struct {
	Category      core.Category             `json:"category"`
	Confidence    float64                   `json:"confidence"`
	Probabilities map[core.Category]float64 `json:"probabilities"`
	Source        Source                    `json:"source"`
	// Degraded is set when the model failed on this item and the rules
	// answered instead.
	Degraded     bool   `json:"degraded,omitempty"`
	ModelVersion string `json:"model_version,omitempty"`
}

// State is the predictor lifecycle position.
type State int32

const (
	StateUninitialized State = iota
	StateLoading
	StateModelReady
	StateFallbackReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateModelReady:
		return "model_ready"
	case StateFallbackReady:
		return "fallback_ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	ErrNotReady      = errors.New("predictor not ready")
	ErrAlreadyLoaded = errors.New("predictor already loaded")
	ErrNoArtifact    = errors.New("no model artifact configured")
)

// ModelLoadError reports why the predictor serves from fallback rules. It
// is informational: the predictor is usable after it is returned.
type ModelLoadError struct {
	Location string
	Err      error
}

func (e *ModelLoadError) Error() string {
	if e.Location == "" {
		return "model load: " + e.Err.Error()
	}
	return fmt.Sprintf("model load from %s: %v", e.Location, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// PredictionError is a model failure on a single item. It never escapes
// Predict; the item is answered by the rules and marked Degraded.
type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string { return "model prediction: " + e.Err.Error() }

func (e *PredictionError) Unwrap() error { return e.Err }

// ArtifactLoader fetches the serialized model artifact.
type ArtifactLoader interface {
	Load(ctx context.Context) ([]byte, error)
}

// Locator is optionally implemented by loaders to name their source in logs.
type Locator interface {
	Location() string
}

type Config struct {
	Rules *Rules
	// Workers bounds PredictBatch parallelism.
	Workers int
	// Now is the clock used for transactions without a date.
	Now func() time.Time
}

// Predictor owns the loaded artifact for the process lifetime. After Load
// returns it is safe for concurrent use without locking.
type Predictor struct {
	rules     *Rules
	workers   int
	extractor features.Extractor

	state    atomic.Int32
	artifact atomic.Pointer[model.Artifact]
	loadErr  atomic.Pointer[ModelLoadError]
}

func New(cfg Config) *Predictor {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Predictor{
		rules:     cfg.Rules,
		workers:   cfg.Workers,
		extractor: features.Extractor{Now: cfg.Now},
	}
}

func (p *Predictor) State() State { return State(p.state.Load()) }

// ModelLoaded reports whether predictions come from a model.
func (p *Predictor) ModelLoaded() bool { return p.State() == StateModelReady }

// ModelVersion returns the serving artifact version, or "" in fallback mode.
func (p *Predictor) ModelVersion() string {
	if a := p.artifact.Load(); a != nil {
		return a.Version
	}
	return ""
}

// Artifact returns the serving artifact, or nil in fallback mode.
func (p *Predictor) Artifact() *model.Artifact { return p.artifact.Load() }

// LoadError returns the reason the predictor is in fallback mode, if any.
func (p *Predictor) LoadError() error {
	if e := p.loadErr.Load(); e != nil {
		return e
	}
	return nil
}

// Load moves the predictor out of Uninitialized exactly once. Any failure
// to obtain a usable artifact leaves it in FallbackReady and is returned as
// a *ModelLoadError; the predictor is ready either way. A nil loader means
// no artifact is configured.
func (p *Predictor) Load(ctx context.Context, loader ArtifactLoader) error {
	if !p.state.CompareAndSwap(int32(StateUninitialized), int32(StateLoading)) {
		return ErrAlreadyLoaded
	}

	location := ""
	if l, ok := loader.(Locator); ok {
		location = l.Location()
	}
	a, err := p.loadArtifact(ctx, loader)
	if err != nil {
		lerr := &ModelLoadError{Location: location, Err: err}
		p.loadErr.Store(lerr)
		p.state.Store(int32(StateFallbackReady))
		slog.WarnContext(ctx, "Model unavailable, serving fallback rules",
			logfields.FieldComponent, logfields.ComponentPredictor,
			logfields.FieldOperation, logfields.OpLoad,
			logfields.FieldLocation, location,
			logfields.FieldError, err)
		return lerr
	}

	p.artifact.Store(a)
	p.state.Store(int32(StateModelReady))
	slog.InfoContext(ctx, "Model loaded",
		logfields.FieldComponent, logfields.ComponentPredictor,
		logfields.FieldOperation, logfields.OpLoad,
		logfields.FieldLocation, location,
		logfields.FieldModelVersion, a.Version,
		logfields.FieldClassifier, a.Evaluation.Classifier,
		logfields.FieldAccuracy, a.Evaluation.HeldoutAccuracy)
	return nil
}

func (p *Predictor) loadArtifact(ctx context.Context, loader ArtifactLoader) (*model.Artifact, error) {
	if loader == nil {
		return nil, ErrNoArtifact
	}
	data, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	a, err := model.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if err := a.Pipeline.Bind(); err != nil {
		return nil, fmt.Errorf("bind classifier: %w", err)
	}
	return a, nil
}

// Close releases runtime resources held by the serving model.
func (p *Predictor) Close() error {
	if a := p.artifact.Load(); a != nil {
		return a.Pipeline.Close()
	}
	return nil
}

func (p *Predictor) ready() error {
	switch p.State() {
	case StateModelReady, StateFallbackReady:
		return nil
	default:
		return fmt.Errorf("%w: state %s", ErrNotReady, p.State())
	}
}

// Predict categorizes one transaction. The only errors are ErrNotReady and
// a *features.ExtractionError for an unusable amount.
func (p *Predictor) Predict(ctx context.Context, tx core.Transaction) (Result, error) {
	if err := p.ready(); err != nil {
		return Result{}, err
	}
	rec, err := p.extractor.Extract(tx.Description, tx.Amount.InexactFloat64(), tx.Date)
	if err != nil {
		return Result{}, err
	}

	a := p.artifact.Load()
	if a == nil {
		return p.rules.Categorize(tx.Description, tx.Amount), nil
	}
	res, err := score(a, rec)
	if err != nil {
		perr := &PredictionError{Err: err}
		slog.WarnContext(ctx, "Model prediction failed, using fallback rules",
			logfields.FieldComponent, logfields.ComponentPredictor,
			logfields.FieldOperation, logfields.OpPredict,
			logfields.FieldModelVersion, a.Version,
			logfields.FieldError, perr)
		res = p.rules.Categorize(tx.Description, tx.Amount)
		res.Degraded = true
	}
	return res, nil
}

// score runs the pipeline and checks its output. Panics inside a
// classifier are turned into errors.
func score(a *model.Artifact, rec features.Record) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()
	cat, dist, err := a.Pipeline.Predict(rec)
	if err != nil {
		return Result{}, err
	}
	var sum float64
	for _, v := range dist {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return Result{}, fmt.Errorf("probability %v out of range", v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-6 {
		return Result{}, fmt.Errorf("probabilities sum to %v", sum)
	}
	return Result{
		Category:      cat,
		Confidence:    dist[cat],
		Probabilities: dist,
		Source:        SourceModel,
		ModelVersion:  a.Version,
	}, nil
}

// Fallback categorizes with the rules only. It never fails.
func (p *Predictor) Fallback(description string, amount float64) Result {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		amount = 0
	}
	return p.rules.Categorize(description, core.AmountFromFloat(amount))
}

// BatchItem is the outcome for one element of a batch; exactly one of
// Result and Err is meaningful.
type BatchItem struct {
	Result Result
	Err    error
}

// PredictBatch categorizes transactions independently and returns the
// outcomes in input order. Per-item failures are reported in the item and
// never abort siblings; only context cancellation aborts the batch.
func (p *Predictor) PredictBatch(ctx context.Context, txs []core.Transaction) ([]BatchItem, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}
	out := make([]BatchItem, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, tx := range txs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.Predict(gctx, tx)
			if err != nil {
				slog.WarnContext(gctx, "Batch item rejected",
					logfields.FieldComponent, logfields.ComponentPredictor,
					logfields.FieldOperation, logfields.OpPredictBatch,
					logfields.FieldIndex, i,
					logfields.FieldError, err)
			}
			out[i] = BatchItem{Result: res, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
