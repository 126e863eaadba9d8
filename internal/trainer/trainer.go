// Package trainer fits the categorization pipeline on labeled transactions
// and selects the classifier that is persisted as the model artifact.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"txcat/internal/core"
	"txcat/internal/features"
	logfields "txcat/internal/log"
	"txcat/internal/model"
)

// Policy decides which score picks the winning candidate.
type Policy string

const (
	// PolicyHeldout selects on accuracy over the held-out split.
	PolicyHeldout Policy = "heldout"
	// PolicyCV selects on mean stratified k-fold accuracy over the train split.
	PolicyCV Policy = "cv"
	// PolicyTraining selects on training accuracy. It favours overfit
	// candidates and is only used when asked for explicitly.
	PolicyTraining Policy = "training"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyHeldout, PolicyCV, PolicyTraining:
		return p, nil
	case "":
		return PolicyHeldout, nil
	default:
		return "", fmt.Errorf("unknown selection policy %q", s)
	}
}

// ONNXCandidate describes an externally trained scorer to evaluate next to
// the native candidates.
type ONNXCandidate struct {
	ModelPath string
	Labels    []string
}

type Config struct {
	Candidates   []string
	Policy       Policy
	TestFraction float64
	Seed         int64
	Folds        int
	// Voting adds a soft-voting ensemble of the native candidates.
	Voting      bool
	MaxFeatures int
	Options     model.Options
	ONNX        *ONNXCandidate
	Labels      core.CategorySet
	// SampleSize is the number of held-out predictions logged after training.
	SampleSize int
	// Now is the clock used for transactions without a date.
	Now func() time.Time
}

func DefaultConfig() Config {
	return Config{
		Candidates:   []string{model.KindLogistic, model.KindForest, model.KindBoosting, model.KindBayes},
		Policy:       PolicyHeldout,
		TestFraction: 0.2,
		Seed:         42,
		Folds:        5,
		MaxFeatures:  model.DefaultMaxFeatures,
		Options:      model.Options{Seed: 42},
		Labels:       core.DefaultCategories,
		SampleSize:   5,
		Now:          time.Now,
	}
}

type CandidateScore struct {
	Classifier       string  `json:"classifier"`
	SelectionScore   float64 `json:"selection_score"`
	TrainingAccuracy float64 `json:"training_accuracy"`
	HeldoutAccuracy  float64 `json:"heldout_accuracy"`
}

type SamplePrediction struct {
	Description string        `json:"description"`
	Actual      core.Category `json:"actual"`
	Predicted   core.Category `json:"predicted"`
	Confidence  float64       `json:"confidence"`
}

// Report summarizes a training run. HeldoutAccuracy is the trust signal
// surfaced to operators.
type Report struct {
	ModelVersion    string             `json:"model_version"`
	Classifier      string             `json:"classifier"`
	Policy          Policy             `json:"selection_policy"`
	SelectionScore  float64            `json:"selection_score"`
	HeldoutAccuracy float64            `json:"heldout_accuracy"`
	TrainSize       int                `json:"train_size"`
	TestSize        int                `json:"test_size"`
	SkippedRows     int                `json:"skipped_rows"`
	Labels          []core.Category    `json:"labels"`
	Candidates      []CandidateScore   `json:"candidates"`
	Samples         []SamplePrediction `json:"samples"`
	Duration        time.Duration      `json:"duration"`
}

// Result is the outcome of a successful training run.
type Result struct {
	Artifact *model.Artifact
	Report   Report
}

type candidate struct {
	name  string
	build func() (model.Classifier, error)
}

type evaluated struct {
	clf   model.Classifier
	score CandidateScore
}

// Train fits every candidate and returns the winning pipeline. It never
// persists anything.
func Train(ctx context.Context, data []core.LabeledTransaction, cfg Config) (*Result, error) {
	started := time.Now()
	cfg = withDefaults(cfg)
	if len(data) == 0 {
		return nil, &DataError{Reason: "dataset is empty", Err: ErrEmptyDataset}
	}

	extractor := features.Extractor{Now: cfg.Now}
	records := make([]features.Record, 0, len(data))
	rowLabels := make([]core.Category, 0, len(data))
	skipped := 0
	for i, lt := range data {
		if !cfg.Labels.Contains(lt.Category) {
			return nil, &DataError{
				Reason:   fmt.Sprintf("row %d has a label outside the category set", i),
				Category: lt.Category,
				Err:      ErrUnknownLabel,
			}
		}
		rec, err := extractor.Extract(lt.Description, lt.Amount.InexactFloat64(), lt.Date)
		if err != nil {
			skipped++
			slog.DebugContext(ctx, "Skipping training row",
				logfields.FieldComponent, logfields.ComponentTrainer,
				logfields.FieldIndex, i,
				logfields.FieldError, err)
			continue
		}
		records = append(records, rec)
		rowLabels = append(rowLabels, lt.Category)
	}
	if len(records) == 0 {
		return nil, &DataError{Reason: fmt.Sprintf("no usable rows (%d skipped)", skipped), Err: ErrEmptyDataset}
	}

	labels, ys, err := indexLabels(cfg.Labels, rowLabels)
	if err != nil {
		return nil, err
	}
	classes := len(labels)

	trainIdx, testIdx := stratifiedSplit(ys, classes, cfg.TestFraction, cfg.Seed)
	trainRecs, testRecs := pick(records, trainIdx), pick(records, testIdx)
	trainY, testY := pick(ys, trainIdx), pick(ys, testIdx)

	// Preprocessing is fitted on the train split only.
	pre := model.FitPreprocessor(trainRecs, cfg.MaxFeatures)
	trainS, err := pre.TransformAll(trainRecs)
	if err != nil {
		return nil, err
	}
	testS, err := pre.TransformAll(testRecs)
	if err != nil {
		return nil, err
	}

	cands, err := buildCandidates(cfg, labels)
	if err != nil {
		return nil, err
	}

	results := make([]evaluated, len(cands))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range cands {
		g.Go(func() error {
			ev, err := evaluate(gctx, c, cfg, trainS, trainY, testS, testY, classes)
			if err != nil {
				return fmt.Errorf("candidate %s: %w", c.name, err)
			}
			results[i] = ev
			slog.InfoContext(gctx, "Candidate evaluated",
				logfields.FieldComponent, logfields.ComponentTrainer,
				logfields.FieldClassifier, c.name,
				"selection_score", ev.score.SelectionScore,
				"training_accuracy", ev.score.TrainingAccuracy,
				"heldout_accuracy", ev.score.HeldoutAccuracy)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(results, -1)
		return nil, err
	}

	// Ties keep the earlier candidate.
	best := 0
	for i := 1; i < len(results); i++ {
		if results[i].score.SelectionScore > results[best].score.SelectionScore {
			best = i
		}
	}
	closeAll(results, best)
	winner := results[best]

	pipeline := &model.Pipeline{Preprocessor: pre, Classifier: winner.clf, Labels: labels}
	artifact := model.NewArtifact(pipeline, model.Evaluation{
		Classifier:      winner.score.Classifier,
		SelectionPolicy: string(cfg.Policy),
		SelectionScore:  winner.score.SelectionScore,
		HeldoutAccuracy: winner.score.HeldoutAccuracy,
		TrainSize:       len(trainIdx),
		TestSize:        len(testIdx),
		SkippedRows:     skipped,
	})

	report := Report{
		ModelVersion:    artifact.Version,
		Classifier:      winner.score.Classifier,
		Policy:          cfg.Policy,
		SelectionScore:  winner.score.SelectionScore,
		HeldoutAccuracy: winner.score.HeldoutAccuracy,
		TrainSize:       len(trainIdx),
		TestSize:        len(testIdx),
		SkippedRows:     skipped,
		Labels:          labels,
		Samples:         samplePredictions(pipeline, testRecs, testY, labels, cfg.SampleSize),
	}
	for _, r := range results {
		report.Candidates = append(report.Candidates, r.score)
	}
	report.Duration = time.Since(started)

	slog.InfoContext(ctx, "Training completed",
		logfields.FieldComponent, logfields.ComponentTrainer,
		logfields.FieldModelVersion, report.ModelVersion,
		logfields.FieldClassifier, report.Classifier,
		"selection_policy", report.Policy,
		logfields.FieldAccuracy, report.HeldoutAccuracy,
		"train_size", report.TrainSize,
		"test_size", report.TestSize,
		"skipped_rows", report.SkippedRows)
	for _, s := range report.Samples {
		slog.InfoContext(ctx, "Sample prediction",
			logfields.FieldComponent, logfields.ComponentTrainer,
			logfields.FieldDescription, s.Description,
			"actual", s.Actual,
			"predicted", s.Predicted,
			logfields.FieldConfidence, s.Confidence)
	}

	return &Result{Artifact: artifact, Report: report}, nil
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = def.Candidates
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = def.TestFraction
	}
	if cfg.Folds < 2 {
		cfg.Folds = def.Folds
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = def.MaxFeatures
	}
	if len(cfg.Labels) == 0 {
		cfg.Labels = def.Labels
	}
	if cfg.Now == nil {
		cfg.Now = def.Now
	}
	if cfg.SampleSize < 0 {
		cfg.SampleSize = 0
	}
	return cfg
}

// indexLabels orders the labels present in the data by the configured
// category order and checks every class can be stratified.
func indexLabels(set core.CategorySet, rows []core.Category) ([]core.Category, []int, error) {
	counts := make(map[core.Category]int)
	for _, c := range rows {
		counts[c]++
	}
	var labels []core.Category
	index := make(map[core.Category]int)
	for _, c := range set {
		if counts[c] == 0 {
			continue
		}
		if counts[c] < 2 {
			return nil, nil, &DataError{
				Reason:   "category needs at least 2 examples for a stratified split",
				Category: c,
				Count:    counts[c],
				Err:      ErrTooFewExamples,
			}
		}
		index[c] = len(labels)
		labels = append(labels, c)
	}
	if len(labels) < 2 {
		return nil, nil, &DataError{Reason: fmt.Sprintf("dataset has %d distinct categories", len(labels)), Err: ErrTooFewClasses}
	}
	ys := make([]int, len(rows))
	for i, c := range rows {
		ys[i] = index[c]
	}
	return labels, ys, nil
}

func buildCandidates(cfg Config, labels []core.Category) ([]candidate, error) {
	var cands []candidate
	for _, kind := range cfg.Candidates {
		kind = strings.TrimSpace(kind)
		if _, err := model.New(kind, cfg.Options); err != nil {
			return nil, err
		}
		cands = append(cands, candidate{
			name:  kind,
			build: func() (model.Classifier, error) { return model.New(kind, cfg.Options) },
		})
	}
	if cfg.Voting && len(cands) >= 2 {
		base := append([]candidate(nil), cands...)
		cands = append(cands, candidate{
			name: model.KindVoting,
			build: func() (model.Classifier, error) {
				members := make([]model.Classifier, 0, len(base))
				for _, b := range base {
					m, err := b.build()
					if err != nil {
						return nil, err
					}
					members = append(members, m)
				}
				return model.NewVoting(members...), nil
			},
		})
	}
	if cfg.ONNX != nil && cfg.ONNX.ModelPath != "" {
		names := make([]string, len(labels))
		for i, l := range labels {
			names[i] = l.String()
		}
		onnx := *cfg.ONNX
		cands = append(cands, candidate{
			name: model.KindONNX,
			build: func() (model.Classifier, error) {
				return model.NewONNX(onnx.ModelPath, onnx.Labels, names)
			},
		})
	}
	if len(cands) == 0 {
		return nil, errors.New("no candidate classifiers configured")
	}
	return cands, nil
}

func evaluate(ctx context.Context, c candidate, cfg Config, trainS []model.Sample, trainY []int, testS []model.Sample, testY []int, classes int) (evaluated, error) {
	if err := ctx.Err(); err != nil {
		return evaluated{}, err
	}
	clf, err := c.build()
	if err != nil {
		return evaluated{}, err
	}
	if err := clf.Fit(trainS, trainY, classes); err != nil {
		return evaluated{}, err
	}
	ev := evaluated{clf: clf, score: CandidateScore{Classifier: c.name}}
	if ev.score.TrainingAccuracy, err = model.Accuracy(clf, trainS, trainY); err != nil {
		return ev, err
	}
	if ev.score.HeldoutAccuracy, err = model.Accuracy(clf, testS, testY); err != nil {
		return ev, err
	}

	switch cfg.Policy {
	case PolicyTraining:
		ev.score.SelectionScore = ev.score.TrainingAccuracy
	case PolicyCV:
		score, err := crossValidate(ctx, c, trainS, trainY, classes, cfg.Folds, cfg.Seed)
		if err != nil {
			return ev, err
		}
		ev.score.SelectionScore = score
	default:
		ev.score.SelectionScore = ev.score.HeldoutAccuracy
	}
	return ev, nil
}

// crossValidate returns the mean accuracy over stratified folds of the
// train split. The fold count shrinks to the smallest class size, never
// below two.
func crossValidate(ctx context.Context, c candidate, samples []model.Sample, ys []int, classes, folds int, seed int64) (float64, error) {
	smallest := len(ys)
	for _, n := range classCounts(ys, classes) {
		if n > 0 && n < smallest {
			smallest = n
		}
	}
	k := max(2, min(folds, smallest))
	var total float64
	for _, val := range stratifiedFolds(ys, classes, k, seed) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		fit := complement(len(ys), val)
		clf, err := c.build()
		if err != nil {
			return 0, err
		}
		if err := clf.Fit(pick(samples, fit), pick(ys, fit), classes); err != nil {
			return 0, err
		}
		acc, err := model.Accuracy(clf, pick(samples, val), pick(ys, val))
		if closer, ok := clf.(model.Closer); ok {
			closer.Close()
		}
		if err != nil {
			return 0, err
		}
		total += acc
	}
	return total / float64(k), nil
}

func closeAll(results []evaluated, keep int) {
	for i, r := range results {
		if i == keep || r.clf == nil {
			continue
		}
		if c, ok := r.clf.(model.Closer); ok {
			c.Close()
		}
	}
}

func samplePredictions(p *model.Pipeline, recs []features.Record, ys []int, labels []core.Category, n int) []SamplePrediction {
	n = min(n, len(recs))
	out := make([]SamplePrediction, 0, n)
	for i := 0; i < n; i++ {
		cat, dist, err := p.Predict(recs[i])
		if err != nil {
			continue
		}
		out = append(out, SamplePrediction{
			Description: recs[i].Description,
			Actual:      labels[ys[i]],
			Predicted:   cat,
			Confidence:  dist[cat],
		})
	}
	return out
}
