package model

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

func init() {
	gob.Register(&ONNX{})
}

const (
	defaultONNXInput  = "features"
	defaultONNXOutput = "probabilities"
)

// ONNX scores samples with an externally trained model executed by
// onnxruntime. The graph takes a float32 [1, width] input and returns a
// [1, labels] probability output. It is never trained here; Fit only checks
// the shapes and binds the session.
type ONNX struct {
	ModelPath  string
	InputName  string
	OutputName string
	Outputs    int
	// Permutation maps a pipeline class index to the model output column.
	Permutation []int
	Width       int

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNX builds a scorer whose output columns are labelled by
// modelLabels. Every pipeline label must appear among them.
func NewONNX(modelPath string, modelLabels, pipelineLabels []string) (*ONNX, error) {
	if modelPath == "" {
		return nil, errors.New("onnx: model path is empty")
	}
	col := make(map[string]int, len(modelLabels))
	for i, l := range modelLabels {
		col[strings.ToLower(strings.TrimSpace(l))] = i
	}
	perm := make([]int, len(pipelineLabels))
	for k, l := range pipelineLabels {
		i, ok := col[strings.ToLower(l)]
		if !ok {
			return nil, fmt.Errorf("onnx: model has no output for label %q", l)
		}
		perm[k] = i
	}
	return &ONNX{
		ModelPath:   modelPath,
		InputName:   defaultONNXInput,
		OutputName:  defaultONNXOutput,
		Outputs:     len(modelLabels),
		Permutation: perm,
	}, nil
}

func (o *ONNX) Kind() string { return KindONNX }

func (o *ONNX) Fit(samples []Sample, labels []int, classes int) error {
	if err := checkFitInput(samples, labels, classes); err != nil {
		return fmt.Errorf("onnx: %w", err)
	}
	if classes != len(o.Permutation) {
		return fmt.Errorf("onnx: %d classes, scorer maps %d", classes, len(o.Permutation))
	}
	o.Width = len(samples[0].Features)
	return o.Bind()
}

// Bind initializes the runtime and creates the session. It is safe to call
// more than once.
func (o *ONNX) Bind() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session != nil {
		return nil
	}
	if o.Width <= 0 {
		return fmt.Errorf("onnx: input width unknown")
	}
	if _, err := os.Stat(o.ModelPath); err != nil {
		return fmt.Errorf("onnx: model file missing at %s: %w", o.ModelPath, err)
	}

	libPath := resolveSharedLibraryPath(filepath.Dir(o.ModelPath))
	if libPath == "" {
		return errors.New("onnx: onnxruntime shared library not found; set ONNXRUNTIME_SHARED_LIBRARY_PATH or install the runtime")
	}
	ort.SetSharedLibraryPath(libPath)
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx: initialize runtime: %w", err)
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(o.Width)))
	if err != nil {
		return fmt.Errorf("onnx: allocate input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(o.Outputs)))
	if err != nil {
		input.Destroy()
		return fmt.Errorf("onnx: allocate output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		o.ModelPath,
		[]string{o.InputName},
		[]string{o.OutputName},
		[]ort.Value{input},
		[]ort.Value{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return fmt.Errorf("onnx: create session: %w", err)
	}
	o.session, o.input, o.output = session, input, output
	return nil
}

func (o *ONNX) PredictProba(s Sample) ([]float64, error) {
	if len(s.Features) != o.Width {
		return nil, fmt.Errorf("onnx: expected %d features, got %d", o.Width, len(s.Features))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil, ErrNotFitted
	}

	in := o.input.GetData()
	for i, x := range s.Features {
		in[i] = float32(x)
	}
	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	return o.collect(o.output.GetData())
}

func (o *ONNX) collect(raw []float32) ([]float64, error) {
	out := make([]float64, len(o.Permutation))
	var sum float64
	for k, col := range o.Permutation {
		if col >= len(raw) {
			return nil, fmt.Errorf("onnx: output has %d columns, need %d", len(raw), col+1)
		}
		v := float64(raw[col])
		if v > 0 {
			out[k] = v
			sum += v
		}
	}
	if sum <= 0 {
		return nil, errors.New("onnx: output carries no probability mass")
	}
	for k := range out {
		out[k] /= sum
	}
	return out, nil
}

func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil {
		return nil
	}
	err := errors.Join(o.session.Destroy(), o.input.Destroy(), o.output.Destroy())
	o.session, o.input, o.output = nil, nil, nil
	return err
}

// resolveSharedLibraryPath locates a platform-specific onnxruntime library.
// ONNXRUNTIME_SHARED_LIBRARY_PATH wins; otherwise common names and locations
// are probed.
func resolveSharedLibraryPath(modelDir string) string {
	if env := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); env != "" {
		return env
	}
	names := []string{
		"libonnxruntime.so",
		"onnxruntime.so",
		"libonnxruntime.dylib",
		"onnxruntime.dll",
	}
	dirs := []string{
		modelDir,
		filepath.Join(modelDir, "lib"),
		".",
		"/usr/local/lib",
		"/usr/lib",
		"/opt/homebrew/lib",
	}
	for _, dir := range dirs {
		for _, name := range names {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate
			}
		}
	}
	return ""
}
