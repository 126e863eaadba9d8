package model

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"

	"txcat/internal/features"
)

const (
	artifactMagic = "TXCAT"
	// FormatVersion is bumped whenever the encoded layout changes.
	FormatVersion byte = 1
)

var (
	ErrCorruptArtifact      = errors.New("corrupt model artifact")
	ErrIncompatibleArtifact = errors.New("incompatible model artifact")
)

// Evaluation records how an artifact's classifier was chosen.
type Evaluation struct {
	Classifier      string
	SelectionPolicy string
	SelectionScore  float64
	HeldoutAccuracy float64
	TrainSize       int
	TestSize        int
	SkippedRows     int
}

// Artifact is the persisted, versioned trained pipeline. It is immutable
// once created.
type Artifact struct {
	Version    string
	CreatedAt  time.Time
	Keywords   []string
	Pipeline   *Pipeline
	Evaluation Evaluation
}

// NewArtifact stamps a pipeline with a fresh version and the extractor's
// keyword vocabulary.
func NewArtifact(p *Pipeline, eval Evaluation) *Artifact {
	return &Artifact{
		Version:    uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
		Keywords:   slices.Clone(features.Keywords),
		Pipeline:   p,
		Evaluation: eval,
	}
}

// Encode writes the header followed by the gob payload.
func Encode(w io.Writer, a *Artifact) error {
	if a == nil || a.Pipeline == nil {
		return errors.New("encode artifact: nil pipeline")
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(artifactMagic); err != nil {
		return err
	}
	if err := bw.WriteByte(FormatVersion); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(a); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	return bw.Flush()
}

// Marshal is Encode into a byte slice.
func Marshal(a *Artifact) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads an artifact and checks that it can be served by this build:
// known format version, same keyword vocabulary, known labels.
func Decode(r io.Reader) (*Artifact, error) {
	header := make([]byte, len(artifactMagic)+1)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: short header: %v", ErrCorruptArtifact, err)
	}
	if string(header[:len(artifactMagic)]) != artifactMagic {
		return nil, fmt.Errorf("%w: not a model artifact", ErrCorruptArtifact)
	}
	if v := header[len(artifactMagic)]; v != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d, want %d", ErrIncompatibleArtifact, v, FormatVersion)
	}

	var a Artifact
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	if a.Pipeline == nil {
		return nil, fmt.Errorf("%w: missing pipeline", ErrCorruptArtifact)
	}
	if !slices.Equal(a.Keywords, features.Keywords) {
		return nil, fmt.Errorf("%w: keyword vocabulary differs from the running extractor", ErrIncompatibleArtifact)
	}
	if err := a.Pipeline.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompatibleArtifact, err)
	}
	return &a, nil
}

// Unmarshal is Decode from a byte slice.
func Unmarshal(data []byte) (*Artifact, error) {
	return Decode(bytes.NewReader(data))
}
