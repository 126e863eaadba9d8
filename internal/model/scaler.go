package model

import "math"

// Scaler standardizes numeric columns to zero mean and unit variance.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

// FitScaler computes per-column mean and population standard deviation.
// Constant columns get a scale of 1.
func FitScaler(rows [][]float64) *Scaler {
	if len(rows) == 0 {
		return &Scaler{}
	}
	width := len(rows[0])
	mean := make([]float64, width)
	for _, row := range rows {
		for j, x := range row {
			mean[j] += x
		}
	}
	n := float64(len(rows))
	for j := range mean {
		mean[j] /= n
	}
	scale := make([]float64, width)
	for _, row := range rows {
		for j, x := range row {
			d := x - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] == 0 {
			scale[j] = 1
		}
	}
	return &Scaler{Mean: mean, Scale: scale}
}

// Width is the number of columns the scaler was fitted on.
func (s *Scaler) Width() int { return len(s.Mean) }

// Transform writes the standardized row into dst.
func (s *Scaler) Transform(row, dst []float64) {
	for j := range s.Mean {
		dst[j] = (row[j] - s.Mean[j]) / s.Scale[j]
	}
}
