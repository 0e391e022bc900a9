package onnx

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Tensor is a row-major float32 tensor; images use NCHW.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Normalization holds per-channel mean and standard deviation in [0,1] units.
type Normalization struct {
	Mean [3]float32
	Std  [3]float32
}

// ImageNetNormalization is the usual normalisation for classification models.
var ImageNetNormalization = Normalization{
	Mean: [3]float32{0.485, 0.456, 0.406},
	Std:  [3]float32{0.229, 0.224, 0.225},
}

// NewImageTensor resizes img to w×h and returns a [1,3,h,w] tensor.
func NewImageTensor(img image.Image, w, h int, n Normalization) (Tensor, error) {
	if img == nil {
		return Tensor{}, errors.New("nil image")
	}
	if w <= 0 || h <= 0 {
		return Tensor{}, fmt.Errorf("invalid tensor size %dx%d", w, h)
	}
	resized := imaging.Resize(img, w, h, imaging.Lanczos)
	plane := w * h
	data := make([]float32, 3*plane)
	for y := range h {
		row := resized.Pix[y*resized.Stride:]
		for x := range w {
			idx := y*w + x
			for c := range 3 {
				v := float32(row[x*4+c]) / 255
				std := n.Std[c]
				if std == 0 {
					std = 1
				}
				data[c*plane+idx] = (v - n.Mean[c]) / std
			}
		}
	}
	return Tensor{Data: data, Shape: []int64{1, 3, int64(h), int64(w)}}, nil
}

// VerifyImageTensor checks that the data length matches an NCHW shape.
func VerifyImageTensor(t Tensor) error {
	if len(t.Shape) != 4 {
		return fmt.Errorf("shape rank %d != 4", len(t.Shape))
	}
	expected := int64(1)
	for i, v := range t.Shape {
		if v <= 0 {
			return fmt.Errorf("dimension %d must be > 0, got %d", i, v)
		}
		expected *= v
	}
	if int64(len(t.Data)) != expected {
		return fmt.Errorf("tensor data length %d != expected %d for shape %v", len(t.Data), expected, t.Shape)
	}
	return nil
}

// Softmax converts logits to probabilities.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		maxLogit = max(maxLogit, v)
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v - maxLogit))
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value, or -1 for an empty slice.
func Argmax(values []float64) int {
	if len(values) == 0 {
		return -1
	}
	best := 0
	for i, v := range values[1:] {
		if v > values[best] {
			best = i + 1
		}
	}
	return best
}
