// Package ml provides the tensor container passed across the model boundary
// and the numeric conversions needed to unpack model outputs.
package ml

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/constraints"
	"gorgonia.org/tensor"
)

// Tensors are a data structure to hold the input and output map of tensors
// that a model uses, the key string being the name of the tensor.
type Tensors map[string]*tensor.Dense

// number interface for converting between numbers.
type number interface {
	constraints.Integer | constraints.Float
}

// convertNumberSlice converts any number slice into another number slice.
func convertNumberSlice[T1, T2 number](t1 []T1) []T2 {
	t2 := make([]T2, len(t1))
	for i := range t1 {
		t2[i] = T2(t1[i])
	}
	return t2
}

// ToFloat32Slice converts the backing data of a tensor into a []float32.
func ToFloat32Slice(slice interface{}) ([]float32, error) {
	switch v := slice.(type) {
	case []float32:
		return v, nil
	case []float64:
		return convertNumberSlice[float64, float32](v), nil
	case []uint8:
		return convertNumberSlice[uint8, float32](v), nil
	case []int8:
		return convertNumberSlice[int8, float32](v), nil
	case []int16:
		return convertNumberSlice[int16, float32](v), nil
	case []int32:
		return convertNumberSlice[int32, float32](v), nil
	case []int64:
		return convertNumberSlice[int64, float32](v), nil
	case []int:
		return convertNumberSlice[int, float32](v), nil
	default:
		return nil, errors.Errorf("dont know how to convert slice of %T into a []float32", slice)
	}
}

// ToClassIndexSlice converts the backing data of a class-index tensor into a
// []int. Models emit class maps as whatever integer width their runtime
// prefers; float output is accepted too since some runtimes upcast.
func ToClassIndexSlice(slice interface{}) ([]int, error) {
	switch v := slice.(type) {
	case []int:
		return v, nil
	case []int32:
		return convertNumberSlice[int32, int](v), nil
	case []int64:
		return convertNumberSlice[int64, int](v), nil
	case []uint8:
		return convertNumberSlice[uint8, int](v), nil
	case []int16:
		return convertNumberSlice[int16, int](v), nil
	case []float32:
		return convertNumberSlice[float32, int](v), nil
	case []float64:
		return convertNumberSlice[float64, int](v), nil
	default:
		return nil, errors.Errorf("dont know how to convert slice of %T into a []int", slice)
	}
}

// TensorNames returns all the names of the tensors in the map.
func TensorNames(t Tensors) []string {
	names := []string{}
	for name := range t {
		names = append(names, name)
	}
	return names
}
