package onnx

import (
	"fmt"
	"math"
	"strings"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
)

// Tensor is the runtime-neutral value passed between pipeline stages.
// Floating data is always float32; text codes are always int64, matching
// the dtypes the exported graphs declare.
type Tensor struct {
	dtype TensorDType
	shape []int64
	data  any
}

func NewTensor[T ~int64 | ~float32](data []T, shape []int64) (*Tensor, error) {
	dtype, err := dtypeFromSlice(data)
	if err != nil {
		return nil, err
	}
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{
		dtype: dtype,
		shape: append([]int64(nil), shape...),
	}
	switch dtype {
	case DTypeFloat32:
		converted := make([]float32, len(data))
		for i, v := range data {
			converted[i] = float32(v)
		}
		t.data = converted
	case DTypeInt64:
		converted := make([]int64, len(data))
		for i, v := range data {
			converted[i] = int64(v)
		}
		t.data = converted
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", dtype)
	}
	return t, nil
}

// NewScalarFloat32 wraps a single float32 as a [1] tensor. Step indices and
// duration scalars ride through the graphs as their own one-element tensors.
func NewScalarFloat32(v float32) *Tensor {
	t, _ := NewTensor([]float32{v}, []int64{1})
	return t
}

// NewZeroTensor allocates a zero-filled tensor from a graph-declared dtype
// string and shape; symbolic dimensions resolve to 1.
func NewZeroTensor(dtype string, shape []any) (*Tensor, error) {
	canonical, err := canonicalDType(dtype)
	if err != nil {
		return nil, err
	}
	resolvedShape, err := resolveShape(shape)
	if err != nil {
		return nil, err
	}
	count, err := elementCount(resolvedShape)
	if err != nil {
		return nil, err
	}

	switch canonical {
	case DTypeFloat32:
		return NewTensor(make([]float32, count), resolvedShape)
	case DTypeInt64:
		return NewTensor(make([]int64, count), resolvedShape)
	default:
		return nil, fmt.Errorf("unsupported tensor dtype %q", canonical)
	}
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Len returns the total element count.
func (t *Tensor) Len() int {
	n, _ := elementCount(t.shape)
	return n
}

func (t *Tensor) Data() any {
	switch v := t.data.(type) {
	case []float32:
		return append([]float32(nil), v...)
	case []int64:
		return append([]int64(nil), v...)
	default:
		return nil
	}
}

// Float32s returns the backing float32 slice without copying. Callers that
// mutate it must own the tensor (the refinement loop does).
func (t *Tensor) Float32s() ([]float32, error) {
	data, ok := t.data.([]float32)
	if !ok {
		return nil, fmt.Errorf("expected float32 tensor, got %s", t.dtype)
	}
	return data, nil
}

// Int64s returns the backing int64 slice without copying.
func (t *Tensor) Int64s() ([]int64, error) {
	data, ok := t.data.([]int64)
	if !ok {
		return nil, fmt.Errorf("expected int64 tensor, got %s", t.dtype)
	}
	return data, nil
}

func ExtractFloat32(output any) ([]float32, error) {
	v, err := unwrapData(output)
	if err != nil {
		return nil, err
	}
	switch out := v.(type) {
	case []float32:
		return append([]float32(nil), out...), nil
	case *Tensor:
		if out == nil {
			return nil, fmt.Errorf("expected *Tensor output, got nil")
		}
		if out.dtype != DTypeFloat32 {
			return nil, fmt.Errorf("expected float32 tensor, got %s", out.dtype)
		}
		data, ok := out.data.([]float32)
		if !ok {
			return nil, fmt.Errorf("float32 tensor has unexpected backing type %T", out.data)
		}
		return append([]float32(nil), data...), nil
	default:
		return nil, fmt.Errorf("expected []float32 output, got %T", v)
	}
}

func ExtractInt64(output any) ([]int64, error) {
	v, err := unwrapData(output)
	if err != nil {
		return nil, err
	}
	switch out := v.(type) {
	case []int64:
		return append([]int64(nil), out...), nil
	case *Tensor:
		if out == nil {
			return nil, fmt.Errorf("expected *Tensor output, got nil")
		}
		if out.dtype != DTypeInt64 {
			return nil, fmt.Errorf("expected int64 tensor, got %s", out.dtype)
		}
		data, ok := out.data.([]int64)
		if !ok {
			return nil, fmt.Errorf("int64 tensor has unexpected backing type %T", out.data)
		}
		return append([]int64(nil), data...), nil
	default:
		return nil, fmt.Errorf("expected []int64 output, got %T", v)
	}
}

func unwrapData(output any) (any, error) {
	type dataGetter interface {
		Data() any
	}

	const maxDepth = 16
	v := output
	for depth := 0; depth < maxDepth; depth++ {
		if v == nil {
			return nil, fmt.Errorf("output is nil")
		}
		if t, ok := v.(*Tensor); ok {
			return t, nil
		}
		getter, ok := v.(dataGetter)
		if !ok {
			return v, nil
		}
		v = getter.Data()
	}
	return nil, fmt.Errorf("nested Data() wrappers exceed max depth %d", maxDepth)
}

func dtypeFromSlice[T ~int64 | ~float32](data []T) (TensorDType, error) {
	var zero T
	switch any(zero).(type) {
	case int64:
		return DTypeInt64, nil
	case float32:
		return DTypeFloat32, nil
	default:
		return "", fmt.Errorf("unsupported tensor data type %T", zero)
	}
}

func canonicalDType(raw string) (TensorDType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "tensor(")
	normalized = strings.TrimSuffix(normalized, ")")
	switch normalized {
	case "float", "float32":
		return DTypeFloat32, nil
	case "int64", "long":
		return DTypeInt64, nil
	default:
		return "", fmt.Errorf("unsupported tensor dtype %q", raw)
	}
}

func resolveShape(shape []any) ([]int64, error) {
	out := make([]int64, len(shape))
	for i, dim := range shape {
		switch v := dim.(type) {
		case float64:
			if v < 1 || v != math.Trunc(v) {
				return nil, fmt.Errorf("shape[%d]=%v is not a positive integer", i, v)
			}
			out[i] = int64(v)
		case int:
			if v < 1 {
				return nil, fmt.Errorf("shape[%d]=%d is not positive", i, v)
			}
			out[i] = int64(v)
		case int64:
			if v < 1 {
				return nil, fmt.Errorf("shape[%d]=%d is not positive", i, v)
			}
			out[i] = v
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("shape[%d] has empty symbolic dimension", i)
			}
			out[i] = 1
		default:
			return nil, fmt.Errorf("shape[%d] has unsupported type %T", i, dim)
		}
	}
	return out, nil
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	if len(shape) == 0 {
		return 1, nil
	}
	count := int64(1)
	for i, dim := range shape {
		if dim < 1 {
			return 0, fmt.Errorf("shape[%d]=%d is not positive", i, dim)
		}
		if count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}
