// Package classifiertest builds weight files for tests.
package classifiertest

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"strings"
)

// Param is a float32 tensor in row-major order.
type Param struct {
	Shape []int
	Data  []float32
}

// RandomParams fills every shape with deterministic pseudo-random values
// that keep activations in a sane range. Batch norm variances are positive.
func RandomParams(shapes map[string][]int, seed int64) map[string]Param {
	r := rand.New(rand.NewSource(seed))

	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make(map[string]Param, len(shapes))
	for _, name := range names {
		shape := shapes[name]
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float32, n)

		switch {
		case strings.HasSuffix(name, "running_var"):
			for i := range data {
				data[i] = 0.5 + r.Float32()
			}
		case len(shape) == 4:
			fanIn := shape[1] * shape[2] * shape[3]
			std := math.Sqrt(2 / float64(fanIn))
			for i := range data {
				data[i] = float32(r.NormFloat64() * std)
			}
		case len(shape) == 1 && strings.HasSuffix(name, ".weight"):
			for i := range data {
				data[i] = 0.5 + r.Float32()*0.5
			}
		default:
			for i := range data {
				data[i] = (r.Float32()*2 - 1) * 0.1
			}
		}
		params[name] = Param{Shape: append([]int(nil), shape...), Data: data}
	}
	return params
}

// Prefixed returns params with every name prefixed.
func Prefixed(params map[string]Param, prefix string) map[string]Param {
	out := make(map[string]Param, len(params))
	for name, p := range params {
		out[prefix+name] = p
	}
	return out
}

type tensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// WriteSafetensors writes params as a little-endian F32 safetensors file.
func WriteSafetensors(path string, params map[string]Param, metadata map[string]string) error {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]any, len(params)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}

	var data bytes.Buffer
	for _, name := range names {
		p := params[name]
		n := 1
		for _, d := range p.Shape {
			n *= d
		}
		if n != len(p.Data) {
			return fmt.Errorf("param %s: shape %v needs %d values, got %d", name, p.Shape, n, len(p.Data))
		}
		start := int64(data.Len())
		if err := binary.Write(&data, binary.LittleEndian, p.Data); err != nil {
			return err
		}
		header[name] = tensorHeader{DType: "F32", Shape: p.Shape, DataOffsets: [2]int64{start, int64(data.Len())}}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return err
	}
	// Pad the header so tensor data starts 8-byte aligned.
	for len(headerJSON)%8 != 0 {
		headerJSON = append(headerJSON, ' ')
	}

	var out bytes.Buffer
	if err := binary.Write(&out, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return err
	}
	out.Write(headerJSON)
	out.Write(data.Bytes())

	return os.WriteFile(path, out.Bytes(), 0o644)
}
