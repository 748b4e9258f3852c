package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
)

// number of ranking components
const NumComponents = 5

// Canonical component order. Weight vectors, score rows and JSON all use this order.
var ComponentNames = [NumComponents]string{"recency", "engagement", "bridging", "source_diversity", "relevance"}

type Weights struct {
	Recency         float64 `json:"recency"`
	Engagement      float64 `json:"engagement"`
	Bridging        float64 `json:"bridging"`
	SourceDiversity float64 `json:"source_diversity"`
	Relevance       float64 `json:"relevance"`
}

func (w Weights) Array() [NumComponents]float64 {
	return [NumComponents]float64{w.Recency, w.Engagement, w.Bridging, w.SourceDiversity, w.Relevance}
}

func WeightsFromArray(a [NumComponents]float64) Weights {
	return Weights{
		Recency:         a[0],
		Engagement:      a[1],
		Bridging:        a[2],
		SourceDiversity: a[3],
		Relevance:       a[4],
	}
}

func (w Weights) Sum() float64 {
	var sum float64
	for _, v := range w.Array() {
		sum += v
	}
	return sum
}

// Reports whether every component is within tol of the other vector.
func (w Weights) ApproxEqual(o Weights, tol float64) bool {
	a, b := w.Array(), o.Array()
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

// StringList is stored as a JSON array in a text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for string list column: %T", src)
	}
	if len(raw) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("parsing string list column: %w", err)
	}
	*l = out
	return nil
}

// JSONMap is a structured detail blob stored as JSON text.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(map[string]any(m))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("unsupported type for json column: %T", src)
	}
	if len(raw) == 0 {
		*m = nil
		return nil
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("parsing json column: %w", err)
	}
	*m = out
	return nil
}
