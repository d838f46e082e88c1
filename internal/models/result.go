package models

import "time"

// Category is the behavioral/affective class produced by the classifier
type Category int

const (
	CategoryCalm Category = iota
	CategoryExcited
	CategoryStressed
	CategoryFocused
	CategoryRelaxed
	CategoryAnxious
	CategoryUnknown
)

// ClassCount is the number of categories the classifier can select by argmax.
// CategoryUnknown is the fallback and is never an argmax output.
const ClassCount = 6

var categoryLabels = [...]string{"calm", "excited", "stressed", "focused", "relaxed", "anxious", "unknown"}

// String returns the wire label of the category
func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryLabels) {
		return "unknown"
	}
	return categoryLabels[c]
}

// CategoryFromIndex maps a classifier output index to a category
func CategoryFromIndex(i int) Category {
	if i < 0 || i >= ClassCount {
		return CategoryUnknown
	}
	return Category(i)
}

// ParseCategory maps a wire label back to a category
func ParseCategory(label string) Category {
	for i, l := range categoryLabels {
		if l == label {
			return Category(i)
		}
	}
	return CategoryUnknown
}

// ClassificationResult is the output of one inference
type ClassificationResult struct {
	Category   Category  `json:"category"`
	Score      float64   `json:"score"`      // probability of the chosen category
	Confidence float64   `json:"confidence"` // equals Score
	Timestamp  time.Time `json:"timestamp"`
	DeviceID   string    `json:"device_id"`
	Features   []float64 `json:"features"`
}

// Valid reports whether the result carries a usable classification
func (r ClassificationResult) Valid() bool {
	return r.Confidence > 0
}

// InvalidResult returns the zero-confidence result used when inference is skipped or rejected
func InvalidResult(deviceID string) ClassificationResult {
	return ClassificationResult{
		Category: CategoryUnknown,
		DeviceID: deviceID,
	}
}

// Record is the canonical wire record serialized before encryption
type Record struct {
	DeviceID    string  `json:"device_id"`
	Category    string  `json:"category"`
	Score       float64 `json:"score"`
	Confidence  float64 `json:"confidence"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// NewRecord builds the canonical record for a result
func NewRecord(r ClassificationResult) Record {
	return Record{
		DeviceID:    r.DeviceID,
		Category:    r.Category.String(),
		Score:       r.Score,
		Confidence:  r.Confidence,
		TimestampMs: r.Timestamp.UnixMilli(),
	}
}
