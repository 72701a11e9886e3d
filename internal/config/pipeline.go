package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed default_pipeline.yaml
var defaultPipelineYAML []byte

// Pipeline holds the tuning for every stage of page reconstruction.
// It is loaded once at startup and passed by value into constructors.
type Pipeline struct {
	Preprocessing      Preprocessing      `yaml:"preprocessing"`
	Segmentation       Segmentation       `yaml:"segmentation"`
	TableDetection     TableDetection     `yaml:"table_detection"`
	ExtractionPatterns ExtractionPatterns `yaml:"extraction_patterns"`
	DocumentPatterns   DocumentPatterns   `yaml:"document_patterns"`
}

type Preprocessing struct {
	MaxDimension      int     `yaml:"max_dimension"`
	BlurRadius        int     `yaml:"blur_radius"`
	AdaptiveBlockSize int     `yaml:"adaptive_block_size"`
	AdaptiveC         float64 `yaml:"adaptive_c"`
	MorphKernelWidth  int     `yaml:"morph_kernel_width"`
	MorphKernelHeight int     `yaml:"morph_kernel_height"`
}

type Segmentation struct {
	MinContourArea int     `yaml:"min_contour_area"`
	MinAspectRatio float64 `yaml:"min_aspect_ratio"`
	MaxAspectRatio float64 `yaml:"max_aspect_ratio"`
}

type TableDetection struct {
	ThresholdValue          int     `yaml:"threshold_value"`
	HorizontalKernelLength  int     `yaml:"horizontal_kernel_length"`
	VerticalKernelLength    int     `yaml:"vertical_kernel_length"`
	LineDetectionIterations int     `yaml:"line_detection_iterations"`
	IntersectionThreshold   float64 `yaml:"intersection_threshold"`
}

// ExtractionPatterns lists, per field, the ordered rules tried against a
// page's text. The first rule that matches wins.
type ExtractionPatterns struct {
	DocumentType     []string `yaml:"document_type"`
	DocumentNumber   []string `yaml:"document_number"`
	LocationDate     []string `yaml:"location_date"`
	IssueDate        []string `yaml:"issue_date"`
	IssuingAgency    []string `yaml:"issuing_agency"`
	Recipients       []string `yaml:"recipients"`
	RecipientAddress []string `yaml:"recipient_address"`
	Signer           []string `yaml:"signer"`
	Position         []string `yaml:"position"`
	Subject          []string `yaml:"subject"`

	// Agency fallback: a line matching DateLine ends the header block,
	// lines matching any AgencyLineFilters are skipped.
	DateLine          string   `yaml:"date_line"`
	AgencyLineFilters []string `yaml:"agency_line_filters"`
}

// DocumentPatterns are applied by the merger to a whole document's text.
// Apart from DocumentNumber, each list is tried before the page-level
// extraction rule for the same field.
type DocumentPatterns struct {
	DocumentNumber   []string `yaml:"document_number"`
	IssueLocation    []string `yaml:"issue_location"`
	Recipients       []string `yaml:"recipients"`
	RecipientAddress []string `yaml:"recipient_address"`
	Signer           []string `yaml:"signer"`
	Position         []string `yaml:"position"`
	Subject          []string `yaml:"subject"`
}

// Rules lists the document rule sets keyed by their YAML name.
func (d DocumentPatterns) Rules() map[string][]string {
	return map[string][]string{
		"document_number":   d.DocumentNumber,
		"issue_location":    d.IssueLocation,
		"recipients":        d.Recipients,
		"recipient_address": d.RecipientAddress,
		"signer":            d.Signer,
		"position":          d.Position,
		"subject":           d.Subject,
	}
}

// ValidationError reports a missing or invalid pipeline setting.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("pipeline config %s: %s", e.Key, e.Reason)
}

var requiredSections = map[string][]string{
	"preprocessing": {
		"adaptive_block_size", "adaptive_c", "morph_kernel_width", "morph_kernel_height",
	},
	"segmentation": {
		"min_contour_area", "min_aspect_ratio", "max_aspect_ratio",
	},
	"table_detection": {
		"threshold_value", "horizontal_kernel_length", "vertical_kernel_length",
		"line_detection_iterations", "intersection_threshold",
	},
	"extraction_patterns": nil,
	"document_patterns":   nil,
}

// DefaultPipeline returns the embedded configuration.
func DefaultPipeline() Pipeline {
	p, err := ParsePipeline(defaultPipelineYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded pipeline config: %v", err))
	}
	return p
}

// LoadPipeline reads the pipeline file at path, or the embedded default
// when path is empty.
func LoadPipeline(path string) (Pipeline, error) {
	if path == "" {
		return ParsePipeline(defaultPipelineYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read pipeline config: %w", err)
	}
	return ParsePipeline(data)
}

// ParsePipeline decodes and validates a pipeline document. Unknown keys,
// missing sections and malformed rules are all rejected.
func ParsePipeline(data []byte) (Pipeline, error) {
	var raw map[string]map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Pipeline{}, fmt.Errorf("parse pipeline config: %w", err)
	}
	for section, keys := range requiredSections {
		body, ok := raw[section]
		if !ok {
			return Pipeline{}, &ValidationError{Key: section, Reason: "missing section"}
		}
		for _, k := range keys {
			if _, ok := body[k]; !ok {
				return Pipeline{}, &ValidationError{Key: section + "." + k, Reason: "missing key"}
			}
		}
	}

	var p Pipeline
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("decode pipeline config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Pipeline{}, err
	}
	return p, nil
}

func (p Pipeline) Validate() error {
	pre := p.Preprocessing
	if pre.AdaptiveBlockSize < 3 || pre.AdaptiveBlockSize%2 == 0 {
		return &ValidationError{Key: "preprocessing.adaptive_block_size", Reason: "must be an odd number >= 3"}
	}
	if pre.MorphKernelWidth < 1 || pre.MorphKernelHeight < 1 {
		return &ValidationError{Key: "preprocessing.morph_kernel", Reason: "dimensions must be >= 1"}
	}
	if pre.BlurRadius < 0 || pre.MaxDimension < 0 {
		return &ValidationError{Key: "preprocessing", Reason: "blur_radius and max_dimension must not be negative"}
	}

	seg := p.Segmentation
	if seg.MinContourArea < 0 {
		return &ValidationError{Key: "segmentation.min_contour_area", Reason: "must not be negative"}
	}
	if seg.MinAspectRatio <= 0 || seg.MaxAspectRatio < seg.MinAspectRatio {
		return &ValidationError{Key: "segmentation.aspect_ratio", Reason: "need 0 < min_aspect_ratio <= max_aspect_ratio"}
	}

	td := p.TableDetection
	if td.ThresholdValue < 0 || td.ThresholdValue > 255 {
		return &ValidationError{Key: "table_detection.threshold_value", Reason: "must be within 0..255"}
	}
	if td.HorizontalKernelLength < 1 || td.VerticalKernelLength < 1 {
		return &ValidationError{Key: "table_detection.kernel_length", Reason: "must be >= 1"}
	}
	if td.LineDetectionIterations < 1 {
		return &ValidationError{Key: "table_detection.line_detection_iterations", Reason: "must be >= 1"}
	}
	if td.IntersectionThreshold <= 0 {
		return &ValidationError{Key: "table_detection.intersection_threshold", Reason: "must be > 0"}
	}

	ep := p.ExtractionPatterns
	rules := map[string][]string{
		"document_type":     ep.DocumentType,
		"document_number":   ep.DocumentNumber,
		"location_date":     ep.LocationDate,
		"issue_date":        ep.IssueDate,
		"issuing_agency":    ep.IssuingAgency,
		"recipients":        ep.Recipients,
		"recipient_address": ep.RecipientAddress,
		"signer":            ep.Signer,
		"position":          ep.Position,
		"subject":           ep.Subject,
		"agency_filters":    ep.AgencyLineFilters,
	}
	if ep.DateLine != "" {
		rules["date_line"] = []string{ep.DateLine}
	}
	for field, list := range rules {
		for i, expr := range list {
			if _, err := regexp.Compile(expr); err != nil {
				return &ValidationError{
					Key:    fmt.Sprintf("extraction_patterns.%s[%d]", field, i),
					Reason: err.Error(),
				}
			}
		}
	}
	for field, list := range p.DocumentPatterns.Rules() {
		for i, expr := range list {
			if _, err := regexp.Compile(expr); err != nil {
				return &ValidationError{
					Key:    fmt.Sprintf("document_patterns.%s[%d]", field, i),
					Reason: err.Error(),
				}
			}
		}
	}
	return nil
}
