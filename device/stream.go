package device

import (
	"context"
	"fmt"

	"github.com/c360/devlink/config"
	"github.com/c360/devlink/errors"
	"github.com/c360/devlink/topics"
	"github.com/c360/devlink/transport"
)

// Kind is the closed set of stream kinds. The kind decides which
// intrinsics shape a stream may carry.
type Kind int

const (
	KindVideo Kind = iota
	KindMotion
	KindOther
)

// String returns the kind's wire name.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindMotion:
		return "motion"
	default:
		return "other"
	}
}

// KindFromString parses a wire or configuration kind name.
func KindFromString(s string) (Kind, error) {
	switch s {
	case "video":
		return KindVideo, nil
	case "motion":
		return KindMotion, nil
	case "other", "":
		return KindOther, nil
	default:
		return KindOther, fmt.Errorf("unknown stream kind %q", s)
	}
}

// Profile is one supported delivery mode of a stream. Width and height
// are meaningful for video streams only.
type Profile struct {
	Frequency int
	Format    string
	Width     int
	Height    int
}

func (p Profile) toMap(kind Kind) map[string]any {
	m := map[string]any{"frequency": p.Frequency}
	if p.Format != "" {
		m["format"] = p.Format
	}
	if kind == KindVideo {
		m["width"] = p.Width
		m["height"] = p.Height
	}
	return m
}

// Intrinsics is the per-kind calibration payload of a stream. The
// variants are closed: video streams carry a VideoIntrinsicsSet, motion
// streams a MotionIntrinsics, other kinds none.
type Intrinsics interface {
	intrinsicsValue() any
}

// VideoIntrinsics describes the projection of one video resolution.
type VideoIntrinsics struct {
	Width            int
	Height           int
	PrincipalPointX  float64
	PrincipalPointY  float64
	FocalLengthX     float64
	FocalLengthY     float64
	DistortionModel  string
	DistortionCoeffs []float64
}

func (vi VideoIntrinsics) toMap() map[string]any {
	m := map[string]any{
		"width":           vi.Width,
		"height":          vi.Height,
		"principal-point": []any{vi.PrincipalPointX, vi.PrincipalPointY},
		"focal-length":    []any{vi.FocalLengthX, vi.FocalLengthY},
	}
	if vi.DistortionModel != "" {
		m["distortion-model"] = vi.DistortionModel
	}
	if len(vi.DistortionCoeffs) > 0 {
		coeffs := make([]any, 0, len(vi.DistortionCoeffs))
		for _, c := range vi.DistortionCoeffs {
			coeffs = append(coeffs, c)
		}
		m["distortion-coefficients"] = coeffs
	}
	return m
}

// VideoIntrinsicsSet is the per-resolution intrinsics list of a video
// stream.
type VideoIntrinsicsSet []VideoIntrinsics

func (s VideoIntrinsicsSet) intrinsicsValue() any {
	out := make([]any, 0, len(s))
	for _, vi := range s {
		out = append(out, vi.toMap())
	}
	return out
}

// MotionDeviceIntrinsics is one IMU sensor's calibration.
type MotionDeviceIntrinsics struct {
	Data           [12]float64 // 3x4 row-major transform
	NoiseVariances [3]float64
	BiasVariances  [3]float64
}

func (mi MotionDeviceIntrinsics) toMap() map[string]any {
	return map[string]any{
		"data":            floatSlice(mi.Data[:]),
		"noise-variances": floatSlice(mi.NoiseVariances[:]),
		"bias-variances":  floatSlice(mi.BiasVariances[:]),
	}
}

// MotionIntrinsics is the accelerometer + gyroscope calibration pair of a
// motion stream.
type MotionIntrinsics struct {
	Accel MotionDeviceIntrinsics
	Gyro  MotionDeviceIntrinsics
}

func (m MotionIntrinsics) intrinsicsValue() any {
	return map[string]any{
		"accel": m.Accel.toMap(),
		"gyro":  m.Gyro.toMap(),
	}
}

func floatSlice(fs []float64) []any {
	out := make([]any, 0, len(fs))
	for _, f := range fs {
		out = append(out, f)
	}
	return out
}

// DefaultStreamQoS is the data topic's transport tuning. Frame data is
// latest-wins; stale frames are not worth retransmitting.
var DefaultStreamQoS = transport.QoS{Reliability: transport.BestEffort, HistoryDepth: 0}

// Stream describes one data stream of the device. Except for option
// values, it is immutable once its discovery pair has been published.
type Stream struct {
	Name                string
	Sensor              string
	Kind                Kind
	Profiles            []Profile
	DefaultProfileIndex int
	Options             []*Option
	MetadataEnabled     bool
	RecommendedFilters  []string
	Intrinsics          Intrinsics

	writer transport.Writer
}

// StreamFromConfig builds a stream from its configuration entry.
func StreamFromConfig(sc config.StreamConfig) (*Stream, error) {
	kind, err := KindFromString(sc.Kind)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Stream", "FromConfig", "parse stream kind")
	}

	s := &Stream{
		Name:                sc.Name,
		Sensor:              sc.Sensor,
		Kind:                kind,
		DefaultProfileIndex: sc.DefaultProfileIndex,
		Options:             OptionsFromConfig(sc.Options),
		MetadataEnabled:     sc.MetadataEnabled,
		RecommendedFilters:  sc.Filters,
	}
	for _, pc := range sc.Profiles {
		s.Profiles = append(s.Profiles, Profile{
			Frequency: pc.Frequency,
			Format:    pc.Format,
			Width:     pc.Width,
			Height:    pc.Height,
		})
	}
	return s, nil
}

// Open creates the stream's data topic writer. Called by the server
// during Init.
func (s *Stream) Open(ctx context.Context, participant transport.Participant, topicRoot string, qos transport.QoS) error {
	if s.writer != nil {
		return errors.WrapInvalid(errors.ErrAlreadyInitialized, "Stream", "Open", "open data topic")
	}
	writer, err := participant.CreateWriter(ctx, topics.Stream(topicRoot, s.Name), qos)
	if err != nil {
		return errors.Wrap(err, "Stream", "Open", "create data writer")
	}
	s.writer = writer
	return nil
}

// IsOpen reports whether the data topic is open.
func (s *Stream) IsOpen() bool {
	return s.writer != nil
}

// WriteData publishes one frame on the stream's data topic.
func (s *Stream) WriteData(ctx context.Context, data []byte) error {
	if s.writer == nil {
		return errors.WrapInvalid(errors.ErrNotInitialized, "Stream", "WriteData", "publish frame")
	}
	return s.writer.Write(ctx, data)
}

// HasReaders reports whether any subscriber is attached to the data topic.
func (s *Stream) HasReaders(ctx context.Context) (bool, error) {
	if s.writer == nil {
		return false, nil
	}
	return s.writer.HasReaders(ctx)
}

// Close releases the data topic writer.
func (s *Stream) Close() error {
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
