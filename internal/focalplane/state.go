package focalplane

import (
	"encoding/json"
	"fmt"
	"io"

	"gonum.org/v1/gonum/spatial/r2"
	"gopkg.in/yaml.v3"
)

// State is the serializable projection of a Registry: the ordered sensor
// mapping plus the registry-wide constants. Nothing else is needed to
// rebuild an equivalent registry.
type State struct {
	Variant     string             `json:"variant" yaml:"variant"`
	FieldCenter [2]float64         `json:"field_center" yaml:"field_center"`
	ClearRadius float64            `json:"clear_radius" yaml:"clear_radius"`
	Constants   map[string]float64 `json:"constants,omitempty" yaml:"constants,omitempty"`
	Sensors     []SensorState      `json:"sensors" yaml:"sensors"`
}

// SensorState is the serializable form of a SensorRecord.
type SensorState struct {
	ID               string     `json:"id" yaml:"id"`
	Reference        [2]float64 `json:"reference" yaml:"reference"`
	FocusAlignment   bool       `json:"focus_alignment" yaml:"focus_alignment"`
	HalfExtents      [2]float64 `json:"half_extents" yaml:"half_extents"`
	Scale            ScaleState `json:"scale" yaml:"scale"`
	RotationDeg      float64    `json:"rotation_deg" yaml:"rotation_deg"`
	MechanicalOffset float64    `json:"mechanical_offset,omitempty" yaml:"mechanical_offset,omitempty"`
	Extension        int        `json:"extension,omitempty" yaml:"extension,omitempty"`
	SensorNumber     int        `json:"sensor_number,omitempty" yaml:"sensor_number,omitempty"`
}

// ScaleState is the serializable form of a ScaleModel. Rule may be nil in
// hand-written calibration files; callers resolve it before FromState.
type ScaleState struct {
	Kind   string     `json:"kind" yaml:"kind"`
	Scalar float64    `json:"scalar,omitempty" yaml:"scalar,omitempty"`
	CD     []float64  `json:"cd,omitempty" yaml:"cd,omitempty,flow"`
	Triple *Triple    `json:"triple,omitempty" yaml:"triple,omitempty"`
	Rule   *RuleState `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// RuleState is the serializable form of an AxisRule.
type RuleState struct {
	Swap  bool    `json:"swap" yaml:"swap"`
	XRole string  `json:"x_role" yaml:"x_role"`
	XSign float64 `json:"x_sign" yaml:"x_sign"`
	YRole string  `json:"y_role" yaml:"y_role"`
	YSign float64 `json:"y_sign" yaml:"y_sign"`
}

// State exports the registry.
func (r *Registry) State() State {
	st := State{
		Variant:     r.cfg.Variant,
		FieldCenter: [2]float64{r.cfg.FieldCenter.X, r.cfg.FieldCenter.Y},
		ClearRadius: r.cfg.ClearRadius,
		Constants:   r.Constants(),
		Sensors:     make([]SensorState, 0, len(r.entries)),
	}
	for _, e := range r.entries {
		rec := e.Record
		st.Sensors = append(st.Sensors, SensorState{
			ID:               rec.ID,
			Reference:        [2]float64{rec.Reference.X, rec.Reference.Y},
			FocusAlignment:   rec.FocusAlignment,
			HalfExtents:      [2]float64{rec.HalfExtents.X, rec.HalfExtents.Y},
			Scale:            scaleState(rec.Scale),
			RotationDeg:      rec.RotationDeg,
			MechanicalOffset: rec.MechanicalOffset,
			Extension:        rec.Extension,
			SensorNumber:     rec.SensorNumber,
		})
	}
	return st
}

func scaleState(m ScaleModel) ScaleState {
	ss := ScaleState{Kind: m.Kind.String()}
	switch m.Kind {
	case ScaleScalar:
		ss.Scalar = m.Scalar
	case ScaleMatrix:
		ss.CD = m.CD[:]
	case ScaleAxes:
		t := m.Triple
		ss.Triple = &t
		ss.Rule = &RuleState{
			Swap:  m.Rule.Swap,
			XRole: m.Rule.X.Role.String(),
			XSign: m.Rule.X.Sign,
			YRole: m.Rule.Y.Role.String(),
			YSign: m.Rule.Y.Sign,
		}
	}
	return ss
}

// FromState rebuilds a registry from an exported state.
func FromState(st State) (*Registry, error) {
	records := make([]SensorRecord, 0, len(st.Sensors))
	for _, s := range st.Sensors {
		scale, err := s.Scale.Model()
		if err != nil {
			return nil, fmt.Errorf("sensor %q: %w", s.ID, err)
		}
		records = append(records, SensorRecord{
			ID:               s.ID,
			Reference:        r2.Vec{X: s.Reference[0], Y: s.Reference[1]},
			FocusAlignment:   s.FocusAlignment,
			HalfExtents:      r2.Vec{X: s.HalfExtents[0], Y: s.HalfExtents[1]},
			Scale:            scale,
			RotationDeg:      s.RotationDeg,
			MechanicalOffset: s.MechanicalOffset,
			Extension:        s.Extension,
			SensorNumber:     s.SensorNumber,
		})
	}
	return NewRegistry(Config{
		Variant:     st.Variant,
		FieldCenter: r2.Vec{X: st.FieldCenter[0], Y: st.FieldCenter[1]},
		ClearRadius: st.ClearRadius,
		Constants:   st.Constants,
	}, records...)
}

// Model converts the serialized scale back into a ScaleModel.
func (s ScaleState) Model() (ScaleModel, error) {
	kind, err := ParseScaleKind(s.Kind)
	if err != nil {
		return ScaleModel{}, err
	}
	switch kind {
	case ScaleScalar:
		return Scalar(s.Scalar), nil
	case ScaleMatrix:
		if len(s.CD) != 4 {
			return ScaleModel{}, fmt.Errorf("%w: cd needs 4 coefficients, got %d", ErrInvalidCalibration, len(s.CD))
		}
		return Matrix(s.CD[0], s.CD[1], s.CD[2], s.CD[3]), nil
	default:
		if s.Triple == nil {
			return ScaleModel{}, fmt.Errorf("%w: axes scale without triple", ErrInvalidCalibration)
		}
		if s.Rule == nil {
			return ScaleModel{}, fmt.Errorf("%w: axes scale without rule", ErrInvalidCalibration)
		}
		rule, err := s.Rule.rule()
		if err != nil {
			return ScaleModel{}, err
		}
		return Axes(*s.Triple, rule), nil
	}
}

func (rs RuleState) rule() (AxisRule, error) {
	xr, err := ParseScaleRole(rs.XRole)
	if err != nil {
		return AxisRule{}, err
	}
	yr, err := ParseScaleRole(rs.YRole)
	if err != nil {
		return AxisRule{}, err
	}
	return AxisRule{
		Swap: rs.Swap,
		X:    AxisTerm{Role: xr, Sign: rs.XSign},
		Y:    AxisTerm{Role: yr, Sign: rs.YSign},
	}, nil
}

// NewRuleState is the serializable form of rule.
func NewRuleState(rule AxisRule) *RuleState {
	return scaleState(Axes(Triple{}, rule)).Rule
}

// Format names a state encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" and "yml"; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported state format %q", s)
}

// EncodeState writes st to w.
func EncodeState(w io.Writer, st State, f Format) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(st); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported state format %q", f)
}

// DecodeState reads a state from r.
func DecodeState(r io.Reader, f Format) (State, error) {
	var st State
	var err error
	switch f {
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&st)
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&st)
	default:
		return st, fmt.Errorf("unsupported state format %q", f)
	}
	if err != nil {
		return st, fmt.Errorf("decoding %s state: %w", f, err)
	}
	return st, nil
}
