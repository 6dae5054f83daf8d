package models

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

type ShapeType string

const (
	ShapeRect    ShapeType = "rect"
	ShapeEllipse ShapeType = "ellipse"
	ShapeVector  ShapeType = "vector"
	ShapeText    ShapeType = "text"
)

// ShapeModel is implemented by Rect, Ellipse, Vector and Text only.
type ShapeModel interface {
	ShapeType() ShapeType
	validate() error
}

type Rect struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Rotation    float64 `json:"rotation"`
	StrokeColor string  `json:"strokeColor"`
	StrokeWidth float64 `json:"strokeWidth"`
	FillColor   string  `json:"fillColor"`
}

type Ellipse struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	RadiusX     float64 `json:"radiusX"`
	RadiusY     float64 `json:"radiusY"`
	Rotation    float64 `json:"rotation"`
	StrokeColor string  `json:"strokeColor"`
	StrokeWidth float64 `json:"strokeWidth"`
	FillColor   string  `json:"fillColor"`
}

// Vector is a freeform path of flattened x,y pairs.
type Vector struct {
	Points      []float64 `json:"points"`
	StrokeColor string    `json:"strokeColor"`
	StrokeWidth float64   `json:"strokeWidth"`
}

type Text struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Rotation float64 `json:"rotation"`
	Text     string  `json:"text"`
	FontSize float64 `json:"fontSize"`
	Color    string  `json:"color"`
}

func (Rect) ShapeType() ShapeType    { return ShapeRect }
func (Ellipse) ShapeType() ShapeType { return ShapeEllipse }
func (Vector) ShapeType() ShapeType  { return ShapeVector }
func (Text) ShapeType() ShapeType    { return ShapeText }

func (r Rect) validate() error {
	if r.Width < 0 || r.Height < 0 || r.StrokeWidth < 0 {
		return errors.New("rect dimensions must not be negative")
	}
	return nil
}

func (e Ellipse) validate() error {
	if e.RadiusX < 0 || e.RadiusY < 0 || e.StrokeWidth < 0 {
		return errors.New("ellipse radii must not be negative")
	}
	return nil
}

func (v Vector) validate() error {
	if len(v.Points) < 2 || len(v.Points)%2 != 0 {
		return fmt.Errorf("vector needs an even number of coordinates, got %d", len(v.Points))
	}
	if v.StrokeWidth < 0 {
		return errors.New("vector stroke width must not be negative")
	}
	return nil
}

func (t Text) validate() error {
	if t.FontSize <= 0 {
		return errors.New("text font size must be positive")
	}
	if t.Width < 0 || t.Height < 0 {
		return errors.New("text box dimensions must not be negative")
	}
	return nil
}

// Shape is the tagged wire form of a ShapeModel: {"type":"rect", ...fields}.
type Shape struct {
	Model ShapeModel
}

func NewShape(m ShapeModel) Shape {
	return Shape{Model: m}
}

func (s Shape) Validate() error {
	if s.Model == nil {
		return errors.New("shape is empty")
	}
	return s.Model.validate()
}

func (s Shape) MarshalJSON() ([]byte, error) {
	switch m := s.Model.(type) {
	case Rect:
		return json.Marshal(struct {
			Type ShapeType `json:"type"`
			Rect
		}{ShapeRect, m})
	case Ellipse:
		return json.Marshal(struct {
			Type ShapeType `json:"type"`
			Ellipse
		}{ShapeEllipse, m})
	case Vector:
		return json.Marshal(struct {
			Type ShapeType `json:"type"`
			Vector
		}{ShapeVector, m})
	case Text:
		return json.Marshal(struct {
			Type ShapeType `json:"type"`
			Text
		}{ShapeText, m})
	case nil:
		return nil, errors.New("cannot marshal empty shape")
	default:
		return nil, fmt.Errorf("unknown shape model %T", m)
	}
}

func (s *Shape) UnmarshalJSON(data []byte) error {
	var tag struct {
		Type ShapeType `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return err
	}

	var model ShapeModel
	var err error
	switch tag.Type {
	case ShapeRect:
		var r Rect
		err = json.Unmarshal(data, &r)
		model = r
	case ShapeEllipse:
		var e Ellipse
		err = json.Unmarshal(data, &e)
		model = e
	case ShapeVector:
		var v Vector
		err = json.Unmarshal(data, &v)
		model = v
	case ShapeText:
		var t Text
		err = json.Unmarshal(data, &t)
		model = t
	case "":
		return errors.New("shape type missing")
	default:
		return fmt.Errorf("unknown shape type %q", tag.Type)
	}
	if err != nil {
		return err
	}

	s.Model = model
	return nil
}
