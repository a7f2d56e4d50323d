package geo

import "math"

// Shape is a closed figure.
type Shape interface {
	Area() float64
	Name() string
}

type Square struct{ Side float64 }

func NewSquare(side float64) *Square { return &Square{Side: side} }

func (s *Square) Area() float64 { return s.Side * s.Side }
func (s *Square) Name() string  { return "square" }

type Circle struct{ R float64 }

func (c *Circle) Area() float64 { return math.Pi * c.R * c.R }
func (c *Circle) Name() string  { return "circle" }

type Triangle struct{ Base, Height float64 }

func (t Triangle) Area() float64 { return t.Base * t.Height / 2 }
func (t Triangle) Name() string  { return "triangle" }

// Labeled is a square with a caption.
type Labeled struct {
	*Square
	Caption string
}

var sides map[string]int

func init() {
	sides = map[string]int{"square": 4, "triangle": 3}
}

func Total(shapes []Shape) float64 {
	var sum float64
	for _, s := range shapes {
		sum += s.Area()
	}
	return sum
}

func Sides(name string) int { return sides[name] }
