package main

import (
	"fmt"
	"io"
	"os"

	"example.com/shapes/geo"
)

type report struct {
	w io.Writer
}

func (r *report) print(s geo.Shape) {
	fmt.Fprintf(r.w, "%s %.2f\n", s.Name(), s.Area())
}

func main() {
	r := &report{w: os.Stdout}
	shapes := []geo.Shape{geo.NewSquare(2), &geo.Circle{R: 1}}
	describe := func(s geo.Shape) { r.print(s) }
	for _, s := range shapes {
		describe(s)
	}
	fmt.Println(geo.Total(shapes))
}
