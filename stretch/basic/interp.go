package basic

import (
	"math"

	"github.com/cwbudde/algo-stretch/stretch"
)

// interpolate reads the grain's input audio at fractional chunk-local
// position p, using the interpolator selected by the request's resample
// mode. chunkMargin guarantees that all taps fall inside the chunk.
func interpolate(g *grain, channel int, p float64) float64 {
	i := int(math.Floor(p))
	t := p - float64(i)

	switch g.mode {
	case stretch.ResampleModeFast:
		x0 := g.sample(channel, i)
		return x0 + t*(g.sample(channel, i+1)-x0)
	case stretch.ResampleModeBest:
		return lagrange6(t,
			g.sample(channel, i-2),
			g.sample(channel, i-1),
			g.sample(channel, i),
			g.sample(channel, i+1),
			g.sample(channel, i+2),
			g.sample(channel, i+3))
	default:
		return hermite4(t,
			g.sample(channel, i-1),
			g.sample(channel, i),
			g.sample(channel, i+1),
			g.sample(channel, i+2))
	}
}

// hermite4 computes cubic 4-point interpolation from x0 to x1 using the
// neighbour points xm1 and x2.
func hermite4(t, xm1, x0, x1, x2 float64) float64 {
	c0 := x0
	c1 := 0.5 * (x1 - xm1)
	c2 := xm1 - 2.5*x0 + 2*x1 - 0.5*x2
	c3 := 0.5*(x2-xm1) + 1.5*(x0-x1)
	return ((c3*t+c2)*t+c1)*t + c0
}

// lagrange6 evaluates the degree-5 Lagrange polynomial through six
// equally spaced points at parameter t in [0, 1), interpolating between
// x0 and x1.
func lagrange6(t, xm2, xm1, x0, x1, x2, x3 float64) float64 {
	a := t + 2
	b := t + 1
	c := t - 1
	d := t - 2
	e := t - 3

	return b*t*c*d*e/-120*xm2 +
		a*t*c*d*e/24*xm1 +
		a*b*c*d*e/-12*x0 +
		a*b*t*d*e/12*x1 +
		a*b*t*c*e/-24*x2 +
		a*b*t*c*d/120*x3
}
