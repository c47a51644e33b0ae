package sim

import (
	"math"
	"math/rand/v2"

	"episoded/internal/config"
)

const (
	maxRange     = 20.0
	hfov         = math.Pi / 2
	startAlt     = 1.0
	hoverOffset  = 0.2
	targetRadius = 0.3
	targetHeight = 0.3
)

type vec3 struct{ X, Y, Z float64 }

func (v vec3) sub(o vec3) vec3 { return vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v vec3) norm() float64   { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// obstacle is a vertical cylinder standing on the ground.
type obstacle struct {
	X, Y   float64
	R      float64
	Height float64
}

// scene is a flat area with the target and scattered obstacles. Layout only
// needs to be plausible enough to produce varied depth images.
type scene struct {
	cfg       config.SceneConfig
	target    vec3
	obstacles []obstacle
}

func buildScene(cfg config.SceneConfig, rng *rand.Rand) scene {
	half := cfg.AreaSize / 2
	minDist := math.Max(2*cfg.ClearZoneRadius, 1.0)
	uniform := func() (float64, float64) {
		return (rng.Float64()*2 - 1) * half, (rng.Float64()*2 - 1) * half
	}

	s := scene{cfg: cfg}
	for {
		x, y := uniform()
		if math.Hypot(x, y) >= math.Min(minDist, half) {
			s.target = vec3{x, y, targetHeight / 2}
			break
		}
	}

	free := func(x, y float64) bool {
		return math.Hypot(x, y) > cfg.ClearZoneRadius &&
			math.Hypot(x-s.target.X, y-s.target.Y) > cfg.ClearZoneRadius
	}
	place := func(n int, r, h float64) {
		for i := 0; i < n; i++ {
			for try := 0; try < 32; try++ {
				x, y := uniform()
				if free(x, y) {
					s.obstacles = append(s.obstacles, obstacle{X: x, Y: y, R: r, Height: h})
					break
				}
			}
		}
	}
	standing := int(float64(cfg.NumTrees) * cfg.FractionStanding)
	place(standing, 0.15, 3.0)
	place(cfg.NumTrees-standing, 0.3, 0.4)
	place(cfg.NumRocks, 0.25, 0.3)
	return s
}

// rayHit is where a horizontal ray meets an obstacle footprint.
type rayHit struct {
	dist   float64
	height float64
}

// circleHit returns the planar distance along direction (dx, dy) from
// (px, py) to the first intersection with the circle, or false.
func circleHit(px, py, dx, dy, cx, cy, r float64) (float64, bool) {
	ox, oy := px-cx, py-cy
	b := ox*dx + oy*dy
	c := ox*ox + oy*oy - r*r
	disc := b*b - c
	if disc < 0 {
		return 0, false
	}
	sq := math.Sqrt(disc)
	t := -b - sq
	if t < 0 {
		t = -b + sq
	}
	if t < 0 {
		return 0, false
	}
	return t, true
}

// render produces an h×w row-major depth image from pos looking along yaw.
// Each pixel holds the range to the nearest surface, capped at maxRange.
func (s *scene) render(pos vec3, yaw float64, h, w int) []float32 {
	vfov := hfov * float64(h) / float64(w)
	all := append(s.obstacles[:len(s.obstacles):len(s.obstacles)],
		obstacle{X: s.target.X, Y: s.target.Y, R: targetRadius, Height: targetHeight})

	out := make([]float32, h*w)
	hits := make([]rayHit, 0, 16)
	for c := 0; c < w; c++ {
		a := yaw + hfov/2 - (float64(c)+0.5)/float64(w)*hfov
		dx, dy := math.Cos(a), math.Sin(a)
		hits = hits[:0]
		for _, o := range all {
			if t, ok := circleHit(pos.X, pos.Y, dx, dy, o.X, o.Y, o.R); ok && t < maxRange {
				hits = append(hits, rayHit{dist: t, height: o.Height})
			}
		}
		for r := 0; r < h; r++ {
			e := vfov/2 - (float64(r)+0.5)/float64(h)*vfov
			tan, cos := math.Tan(e), math.Cos(e)
			best := maxRange
			if e < 0 && pos.Z > 0 {
				if g := pos.Z / -tan; g/cos < best {
					best = g / cos
				}
			}
			for _, hit := range hits {
				z := pos.Z + hit.dist*tan
				if z >= 0 && z <= hit.height && hit.dist/cos < best {
					best = hit.dist / cos
				}
			}
			out[r*w+c] = float32(best)
		}
	}
	return out
}
