package arena

import "math"

// Horizontal sensor bearings relative to the heading: five across the front,
// two at the back.
var proxBearings = [...]float64{
	-40 * math.Pi / 180,
	-20 * math.Pi / 180,
	0,
	20 * math.Pi / 180,
	40 * math.Pi / 180,
	160 * math.Pi / 180,
	200 * math.Pi / 180,
}

// Ground sensors sit just inside the front rim, left and right of centre.
var groundOffsets = [...]struct{ forward, lateral float64 }{
	{forward: 0.8, lateral: 0.2},
	{forward: 0.8, lateral: -0.2},
}

const (
	floorReflectance = 0.2
	edgeReflectance  = 0.9
)

// Raw returns the unnormalized horizontal and ground readings of robot i. A
// horizontal reading rises linearly from 0 at ProxRange to the maximum at
// contact. The ground sensors see a bright band along the walls.
func (a *Arena) Raw(i int) (horizontal, ground []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cfg := a.cfg
	self := a.bodies[i].pose

	horizontal = make([]float64, len(proxBearings))
	for k, bearing := range proxBearings {
		theta := self.Heading + bearing
		ox := self.X + cfg.BodyRadius*math.Cos(theta)
		oy := self.Y + cfg.BodyRadius*math.Sin(theta)
		dx, dy := math.Cos(theta), math.Sin(theta)

		d := wallDistance(ox, oy, dx, dy, cfg.Width/2, cfg.Height/2)
		for j, other := range a.bodies {
			if j == i {
				continue
			}
			if hit, ok := circleDistance(ox, oy, dx, dy, other.pose.X, other.pose.Y, cfg.BodyRadius); ok && hit < d {
				d = hit
			}
		}
		if d < cfg.ProxRange {
			horizontal[k] = cfg.Limits.MaxHorizontal * (1 - d/cfg.ProxRange)
		}
	}

	ground = make([]float64, len(groundOffsets))
	cos, sin := math.Cos(self.Heading), math.Sin(self.Heading)
	for k, off := range groundOffsets {
		f := off.forward * cfg.BodyRadius
		l := off.lateral * cfg.BodyRadius
		gx := self.X + f*cos - l*sin
		gy := self.Y + f*sin + l*cos
		reflect := floorReflectance
		if cfg.Width/2-math.Abs(gx) < cfg.EdgeBand || cfg.Height/2-math.Abs(gy) < cfg.EdgeBand {
			reflect = edgeReflectance
		}
		ground[k] = reflect * cfg.Limits.MaxGround
	}
	return horizontal, ground
}

// wallDistance is the distance along (dx,dy) from a point inside the box
// [-hx,hx]x[-hy,hy] to its boundary.
func wallDistance(ox, oy, dx, dy, hx, hy float64) float64 {
	d := math.Inf(1)
	if dx > 0 {
		d = math.Min(d, (hx-ox)/dx)
	} else if dx < 0 {
		d = math.Min(d, (-hx-ox)/dx)
	}
	if dy > 0 {
		d = math.Min(d, (hy-oy)/dy)
	} else if dy < 0 {
		d = math.Min(d, (-hy-oy)/dy)
	}
	return math.Max(d, 0)
}

// circleDistance intersects the unit ray from (ox,oy) with a circle.
func circleDistance(ox, oy, dx, dy, cx, cy, r float64) (float64, bool) {
	fx, fy := ox-cx, oy-cy
	b := fx*dx + fy*dy
	c := fx*fx + fy*fy - r*r
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
	if c < 0 {
		return 0, true
	}
	return t, true
}
