package dom

// Rect is an axis-aligned box. Element rects are in document coordinates;
// ClientRect values are relative to the viewport.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) Right() float64  { return r.Left + r.Width }
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Center returns the midpoint of the box.
func (r Rect) Center() (x, y float64) {
	return r.Left + r.Width/2, r.Top + r.Height/2
}

func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

func (r Rect) Contains(x, y float64) bool {
	return !r.Empty() && x >= r.Left && x < r.Right() && y >= r.Top && y < r.Bottom()
}

// Translate shifts the box by dx, dy.
func (r Rect) Translate(dx, dy float64) Rect {
	r.Left += dx
	r.Top += dy
	return r
}

// IntersectionRatio is the fraction of r's area that lies inside other.
func (r Rect) IntersectionRatio(other Rect) float64 {
	if r.Empty() {
		return 0
	}
	w := min(r.Right(), other.Right()) - max(r.Left, other.Left)
	h := min(r.Bottom(), other.Bottom()) - max(r.Top, other.Top)
	if w <= 0 || h <= 0 {
		return 0
	}
	return (w * h) / (r.Width * r.Height)
}

// Viewport is the visible window onto the document.
type Viewport struct {
	ScrollX float64 `json:"scrollX"`
	ScrollY float64 `json:"scrollY"`
	Width   float64 `json:"width"`
	Height  float64 `json:"height"`
}

// Rect returns the viewport in document coordinates.
func (v Viewport) Rect() Rect {
	return Rect{Left: v.ScrollX, Top: v.ScrollY, Width: v.Width, Height: v.Height}
}
