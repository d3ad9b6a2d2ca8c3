package tile

import "image"

// Split arranges surfaces by recursive binary splits. The first
// surface takes half of the area, the remainder share the other half,
// with the split direction alternating at each level. With a single
// surface the split degenerates to the full area.
type Split struct {
	// Gap is the number of pixels left between neighboring windows
	// and around the edge of the output.
	Gap int
}

func (s Split) Layout(area image.Rectangle, surfaces []ID) map[ID]image.Rectangle {
	geo := make(map[ID]image.Rectangle, len(surfaces))
	if len(surfaces) == 0 {
		return geo
	}

	area = area.Inset(s.Gap)
	s.split(area, surfaces, true, geo)
	return geo
}

func (s Split) split(area image.Rectangle, surfaces []ID, vertical bool, geo map[ID]image.Rectangle) {
	if len(surfaces) == 1 {
		geo[surfaces[0]] = area
		return
	}

	first, rest := s.halve(area, vertical)
	geo[surfaces[0]] = first
	s.split(rest, surfaces[1:], !vertical, geo)
}

// halve cuts area in two along the given direction, leaving Gap
// pixels between the halves. The first half keeps any odd pixel.
func (s Split) halve(area image.Rectangle, vertical bool) (first, rest image.Rectangle) {
	if vertical {
		mid := area.Min.X + (area.Dx()+1)/2
		first = image.Rect(area.Min.X, area.Min.Y, mid-(s.Gap+1)/2, area.Max.Y)
		rest = image.Rect(mid+s.Gap/2, area.Min.Y, area.Max.X, area.Max.Y)
		return first, rest
	}

	mid := area.Min.Y + (area.Dy()+1)/2
	first = image.Rect(area.Min.X, area.Min.Y, area.Max.X, mid-(s.Gap+1)/2)
	rest = image.Rect(area.Min.X, mid+s.Gap/2, area.Max.X, area.Max.Y)
	return first, rest
}
