// Package layout decides which participant tiles are visible and how big they are.
// Everything here is plain arithmetic over already validated inputs.
package layout

import (
	"math"
	"strings"
)

const (
	MaxColumns       = 4
	TileWidth        = 320
	CompactTileWidth = 220

	// Page sizes when no explicit override is given.
	DockedPinnedPageSize = 3
	DockedPageSize       = 4
	MinGridPageSize      = 4

	StripShare    = 0.25
	MinStripWidth = 180
	MaxStripWidth = 360
)

// Tile is the part of a participant layout cares about.
type Tile struct {
	ID    string
	Label string
}

type Input struct {
	Tiles    []Tile
	Filter   string
	PinnedID string
	Docked   bool
	Compact  bool
	Width    int
	// PageSize overrides the computed page size when positive.
	PageSize int
	Page     int
}

type Size struct {
	Width  int
	Height int
}

type Frame struct {
	Columns    int
	PageSize   int
	Page       int
	TotalPages int

	Pinned  *Tile
	Visible []Tile
	// Paged is the size of the filtered set being paginated.
	Paged int

	PinnedSize Size
	TileSize   Size
	// StripWidth is the width of the docked filmstrip, zero when undocked.
	StripWidth int
}

func (f Frame) HasPrev() bool { return f.Page > 1 }
func (f Frame) HasNext() bool { return f.Page < f.TotalPages }

// Columns is floor(width / target tile width) clamped to [1, MaxColumns].
func Columns(width int, compact bool) int {
	target := TileWidth
	if compact {
		target = CompactTileWidth
	}
	return clamp(width/target, 1, MaxColumns)
}

// PageSize picks how many unpinned tiles share a page.
func PageSize(columns int, docked, pinned bool, override int) int {
	switch {
	case override > 0:
		return override
	case docked && pinned:
		return DockedPinnedPageSize
	case docked:
		return DockedPageSize
	default:
		return max(MinGridPageSize, columns*2)
	}
}

// TotalPages is ceil(n / pageSize), never less than 1.
func TotalPages(n, pageSize int) int {
	if n <= 0 || pageSize <= 0 {
		return 1
	}
	return (n + pageSize - 1) / pageSize
}

func ClampPage(page, total int) int {
	return clamp(page, 1, max(total, 1))
}

// Compute lays out one frame. The pinned tile is taken out of the paginated
// set and is shown whatever the filter says.
func Compute(in Input) Frame {
	var pinned *Tile
	paged := make([]Tile, 0, len(in.Tiles))
	filter := strings.ToLower(strings.TrimSpace(in.Filter))

	for _, t := range in.Tiles {
		if in.PinnedID != "" && t.ID == in.PinnedID && pinned == nil {
			p := t
			pinned = &p
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(t.Label), filter) {
			continue
		}
		paged = append(paged, t)
	}

	f := Frame{
		Columns: Columns(in.Width, in.Compact),
		Pinned:  pinned,
		Paged:   len(paged),
	}
	f.PageSize = PageSize(f.Columns, in.Docked, pinned != nil, in.PageSize)
	f.TotalPages = TotalPages(len(paged), f.PageSize)
	f.Page = ClampPage(in.Page, f.TotalPages)

	start := (f.Page - 1) * f.PageSize
	end := min(start+f.PageSize, len(paged))
	if start < end {
		f.Visible = paged[start:end]
	}

	f.geometry(in)
	return f
}

func (f *Frame) geometry(in Input) {
	width := max(in.Width, 0)

	if in.Docked && f.Pinned != nil {
		f.StripWidth = clamp(int(math.Round(float64(width)*StripShare)), MinStripWidth, MaxStripWidth)
		f.PinnedSize = widescreen(max(width-f.StripWidth, 0))
		f.TileSize = widescreen(f.StripWidth)
		return
	}

	if f.Pinned != nil {
		f.PinnedSize = widescreen(width)
	}
	f.TileSize = widescreen(width / f.Columns)
}

func widescreen(width int) Size {
	return Size{Width: width, Height: width * 9 / 16}
}

func clamp(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
