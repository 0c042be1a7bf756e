package game

import "math"

const (
	MapWidth  = 4800.0
	MapHeight = 4800.0

	TileCount    = 8
	TileWidth    = MapWidth / TileCount
	TileHeight   = MapHeight / TileCount
	CellsPerTile = 4
	InnerRatio   = 0.45
)

var (
	InnerTileWidth  = math.Floor(TileWidth * InnerRatio)
	InnerTileHeight = math.Floor(TileHeight * InnerRatio)
	InnerOffsetX    = math.Floor((TileWidth - InnerTileWidth) / 2)
	InnerOffsetY    = math.Floor((TileHeight - InnerTileHeight) / 2)
	CellWidth       = math.Floor(InnerTileWidth / CellsPerTile)
	CellHeight      = math.Floor(InnerTileHeight / CellsPerTile)
)

func MapCenter() Point { return Point{X: MapWidth / 2, Y: MapHeight / 2} }

func InBounds(p Point) bool {
	return p.X >= 0 && p.X <= MapWidth && p.Y >= 0 && p.Y <= MapHeight
}

// GridToWorld returns the world-space center of global build cell (gx, gy).
func GridToWorld(gx, gy int) Point {
	tileX, tileY := gx/CellsPerTile, gy/CellsPerTile
	cx, cy := gx%CellsPerTile, gy%CellsPerTile
	innerX := float64(tileX)*TileWidth + InnerOffsetX
	innerY := float64(tileY)*TileHeight + InnerOffsetY
	return Point{
		X: innerX + float64(cx)*CellWidth + CellWidth/2,
		Y: innerY + float64(cy)*CellHeight + CellHeight/2,
	}
}

type Corner int

const (
	TopLeft Corner = iota
	TopRight
	BottomLeft
	BottomRight
)

func (c Corner) String() string {
	switch c {
	case TopLeft:
		return "top-left"
	case TopRight:
		return "top-right"
	case BottomLeft:
		return "bottom-left"
	case BottomRight:
		return "bottom-right"
	}
	return "unknown"
}

// cellOffset is the inner cell next to the tile center that the corner names.
func (c Corner) cellOffset() (int, int) {
	switch c {
	case TopRight:
		return 2, 1
	case BottomLeft:
		return 1, 2
	case BottomRight:
		return 2, 2
	}
	return 1, 1
}

// CornerPosition is the world position of the corner cell of tile (tileX, tileY).
func CornerPosition(tileX, tileY int, c Corner) Point {
	ox, oy := c.cellOffset()
	return GridToWorld(tileX*CellsPerTile+ox, tileY*CellsPerTile+oy)
}

// Step moves pos toward target by at most speed. When the remaining distance
// is within speed it lands exactly on target and reports arrival.
func Step(pos, target Point, speed float64) (Point, bool) {
	dx, dy := target.X-pos.X, target.Y-pos.Y
	dist := math.Hypot(dx, dy)
	if dist > speed {
		return Point{X: pos.X + dx/dist*speed, Y: pos.Y + dy/dist*speed}, false
	}
	return target, true
}

func Distance(a, b Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }
