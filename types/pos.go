package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Pos is a point in diagram coordinates
type Pos struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// String renders the position as "x,y"
func (p Pos) String() string {
	return strconv.FormatFloat(p.X, 'g', -1, 64) + "," + strconv.FormatFloat(p.Y, 'g', -1, 64)
}

// ParsePos parses the "x,y" form produced by Pos.String
func ParsePos(s string) (Pos, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Pos{}, fmt.Errorf("invalid position %q: expected x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Pos{}, fmt.Errorf("invalid x coordinate in %q: %w", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Pos{}, fmt.Errorf("invalid y coordinate in %q: %w", s, err)
	}
	return Pos{X: x, Y: y}, nil
}
