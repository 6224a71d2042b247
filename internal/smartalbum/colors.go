package smartalbum

import (
	"math"
	"strconv"
	"strings"
)

// namedColor is one entry of the predefined color-name group table the
// characteristic evaluator uses to classify Image.DominantColor (a
// "#rrggbb" hex string) into a human-facing group name.
type namedColor struct {
	name       string
	r, g, b    int
}

var colorGroups = []namedColor{
	{"black", 0, 0, 0},
	{"white", 255, 255, 255},
	{"gray", 128, 128, 128},
	{"red", 220, 20, 30},
	{"orange", 235, 130, 30},
	{"yellow", 230, 210, 40},
	{"green", 40, 160, 70},
	{"cyan", 40, 190, 200},
	{"blue", 40, 80, 220},
	{"purple", 130, 60, 180},
	{"pink", 230, 110, 170},
	{"brown", 120, 80, 50},
}

// colorGroupOf classifies a "#rrggbb" hex string into the nearest named
// group by Euclidean distance in RGB space. An unparseable hex string
// classifies as "" (no group).
func colorGroupOf(hex string) string {
	r, g, b, ok := parseHex(hex)
	if !ok {
		return ""
	}

	best := ""
	bestDist := math.MaxFloat64
	for _, c := range colorGroups {
		d := rgbDistance(r, g, b, c.r, c.g, c.b)
		if d < bestDist {
			bestDist = d
			best = c.name
		}
	}
	return best
}

func parseHex(hex string) (r, g, b int, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	ri, err1 := strconv.ParseInt(hex[0:2], 16, 32)
	gi, err2 := strconv.ParseInt(hex[2:4], 16, 32)
	bi, err3 := strconv.ParseInt(hex[4:6], 16, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	return int(ri), int(gi), int(bi), true
}

func rgbDistance(r1, g1, b1, r2, g2, b2 int) float64 {
	dr, dg, db := float64(r1-r2), float64(g1-g2), float64(b1-b2)
	return dr*dr + dg*dg + db*db
}
