//go:build ignore

// Generates the tray icons.
// Usage: go run scripts/generate_icons.go [dir]
package main

import (
	"image"
	"image/color"
	"image/png"
	"log"
	"math"
	"os"
	"path/filepath"
)

const size = 32

func main() {
	dir := filepath.Join("internal", "tray", "icons")
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Fatalf("create %s: %v", dir, err)
	}

	icons := []struct {
		name  string
		color color.RGBA
	}{
		{"enabled.png", color.RGBA{235, 140, 40, 255}},
		{"disabled.png", color.RGBA{128, 128, 128, 255}},
	}
	for _, icon := range icons {
		path := filepath.Join(dir, icon.name)
		if err := generate(path, icon.color); err != nil {
			log.Fatalf("generate %s: %v", icon.name, err)
		}
		log.Printf("wrote %s", path)
	}
}

// generate draws a cat head: a disc with two triangular ears.
func generate(path string, c color.RGBA) error {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	center := float64(size-1) / 2
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if inHead(float64(x), float64(y), center) || inEar(float64(x), float64(y), center) {
				img.Set(x, y, c)
			}
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func inHead(x, y, center float64) bool {
	dx, dy := x-center, y-center-2
	r := size * 0.36
	return dx*dx+dy*dy <= r*r
}

func inEar(x, y, center float64) bool {
	const top = 2.0
	base := center - 3
	if y < top || y > base {
		return false
	}
	t := (y - top) / (base - top)
	half := 1 + t*size*0.16
	for _, side := range []float64{-1, 1} {
		apex := center + side*size*0.28 + side*size*0.06*(1-t)
		if math.Abs(x-apex) <= half {
			return true
		}
	}
	return false
}
