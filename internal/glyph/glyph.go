// Package glyph holds the 5x7 bitmap font of the machine-readable character
// set (digits, A-Z and the MRZ filler '<').
package glyph

import (
	"image"
	"image/color"
)

const (
	// Width and Height are the cell size in font pixels.
	Width  = 5
	Height = 7
	// Advance is the horizontal step between cells, one blank column included.
	Advance = Width + 1
)

// Charset lists every rune with a bitmap.
const Charset = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ<"

var bitmaps = map[rune][Height]string{
	'0': {".###.", "#...#", "#..##", "#.#.#", "##..#", "#...#", ".###."},
	'1': {"..#..", ".##..", "..#..", "..#..", "..#..", "..#..", ".###."},
	'2': {".###.", "#...#", "....#", "...#.", "..#..", ".#...", "#####"},
	'3': {"#####", "...#.", "..#..", "...#.", "....#", "#...#", ".###."},
	'4': {"...#.", "..##.", ".#.#.", "#..#.", "#####", "...#.", "...#."},
	'5': {"#####", "#....", "####.", "....#", "....#", "#...#", ".###."},
	'6': {"..##.", ".#...", "#....", "####.", "#...#", "#...#", ".###."},
	'7': {"#####", "....#", "...#.", "..#..", ".#...", ".#...", ".#..."},
	'8': {".###.", "#...#", "#...#", ".###.", "#...#", "#...#", ".###."},
	'9': {".###.", "#...#", "#...#", ".####", "....#", "...#.", ".##.."},
	'A': {".###.", "#...#", "#...#", "#####", "#...#", "#...#", "#...#"},
	'B': {"####.", "#...#", "#...#", "####.", "#...#", "#...#", "####."},
	'C': {".###.", "#...#", "#....", "#....", "#....", "#...#", ".###."},
	'D': {"###..", "#..#.", "#...#", "#...#", "#...#", "#..#.", "###.."},
	'E': {"#####", "#....", "#....", "####.", "#....", "#....", "#####"},
	'F': {"#####", "#....", "#....", "####.", "#....", "#....", "#...."},
	'G': {".###.", "#...#", "#....", "#.###", "#...#", "#...#", ".####"},
	'H': {"#...#", "#...#", "#...#", "#####", "#...#", "#...#", "#...#"},
	'I': {".###.", "..#..", "..#..", "..#..", "..#..", "..#..", ".###."},
	'J': {"..###", "...#.", "...#.", "...#.", "...#.", "#..#.", ".##.."},
	'K': {"#...#", "#..#.", "#.#..", "##...", "#.#..", "#..#.", "#...#"},
	'L': {"#....", "#....", "#....", "#....", "#....", "#....", "#####"},
	'M': {"#...#", "##.##", "#.#.#", "#.#.#", "#...#", "#...#", "#...#"},
	'N': {"#...#", "#...#", "##..#", "#.#.#", "#..##", "#...#", "#...#"},
	'O': {".###.", "#...#", "#...#", "#...#", "#...#", "#...#", ".###."},
	'P': {"####.", "#...#", "#...#", "####.", "#....", "#....", "#...."},
	'Q': {".###.", "#...#", "#...#", "#...#", "#.#.#", "#..#.", ".##.#"},
	'R': {"####.", "#...#", "#...#", "####.", "#.#..", "#..#.", "#...#"},
	'S': {".####", "#....", "#....", ".###.", "....#", "....#", "####."},
	'T': {"#####", "..#..", "..#..", "..#..", "..#..", "..#..", "..#.."},
	'U': {"#...#", "#...#", "#...#", "#...#", "#...#", "#...#", ".###."},
	'V': {"#...#", "#...#", "#...#", "#...#", "#...#", ".#.#.", "..#.."},
	'W': {"#...#", "#...#", "#...#", "#.#.#", "#.#.#", "#.#.#", ".#.#."},
	'X': {"#...#", "#...#", ".#.#.", "..#..", ".#.#.", "#...#", "#...#"},
	'Y': {"#...#", "#...#", ".#.#.", "..#..", "..#..", "..#..", "..#.."},
	'Z': {"#####", "....#", "...#.", "..#..", ".#...", "#....", "#####"},
	'<': {"...#.", "..#..", ".#...", "#....", ".#...", "..#..", "...#."},
}

// Has reports whether r has a bitmap.
func Has(r rune) bool {
	_, ok := bitmaps[r]
	return ok
}

// Ink reports whether font pixel (x, y) of r is set.
func Ink(r rune, x, y int) bool {
	rows, ok := bitmaps[r]
	if !ok || x < 0 || y < 0 || x >= Width || y >= Height {
		return false
	}
	return rows[y][x] == '#'
}

// Bounds returns the tight ink box of r in font pixels.
func Bounds(r rune) image.Rectangle {
	box := image.Rectangle{}
	for y := 0; y < Height; y++ {
		for x := 0; x < Width; x++ {
			if Ink(r, x, y) {
				box = box.Union(image.Rect(x, y, x+1, y+1))
			}
		}
	}
	return box
}

// Measure returns the pixel size of text rendered at scale.
func Measure(text string, scale int) (int, int) {
	n := len([]rune(text))
	if n == 0 {
		return 0, 0
	}
	return (n*Advance - 1) * scale, Height * scale
}

// Draw renders text with its top-left cell corner at (x, y). Runes without a
// bitmap, spaces included, advance without ink.
func Draw(dst *image.Gray, text string, x, y, scale int, ink color.Gray) {
	for i, r := range []rune(text) {
		ox := x + i*Advance*scale
		for fy := 0; fy < Height; fy++ {
			for fx := 0; fx < Width; fx++ {
				if !Ink(r, fx, fy) {
					continue
				}
				for sy := 0; sy < scale; sy++ {
					for sx := 0; sx < scale; sx++ {
						dst.SetGray(ox+fx*scale+sx, y+fy*scale+sy, ink)
					}
				}
			}
		}
	}
}
