// Package drugdb resolves scanned codes and typed names to drug entries.
package drugdb

import "strings"

// NDC is a National Drug Code split into its three segments
type NDC struct {
	Labeler string
	Product string
	Package string
}

// String returns the hyphenated form
func (n NDC) String() string {
	return n.Labeler + "-" + n.Product + "-" + n.Package
}

// Eleven returns the zero-padded 5-4-2 billing form without hyphens
func (n NDC) Eleven() string {
	return pad(n.Labeler, 5) + pad(n.Product, 4) + pad(n.Package, 2)
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// ProductNDC returns the labeler-product segment pair
func (n NDC) ProductNDC() string {
	return n.Labeler + "-" + n.Product
}

// Digits strips everything but digits and unwraps UPC-A and EAN-13 barcodes
// that carry a 10-digit NDC (number system 3).
func Digits(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	d := b.String()
	if len(d) == 13 && d[0] == '0' {
		d = d[1:]
	}
	if len(d) == 12 && d[0] == '3' {
		d = d[1:11]
	}
	return d
}

// Candidates lists every NDC the code may denote. A hyphenated code is
// taken as written; ten bare digits are ambiguous between the 4-4-2, 5-3-2
// and 5-4-1 layouts.
func Candidates(code string) []NDC {
	trimmed := strings.TrimFunc(code, func(r rune) bool {
		return (r < '0' || r > '9') && r != '-'
	})
	if parts := strings.Split(trimmed, "-"); len(parts) == 3 {
		n := NDC{Labeler: parts[0], Product: parts[1], Package: parts[2]}
		if validSegments(n) {
			return []NDC{n}
		}
	}

	d := Digits(code)
	switch len(d) {
	case 10:
		return []NDC{
			{Labeler: d[:4], Product: d[4:8], Package: d[8:]},
			{Labeler: d[:5], Product: d[5:8], Package: d[8:]},
			{Labeler: d[:5], Product: d[5:9], Package: d[9:]},
		}
	case 11:
		n := NDC{Labeler: d[:5], Product: d[5:9], Package: d[9:]}
		out := []NDC{n}
		// The 10-digit form printed on the package drops one padding zero.
		switch {
		case n.Labeler[0] == '0':
			out = append(out, NDC{Labeler: n.Labeler[1:], Product: n.Product, Package: n.Package})
		case n.Product[0] == '0':
			out = append(out, NDC{Labeler: n.Labeler, Product: n.Product[1:], Package: n.Package})
		case n.Package[0] == '0':
			out = append(out, NDC{Labeler: n.Labeler, Product: n.Product, Package: n.Package[1:]})
		}
		return out
	}
	return nil
}

func validSegments(n NDC) bool {
	for _, r := range n.Labeler + n.Product + n.Package {
		if r < '0' || r > '9' {
			return false
		}
	}
	l, p, k := len(n.Labeler), len(n.Product), len(n.Package)
	switch {
	case l == 4 && p == 4 && k == 2,
		l == 5 && p == 3 && k == 2,
		l == 5 && p == 4 && k == 1,
		l == 5 && p == 4 && k == 2:
		return true
	}
	return false
}
