package fsutil

import "strconv"

const (
	kib uint64 = 1 << (10 * (iota + 1))
	mib
	gib
	tib
	pib
	eib
)

var sizeUnits = []struct {
	name string
	bin  uint64
}{
	{"EiB", eib},
	{"PiB", pib},
	{"TiB", tib},
	{"GiB", gib},
	{"MiB", mib},
	{"KiB", kib},
}

// PrintSize formats a byte count with binary units, the way df -h does:
// three significant digits at most, fractions truncated.
//
//	PrintSize(0)        == "0"
//	PrintSize(1000)     == "0.97KiB"
//	PrintSize(1536)     == "1.50KiB"
//	PrintSize(15 << 20) == "15.0MiB"
//	PrintSize(1 << 30)  == "1.00GiB"
func PrintSize(size uint64) string {
	for _, u := range sizeUnits {
		whole := size / u.bin
		frac := size - whole*u.bin

		switch {
		case size/100 >= u.bin:
			return strconv.FormatUint(whole, 10) + u.name
		case size/10 >= u.bin:
			return strconv.FormatUint(whole, 10) + "." + strconv.FormatUint(mulDiv(frac, 10, u.bin), 10) + u.name
		case size >= 1000*(u.bin/kib):
			return strconv.FormatUint(whole, 10) + "." + pad2(mulDiv(frac, 100, u.bin)) + u.name
		}
	}

	return strconv.FormatUint(size, 10)
}

// mulDiv returns frac*m/bin without overflowing for frac < bin.
func mulDiv(frac, m, bin uint64) uint64 {
	if frac <= ^uint64(0)/m {
		return frac * m / bin
	}
	return frac / (bin / m)
}

func pad2(v uint64) string {
	if v < 10 {
		return "0" + strconv.FormatUint(v, 10)
	}
	return strconv.FormatUint(v, 10)
}
