package utils

import "strconv"

const hexDigits = "0123456789ABCDEF"

// BytesToHex renders b as upper-case hex with no separators.
func BytesToHex(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, x := range b {
		out = append(out, hexDigits[x>>4], hexDigits[x&0x0F])
	}
	return string(out)
}

// HexPreview is BytesToHex limited to the first max bytes, with the number
// of omitted bytes appended. Used when logging datagrams of unknown size.
func HexPreview(b []byte, max int) string {
	if max < 0 || len(b) <= max {
		return BytesToHex(b)
	}
	return BytesToHex(b[:max]) + "..(+" + strconv.Itoa(len(b)-max) + "B)"
}
