package protocol

import (
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Message charsets carried in format 1 message blocks
const (
	CharsetASCII   uint16 = 0x0000
	CharsetUCS2BE  uint16 = 0x0002
	CharsetLatin1  uint16 = 0x0003
	CharsetUnknown uint16 = 0xffff
)

func charsetEncoding(charset uint16) encoding.Encoding {
	switch charset {
	case CharsetUCS2BE:
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case CharsetLatin1:
		return charmap.ISO8859_1
	}
	return nil
}

// EncodeText converts a UTF-8 string into the charset's wire bytes
func EncodeText(charset uint16, s string) ([]byte, error) {
	enc := charsetEncoding(charset)
	if enc == nil {
		return []byte(s), nil
	}
	return enc.NewEncoder().Bytes([]byte(s))
}

// DecodeText converts wire bytes of the charset into UTF-8
func DecodeText(charset uint16, p []byte) (string, error) {
	enc := charsetEncoding(charset)
	if enc == nil {
		return string(p), nil
	}
	out, err := enc.NewDecoder().Bytes(p)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
