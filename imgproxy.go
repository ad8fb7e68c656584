package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

type Imgproxy struct {
	base   string
	format string
	width  int

	key  []byte
	salt []byte
}

func NewImgproxy(cfg PicConfigImgproxy) (*Imgproxy, error) {
	proxy := &Imgproxy{
		base:   strings.TrimSuffix(cfg.URL, "/"),
		format: cfg.Format,
		width:  cfg.Width,
	}

	if cfg.Key == "" {
		return proxy, nil
	}

	key, err := hex.DecodeString(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("imgproxy key: %w", err)
	}

	salt, err := hex.DecodeString(cfg.Salt)
	if err != nil {
		return nil, fmt.Errorf("imgproxy salt: %w", err)
	}

	proxy.key = key
	proxy.salt = salt

	return proxy, nil
}

// URL returns a resize url for imageURL. A height of 0 keeps the aspect ratio.
func (p *Imgproxy) URL(imageURL string, width int) string {
	if width <= 0 {
		width = p.width
	}

	path := fmt.Sprintf("/resize:fit:%d:0/plain/%s@%s", width, encodeURIComponent(imageURL), p.format)

	return p.base + "/" + p.sign(path) + path
}

func (p *Imgproxy) Thumbnail(imageURL string) string {
	return p.URL(imageURL, p.width)
}

func (p *Imgproxy) sign(path string) string {
	if len(p.key) == 0 {
		return "insecure"
	}

	mac := hmac.New(sha256.New, p.key)

	mac.Write(p.salt)
	mac.Write([]byte(path))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// encodeURIComponent escapes everything except A-Z a-z 0-9 - _ . ! ~ * ' ( )
func encodeURIComponent(s string) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder

	b.Grow(len(s) * 3)

	for i := 0; i < len(s); i++ {
		c := s[i]

		if isURIUnreserved(c) {
			b.WriteByte(c)

			continue
		}

		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}

	return b.String()
}

func isURIUnreserved(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}

	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}

	return false
}
