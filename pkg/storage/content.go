package storage

import (
	"bytes"
	"strings"
)

var pdfMagic = []byte("%PDF")

// LooksLikeDocument reports whether a response carries the expected binary
// document rather than an HTML page: a PDF or generic binary content type,
// or a body that starts with the PDF signature.
func LooksLikeDocument(contentType string, body []byte) bool {
	if bytes.HasPrefix(body, pdfMagic) {
		return true
	}
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "html") {
		return false
	}
	return strings.Contains(ct, "pdf") || strings.Contains(ct, "octet-stream")
}

// IsHTML reports whether a response is an HTML page.
func IsHTML(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	head := bytes.ToLower(bytes.TrimSpace(body[:min(len(body), 512)]))
	return bytes.HasPrefix(head, []byte("<!doctype html")) || bytes.HasPrefix(head, []byte("<html"))
}
