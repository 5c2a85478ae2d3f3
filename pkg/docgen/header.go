package docgen

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	headerPrefix = "<!-- docgen:source-hash="
	headerSuffix = " -->"
)

// HashContent is the source hash recorded in generated documents.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// RenderDocument prefixes body with the source-hash header.
func RenderDocument(sourceHash string, body []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(headerPrefix) + len(sourceHash) + len(headerSuffix) + 1 + len(body))
	buf.WriteString(headerPrefix)
	buf.WriteString(sourceHash)
	buf.WriteString(headerSuffix)
	buf.WriteByte('\n')
	buf.Write(body)
	return buf.Bytes()
}

// ParseHeader reads the source hash from the first line of doc.
func ParseHeader(doc []byte) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(doc))
	sc.Buffer(make([]byte, 0, 256), 4096)
	if !sc.Scan() {
		return "", false
	}

	line := strings.TrimSpace(sc.Text())
	if !strings.HasPrefix(line, headerPrefix) || !strings.HasSuffix(line, headerSuffix) {
		return "", false
	}

	hash := strings.TrimSuffix(strings.TrimPrefix(line, headerPrefix), headerSuffix)
	if hash == "" {
		return "", false
	}
	return hash, true
}
