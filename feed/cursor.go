package feed

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
)

var ErrMalformedCursor = errors.New("malformed feed cursor")

// EncodeCursor packs a snapshot id and the offset of the next page.
func EncodeCursor(snapshotID string, offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(snapshotID + ":" + strconv.Itoa(offset)))
}

func DecodeCursor(cursor string) (string, int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", 0, ErrMalformedCursor
	}
	id, off, ok := strings.Cut(string(raw), ":")
	if !ok || id == "" {
		return "", 0, ErrMalformedCursor
	}
	offset, err := strconv.Atoi(off)
	if err != nil || offset < 0 {
		return "", 0, ErrMalformedCursor
	}
	return id, offset, nil
}
