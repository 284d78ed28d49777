package xid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

func New(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%d-%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}

// vinAlphabet excludes I, O and Q per the usual VIN convention.
const vinAlphabet = "ABCDEFGHJKLMNPRSTUVWXYZ0123456789"

// NewVIN returns a random 17-character identifier for cars taken in
// without a known VIN.
func NewVIN() string {
	buf := make([]byte, 17)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("GEN%014d", time.Now().UnixNano()%1e14)
	}
	for i, b := range buf {
		buf[i] = vinAlphabet[int(b)%len(vinAlphabet)]
	}
	return string(buf)
}
