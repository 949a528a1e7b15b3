package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/tools/security"
)

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ReferenceCode builds a payment reference: prefix, unix millis, then nine
// random uppercase alphanumerics.
func ReferenceCode(prefix string, now time.Time) string {
	return prefix + strconv.FormatInt(now.UnixMilli(), 10) + security.RandomStringWithAlphabet(9, referenceAlphabet)
}

func GenerateCode(n int) (string, error) {
	byt := make([]byte, n)
	if _, err := rand.Read(byt); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(byt)), nil
}
