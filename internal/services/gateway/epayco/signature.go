package epayco

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"strings"
)

// Signature is sha256(cust_id^p_key^x_ref_payco^x_transaction_id^x_amount^x_currency_code) in hex.
func Signature(customerID, pKey, refPayco, transactionID, amount, currency string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		customerID, pKey, refPayco, transactionID, amount, currency,
	}, "^")))
	return hex.EncodeToString(sum[:])
}

func VerifySignature(customerID, pKey string, fields url.Values) bool {
	got := strings.ToLower(fields.Get("x_signature"))
	if got == "" {
		return false
	}
	want := Signature(
		customerID,
		pKey,
		fields.Get("x_ref_payco"),
		fields.Get("x_transaction_id"),
		fields.Get("x_amount"),
		fields.Get("x_currency_code"),
	)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
