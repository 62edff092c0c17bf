// Package entity defines the closed set of PII entity types and the span
// value type produced by every detection backend.
//
// Spans are plain values: they carry rune offsets into the text they were
// detected in and stay valid after the session that produced them is gone.
package entity

import "strings"

// Type classifies the kind of sensitive data found.
type Type string

// Supported entity types. The string forms double as the <TYPE> segment of
// placeholder tokens, so they must stay stable across releases.
const (
	Unknown          Type = "UNKNOWN"
	Address          Type = "PHYSICAL_ADDRESS"
	Email            Type = "EMAIL_ADDRESS"
	Organization     Type = "ORGANIZATION"
	UserName         Type = "USER_NAME"
	Phone            Type = "PHONE_NUMBER"
	BankNumber       Type = "BANK_NUMBER"
	Payment          Type = "PAYMENT"
	VerificationCode Type = "VERIFICATION_CODE"
	Password         Type = "PASSWORD"
	RandomSeed       Type = "RANDOM_SEED"
	PrivateKey       Type = "PRIVATE_KEY"
	URL              Type = "URL_ADDRESS"
)

// All lists every concrete entity type (Unknown excluded), in wire-code order.
var All = []Type{
	Address, Email, Organization, UserName, Phone, BankNumber,
	Payment, VerificationCode, Password, RandomSeed, PrivateKey, URL,
}

// Code returns the numeric wire code for t. Unknown types map to 0.
func (t Type) Code() int {
	switch t {
	case Address:
		return 1
	case Email:
		return 2
	case Organization:
		return 3
	case UserName:
		return 4
	case Phone:
		return 5
	case BankNumber:
		return 6
	case Payment:
		return 7
	case VerificationCode:
		return 8
	case Password:
		return 9
	case RandomSeed:
		return 10
	case PrivateKey:
		return 11
	case URL:
		return 12
	}
	return 0
}

// Parse maps a detector-reported label to a Type. NER models and external
// recognizers use a variety of aliases (PER, LOC, ORG, GPE...); anything
// unrecognized comes back as Unknown.
func Parse(label string) Type {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "PER", "PERSON", "USER_NAME":
		return UserName
	case "ORG", "ORGANIZATION":
		return Organization
	case "LOC", "GPE", "FAC", "ADDRESS", "PHYSICAL_ADDRESS":
		return Address
	case "EMAIL", "EMAIL_ADDRESS":
		return Email
	case "PHONE", "PHONE_NUMBER":
		return Phone
	case "BANK_NUMBER":
		return BankNumber
	case "PAYMENT":
		return Payment
	case "VERIFY_CODE", "VERIFICATION_CODE":
		return VerificationCode
	case "PASSWORD":
		return Password
	case "RANDOM_SEED":
		return RandomSeed
	case "PRIVATE_KEY":
		return PrivateKey
	case "URL", "URL_ADDRESS":
		return URL
	}
	return Unknown
}

// Span is one detected PII range. Start and End are half-open rune offsets
// into the original input text: 0 <= Start < End <= rune length.
type Span struct {
	Type  Type    `json:"entityType"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Score float32 `json:"score"`
	Text  string  `json:"text"`
}

// Len returns the span length in runes.
func (s Span) Len() int { return s.End - s.Start }

// Overlaps reports whether s and o share at least one rune.
func (s Span) Overlaps(o Span) bool {
	return !(s.End <= o.Start || o.End <= s.Start)
}
