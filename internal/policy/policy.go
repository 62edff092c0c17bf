// Package policy decides, per entity type, whether a resolved span is
// eligible for masking.
//
// A policy is an immutable value: the session swaps in a whole new Policy on
// configuration changes, so readers never observe a partially-applied
// update.
package policy

import "pii-firewall/internal/entity"

// Flag names accepted in a mask configuration. They mirror the maskConfig
// schema used by the CLI and HTTP API.
const (
	FlagAddress          = "maskAddress"
	FlagEmail            = "maskEmail"
	FlagOrganization     = "maskOrganization"
	FlagUserName         = "maskUserName"
	FlagPhoneNumber      = "maskPhoneNumber"
	FlagBankNumber       = "maskBankNumber"
	FlagPayment          = "maskPayment"
	FlagVerificationCode = "maskVerificationCode"
	FlagPassword         = "maskPassword"
	FlagRandomSeed       = "maskRandomSeed"
	FlagPrivateKey       = "maskPrivateKey"
	FlagURL              = "maskUrl"
	FlagAll              = "maskAll"
)

// defaults is the documented baseline: everything masked except physical
// addresses, which produce too many false positives to mask by default.
var defaults = map[string]bool{
	FlagAddress:          false,
	FlagEmail:            true,
	FlagOrganization:     true,
	FlagUserName:         true,
	FlagPhoneNumber:      true,
	FlagBankNumber:       true,
	FlagPayment:          true,
	FlagVerificationCode: true,
	FlagPassword:         true,
	FlagRandomSeed:       true,
	FlagPrivateKey:       true,
	FlagURL:              true,
}

// typeFlag maps an entity type to its policy flag name.
var typeFlag = map[entity.Type]string{
	entity.Address:          FlagAddress,
	entity.Email:            FlagEmail,
	entity.Organization:     FlagOrganization,
	entity.UserName:         FlagUserName,
	entity.Phone:            FlagPhoneNumber,
	entity.BankNumber:       FlagBankNumber,
	entity.Payment:          FlagPayment,
	entity.VerificationCode: FlagVerificationCode,
	entity.Password:         FlagPassword,
	entity.RandomSeed:       FlagRandomSeed,
	entity.PrivateKey:       FlagPrivateKey,
	entity.URL:              FlagURL,
}

// Policy is one immutable mask-eligibility snapshot.
type Policy struct {
	flags  map[string]bool
	all    bool
	allSet bool
}

// Default returns the baseline policy with no overrides.
func Default() *Policy { return New(nil) }

// New builds a policy from the given flag overrides. Flags are applied on
// top of the documented defaults, never on top of a previous policy.
// Unknown flag names are ignored; Known reports which names are valid so
// callers can log what they dropped.
func New(flags map[string]bool) *Policy {
	p := &Policy{flags: make(map[string]bool, len(flags))}
	for name, v := range flags {
		if name == FlagAll {
			p.all = v
			p.allSet = true
			continue
		}
		if _, ok := defaults[name]; ok {
			p.flags[name] = v
		}
	}
	return p
}

// Known reports whether name is a recognized policy flag.
func Known(name string) bool {
	if name == FlagAll {
		return true
	}
	_, ok := defaults[name]
	return ok
}

// Enabled reports whether spans of type t should be masked.
//
// A maskAll override, true or false, wins over every individual flag.
// Otherwise the type's flag is looked up in the overrides, then in the
// defaults. Entity types with no mapped flag are masked: leaking an unknown
// kind of PII is worse than over-masking it.
func (p *Policy) Enabled(t entity.Type) bool {
	if p.allSet {
		return p.all
	}
	name, ok := typeFlag[t]
	if !ok {
		return true
	}
	if v, ok := p.flags[name]; ok {
		return v
	}
	return defaults[name]
}
