package domain

import "strings"

// AccountType identifies the external platform an alias belongs to
type AccountType string

const (
	AccountTypeEthereum  AccountType = "ETHEREUM"
	AccountTypeDiscord   AccountType = "DISCORD"
	AccountTypeDiscourse AccountType = "DISCOURSE"
	AccountTypeGithub    AccountType = "GITHUB"
	AccountTypeTwitter   AccountType = "TWITTER"
)

// ParseAccountType maps a raw platform tag to an AccountType.
// The tag is case-insensitive; unrecognized tags return false.
func ParseAccountType(tag string) (AccountType, bool) {
	switch AccountType(strings.ToUpper(tag)) {
	case AccountTypeEthereum:
		return AccountTypeEthereum, true
	case AccountTypeDiscord:
		return AccountTypeDiscord, true
	case AccountTypeDiscourse:
		return AccountTypeDiscourse, true
	case AccountTypeGithub:
		return AccountTypeGithub, true
	case AccountTypeTwitter:
		return AccountTypeTwitter, true
	default:
		return "", false
	}
}

// Alias is a typed (platform, identifier) pair decoded from a
// SourceCred node address
type Alias struct {
	Type       AccountType `json:"type"`
	Identifier string      `json:"identifier"`
}

// SnapshotAlias is one raw identity claim as it appears in the
// SourceCred accounts export
type SnapshotAlias struct {
	Address     string `json:"address"`
	Description string `json:"description,omitempty"`
}

// SnapshotIdentity is the identity block of a snapshot account entry
type SnapshotIdentity struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Subtype string          `json:"subtype"`
	Aliases []SnapshotAlias `json:"aliases"`
}

// IdentitySubtypeUser marks human identities; other subtypes (BOT,
// PROJECT, ORGANIZATION) are excluded from reconciliation
const IdentitySubtypeUser = "USER"

// SnapshotAccount is one entry of the SourceCred accounts export:
// an identity plus its cumulative and per-week cred
type SnapshotAccount struct {
	Account struct {
		Identity SnapshotIdentity `json:"identity"`
	} `json:"account"`
	TotalCred float64   `json:"totalCred"`
	Cred      []float64 `json:"cred"`
}

// AccountsSnapshot is the top-level shape of the accounts export
type AccountsSnapshot struct {
	Accounts []SnapshotAccount `json:"accounts"`
}
