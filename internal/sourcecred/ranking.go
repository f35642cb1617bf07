package sourcecred

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/metagame/sourcecred-sync/internal/domain"
)

// RankFunc maps a 0-based position in the cred-sorted account list to a
// stored rank. It must be a pure function of the index.
type RankFunc func(index int) int

// ZeroBasedRank is the default rank function: the position itself
func ZeroBasedRank(index int) int { return index }

// BuildPlayerRecords derives the reconciliation batch from a decoded
// accounts snapshot:
//
//  1. Keep USER identities only.
//  2. Sort by descending totalCred; ties keep input order.
//  3. Rank each entry by its sorted position.
//  4. Seasonal XP is the sum of the trailing seasonWeeks weekly cred
//     values; shorter histories are summed whole.
//  5. Key each record by the identity's most recently associated
//     Ethereum alias, lowercased. Identities without one are dropped.
//
// The returned slice is in rank order.
func BuildPlayerRecords(logger *slog.Logger, accounts []domain.SnapshotAccount, seasonWeeks int, rankOf RankFunc) []domain.PlayerRecord {
	if rankOf == nil {
		rankOf = ZeroBasedRank
	}

	users := make([]domain.SnapshotAccount, 0, len(accounts))
	for _, a := range accounts {
		if a.Account.Identity.Subtype == domain.IdentitySubtypeUser {
			users = append(users, a)
		}
	}

	sort.SliceStable(users, func(i, j int) bool {
		return users[i].TotalCred > users[j].TotalCred
	})

	records := make([]domain.PlayerRecord, 0, len(users))
	for index, a := range users {
		identity := a.Account.Identity
		aliases := ParseAliases(logger, identity)

		ethAddress := latestEthAddress(aliases)
		if ethAddress == "" {
			logger.Debug("skipping identity without an ethereum alias",
				"identity", identity.Name,
			)
			continue
		}

		record := domain.PlayerRecord{
			EthereumAddress: ethAddress,
			TotalXP:         a.TotalCred,
			SeasonXP:        seasonXP(a.Cred, seasonWeeks),
			Rank:            rankOf(index),
			DiscordID:       firstDiscordID(aliases),
			Accounts:        nonDiscordAccounts(aliases),
		}
		records = append(records, record)
	}

	return records
}

// seasonXP sums the trailing window of the weekly cred series
func seasonXP(cred []float64, weeks int) float64 {
	start := len(cred) - weeks
	if start < 0 {
		start = 0
	}
	var total float64
	for _, c := range cred[start:] {
		total += c
	}
	return total
}

// latestEthAddress returns the most recently added Ethereum alias,
// lowercased; aliases are stored in order of association
func latestEthAddress(aliases []domain.Alias) string {
	address := ""
	for _, alias := range aliases {
		if alias.Type == domain.AccountTypeEthereum {
			address = alias.Identifier
		}
	}
	return strings.ToLower(address)
}

// firstDiscordID returns the identifier of the first Discord alias
func firstDiscordID(aliases []domain.Alias) string {
	for _, alias := range aliases {
		if alias.Type == domain.AccountTypeDiscord {
			return alias.Identifier
		}
	}
	return ""
}

// nonDiscordAccounts filters out Discord aliases; the Discord link is
// written directly on the player row, never as an account row
func nonDiscordAccounts(aliases []domain.Alias) []domain.Alias {
	accounts := make([]domain.Alias, 0, len(aliases))
	for _, alias := range aliases {
		if alias.Type != domain.AccountTypeDiscord {
			accounts = append(accounts, alias)
		}
	}
	return accounts
}
