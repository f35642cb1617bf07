package sourcecred

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/metagame/sourcecred-sync/internal/domain"
)

// Node addresses are NUL-separated segment paths with a trailing
// separator, e.g. "sourcecred\x00discord\x00MEMBER\x00<id>\x00". The
// platform tag sits at segment 1 and the identifier is the last segment.
const addressSeparator = "\x00"

// AddressParts decodes a raw node address into its ordered segments
func AddressParts(address string) ([]string, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty address", domain.ErrMalformedAddress)
	}
	if !strings.HasSuffix(address, addressSeparator) {
		return nil, fmt.Errorf("%w: missing trailing separator", domain.ErrMalformedAddress)
	}

	parts := strings.Split(strings.TrimSuffix(address, addressSeparator), addressSeparator)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: expected at least 2 segments, got %d", domain.ErrMalformedAddress, len(parts))
	}
	return parts, nil
}

// ParseAlias decodes one snapshot alias into a typed (platform,
// identifier) pair. Aliases on unrecognized platforms and aliases whose
// address cannot be decoded yield nil; neither case is an error for the
// caller. Decode failures are logged with the raw alias for offline
// investigation.
func ParseAlias(logger *slog.Logger, alias domain.SnapshotAlias) *domain.Alias {
	parts, err := AddressParts(alias.Address)
	if err != nil {
		logger.Error("unable to parse alias",
			"address", alias.Address,
			"description", alias.Description,
			"error", err,
		)
		return nil
	}

	accountType, ok := domain.ParseAccountType(parts[1])
	if !ok {
		return nil
	}

	return &domain.Alias{
		Type:       accountType,
		Identifier: parts[len(parts)-1],
	}
}

// ParseAliases decodes all aliases of an identity, dropping the
// unparseable ones and preserving input order
func ParseAliases(logger *slog.Logger, identity domain.SnapshotIdentity) []domain.Alias {
	aliases := make([]domain.Alias, 0, len(identity.Aliases))
	for _, raw := range identity.Aliases {
		if parsed := ParseAlias(logger, raw); parsed != nil {
			aliases = append(aliases, *parsed)
		}
	}
	return aliases
}
