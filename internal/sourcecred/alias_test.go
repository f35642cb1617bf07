package sourcecred

import (
	"io"
	"log/slog"
	"testing"

	"github.com/metagame/sourcecred-sync/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func address(parts ...string) string {
	out := ""
	for _, p := range parts {
		out += p + "\x00"
	}
	return out
}

func TestParseAlias(t *testing.T) {
	logger := testLogger()

	tests := []struct {
		name    string
		address string
		want    *domain.Alias
	}{
		{
			name:    "discord member",
			address: address("sourcecred", "discord", "MEMBER", "426262734957297664"),
			want:    &domain.Alias{Type: domain.AccountTypeDiscord, Identifier: "426262734957297664"},
		},
		{
			name:    "ethereum",
			address: address("sourcecred", "ethereum", "0xAbC123"),
			want:    &domain.Alias{Type: domain.AccountTypeEthereum, Identifier: "0xAbC123"},
		},
		{
			name:    "github lowercased tag",
			address: address("sourcecred", "github", "USERNAME", "octocat"),
			want:    &domain.Alias{Type: domain.AccountTypeGithub, Identifier: "octocat"},
		},
		{
			name:    "discourse",
			address: address("sourcecred", "discourse", "user", "https://forum.example", "alice"),
			want:    &domain.Alias{Type: domain.AccountTypeDiscourse, Identifier: "alice"},
		},
		{
			name:    "unrecognized platform",
			address: address("sourcecred", "initiatives", "INITIATIVE", "some-file"),
			want:    nil,
		},
		{
			name:    "sourcecred internal identity node",
			address: address("sourcecred", "core", "IDENTITY", "abc123"),
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAlias(logger, domain.SnapshotAlias{Address: tt.address})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAliasMalformed(t *testing.T) {
	logger := testLogger()

	malformed := []string{
		"",
		"sourcecred",
		"no separators at all",
		"sourcecred\x00",
		"trailing separator missing\x00really",
	}

	for _, raw := range malformed {
		assert.NotPanics(t, func() {
			got := ParseAlias(logger, domain.SnapshotAlias{Address: raw})
			assert.Nil(t, got, "address %q should yield no alias", raw)
		})
	}
}

func TestAddressPartsMalformedError(t *testing.T) {
	_, err := AddressParts("sourcecred")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedAddress)
}

func TestParseAliasesDropsUnparseable(t *testing.T) {
	identity := domain.SnapshotIdentity{
		Name:    "alice",
		Subtype: domain.IdentitySubtypeUser,
		Aliases: []domain.SnapshotAlias{
			{Address: address("sourcecred", "discord", "MEMBER", "111")},
			{Address: "garbage"},
			{Address: address("sourcecred", "initiatives", "INITIATIVE", "x")},
			{Address: address("sourcecred", "ethereum", "0xDEAD")},
		},
	}

	aliases := ParseAliases(testLogger(), identity)
	require.Len(t, aliases, 2)
	assert.Equal(t, domain.AccountTypeDiscord, aliases[0].Type)
	assert.Equal(t, domain.AccountTypeEthereum, aliases[1].Type)
}
