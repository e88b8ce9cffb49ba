package token

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/guild-gatekeeper/internal/domain"
)

func testCodec(t *testing.T, seed byte) *Codec {
	t.Helper()
	c, err := NewCodec(bytes.Repeat([]byte{seed}, 32))
	require.NoError(t, err)
	return c
}

func TestMintDeterministic(t *testing.T) {
	c := testCodec(t, 1)
	at := time.Unix(1700000000, 123456789)

	a1, err := c.Mint(domain.ActionApprove, 42, at)
	require.NoError(t, err)
	a2, err := c.Mint(domain.ActionApprove, 42, at)
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.True(t, strings.HasPrefix(a1, "gk:approve:42:"))
	assert.LessOrEqual(t, len(a1), MaxLen)
}

func TestMintPairDistinct(t *testing.T) {
	c := testCodec(t, 2)
	approve, deny, err := c.MintPair(42, time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, approve, deny)

	pa, err := c.Verify(approve)
	require.NoError(t, err)
	pd, err := c.Verify(deny)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionApprove, pa.Action)
	assert.Equal(t, domain.ActionDeny, pd.Action)
	assert.Equal(t, pa.IssuedAt, pd.IssuedAt)
}

func TestDifferentKeysDifferentTokens(t *testing.T) {
	at := time.Unix(1700000000, 0)
	a, err := testCodec(t, 1).Mint(domain.ActionDeny, 7, at)
	require.NoError(t, err)
	b, err := testCodec(t, 9).Mint(domain.ActionDeny, 7, at)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	_, err = testCodec(t, 9).Verify(a)
	assert.ErrorIs(t, err, ErrBadMAC)
}

func TestParseRoundTrip(t *testing.T) {
	c := testCodec(t, 3)
	at := time.Unix(1712345678, 42).UTC()
	tok, err := c.Mint(domain.ActionDeny, 1423344924262273157, at)
	require.NoError(t, err)

	parts, err := Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, Parts{Action: domain.ActionDeny, SubjectID: 1423344924262273157, IssuedAt: at}, parts)
}

func TestParseRejectsForeignIDs(t *testing.T) {
	for _, id := range []string{
		"",
		"approve:42:1700000000",
		"gk:approve:42",
		"gk:kick:42:abc:00",
		"gk:approve:x:abc:00",
		"gk:approve:42:???:00",
	} {
		_, err := Parse(id)
		assert.Error(t, err, id)
	}
	assert.False(t, Owns("approve:42:1700000000"))
	assert.True(t, Owns("gk:approve:42:abc:00"))
}

func TestMintRejectsUnknownAction(t *testing.T) {
	_, err := testCodec(t, 4).Mint(domain.Action("kick"), 1, time.Now())
	assert.ErrorIs(t, err, ErrBadAction)
}

func TestNewCodecFromHex(t *testing.T) {
	c, err := NewCodecFromHex("")
	require.NoError(t, err)
	assert.Len(t, c.key, keySize)

	_, err = NewCodecFromHex("zz")
	assert.Error(t, err)

	_, err = NewCodecFromHex("00ff")
	assert.ErrorIs(t, err, ErrKeyInvalid)
}
