package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolve_Precedence(t *testing.T) {
	td, err := Compile(TypeDef{
		Base: BucketDef{Size: ptr(int64(1))},
		Overrides: []OverrideDef{
			{Key: "literal-key", Def: BucketDef{Size: ptr(int64(2))}},
			{Match: "^vip-", Def: BucketDef{Size: ptr(int64(3))}},
		},
	}, DefaultGlobalTTL, time.Now())
	require.NoError(t, err)

	base := td.resolve("anyone", nil, DefaultGlobalTTL)
	require.Equal(t, int64(1), base.Size)

	regex := td.resolve("vip-alice", nil, DefaultGlobalTTL)
	require.Equal(t, int64(3), regex.Size)

	literal := td.resolve("literal-key", nil, DefaultGlobalTTL)
	require.Equal(t, int64(2), literal.Size)

	override := int64(99)
	configOverride := td.resolve("literal-key", &BucketDef{Size: &override}, DefaultGlobalTTL)
	require.Equal(t, int64(99), configOverride.Size, "configOverride always wins")
}

func TestResolve_RegexMatchIsCached(t *testing.T) {
	td, err := Compile(TypeDef{
		Base:      BucketDef{Size: ptr(int64(1))},
		Overrides: []OverrideDef{{Match: "^vip-", Def: BucketDef{Size: ptr(int64(3))}}},
	}, DefaultGlobalTTL, time.Now())
	require.NoError(t, err)

	first := td.resolve("vip-bob", nil, DefaultGlobalTTL)
	cached, ok := td.cache.Get("vip-bob")
	require.True(t, ok)
	require.Equal(t, first, cached)
}

func TestResolve_LiteralBeatsCachedRegex(t *testing.T) {
	td, err := Compile(TypeDef{
		Base: BucketDef{Size: ptr(int64(1))},
		Overrides: []OverrideDef{
			{Match: ".*", Def: BucketDef{Size: ptr(int64(3))}},
			{Key: "special", Def: BucketDef{Size: ptr(int64(7))}},
		},
	}, DefaultGlobalTTL, time.Now())
	require.NoError(t, err)

	// Put a regex-derived entry for "special" straight into the cache, then
	// confirm the literal override still wins.
	td.cache.Put("special", BucketDescriptor{Size: 3})

	desc := td.resolve("special", nil, DefaultGlobalTTL)
	require.Equal(t, int64(7), desc.Size)
}
