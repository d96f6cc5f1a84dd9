package mapping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformValidate(t *testing.T) {
	valid := []Transform{
		{Kind: KindLower},
		{Kind: KindUpper},
		{Kind: KindTrim},
		{Kind: KindEnum, Values: map[string]string{"A": "a"}},
		{Kind: KindCast, To: CastInteger},
		{Kind: KindCast, To: CastTimestamp},
		{Kind: KindNullIf, NullIf: "n/a"},
	}
	for _, tr := range valid {
		assert.NoError(t, tr.Validate(), "kind %s", tr.Kind)
	}

	invalid := []Transform{
		{Kind: "reverse"},
		{Kind: KindEnum},
		{Kind: KindCast, To: "decimal"},
		{Kind: KindNullIf},
	}
	for _, tr := range invalid {
		assert.Error(t, tr.Validate(), "kind %s", tr.Kind)
	}
}

func TestTransformNullPassthrough(t *testing.T) {
	for _, tr := range []Transform{
		{Kind: KindLower},
		{Kind: KindEnum, Values: map[string]string{"A": "a"}, Strict: true},
		{Kind: KindCast, To: CastInteger},
	} {
		got, err := tr.Apply(nil)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
}

func TestTransformText(t *testing.T) {
	lower := Transform{Kind: KindLower}
	got, err := lower.Apply("ADMIN")
	require.NoError(t, err)
	assert.Equal(t, "admin", got)

	// Drivers that scan text as []byte get the same treatment.
	got, err = lower.Apply([]byte("MiXeD"))
	require.NoError(t, err)
	assert.Equal(t, "mixed", got)

	_, err = lower.Apply(int64(7))
	assert.Error(t, err)

	trim := Transform{Kind: KindTrim}
	got, err = trim.Apply("  padded  ")
	require.NoError(t, err)
	assert.Equal(t, "padded", got)
}

func TestTransformEnum(t *testing.T) {
	tr := Transform{Kind: KindEnum, Values: map[string]string{
		"ADMINISTRATOR": "admin",
		"REGULAR":       "member",
	}}

	got, err := tr.Apply("ADMINISTRATOR")
	require.NoError(t, err)
	assert.Equal(t, "admin", got)

	// Unknown literals pass through unless strict.
	got, err = tr.Apply("GUEST")
	require.NoError(t, err)
	assert.Equal(t, "GUEST", got)

	tr.Strict = true
	_, err = tr.Apply("GUEST")
	assert.Error(t, err)
}

func TestTransformCast(t *testing.T) {
	toInt := Transform{Kind: KindCast, To: CastInteger}
	got, err := toInt.Apply("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	got, err = toInt.Apply(float64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), got)

	_, err = toInt.Apply(7.5)
	assert.Error(t, err, "fractional values must not be silently truncated")

	_, err = toInt.Apply("seven")
	assert.Error(t, err)

	toText := Transform{Kind: KindCast, To: CastText}
	got, err = toText.Apply(int64(99))
	require.NoError(t, err)
	assert.Equal(t, "99", got)

	toBool := Transform{Kind: KindCast, To: CastBoolean}
	got, err = toBool.Apply("yes")
	require.NoError(t, err)
	assert.Equal(t, true, got)
	got, err = toBool.Apply(int64(0))
	require.NoError(t, err)
	assert.Equal(t, false, got)
	_, err = toBool.Apply(int64(3))
	assert.Error(t, err)
}

func TestTransformCastTimestamp(t *testing.T) {
	tr := Transform{Kind: KindCast, To: CastTimestamp}

	got, err := tr.Apply(int64(1700000000))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), got)

	got, err = tr.Apply("2024-03-01 12:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), got)

	got, err = tr.Apply("2024-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = tr.Apply("March 1st")
	assert.Error(t, err)
}

func TestTransformNullIf(t *testing.T) {
	tr := Transform{Kind: KindNullIf, NullIf: "n/a"}

	got, err := tr.Apply("n/a")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = tr.Apply("real value")
	require.NoError(t, err)
	assert.Equal(t, "real value", got)

	numeric := Transform{Kind: KindNullIf, NullIf: "0"}
	got, err = numeric.Apply(int64(0))
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = numeric.Apply(int64(3))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}
