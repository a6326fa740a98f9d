package evalctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromMap_ExtractsReservedKeys(t *testing.T) {
	ctx := FromMap(map[string]any{
		"user_id":    "u-1",
		"group":      "beta",
		"role":       "admin",
		"ip_address": "10.0.0.1",
		"tags":       []any{"vip", "early-access"},
		"plan_tier":  "enterprise",
	})

	assert.Equal(t, "u-1", ctx.UserID)
	assert.Equal(t, "beta", ctx.Group)
	assert.Equal(t, "admin", ctx.Role)
	assert.Equal(t, "10.0.0.1", ctx.IPAddress)
	assert.Equal(t, []string{"vip", "early-access"}, ctx.Tags)
	assert.Equal(t, "enterprise", ctx.Custom["plan_tier"])
	_, reserved := ctx.Custom["user_id"]
	assert.False(t, reserved)
}

func TestFromMap_IDFallsBackForUserID(t *testing.T) {
	ctx := FromMap(map[string]any{"id": 42})
	assert.Equal(t, "42", ctx.UserID)
}

func TestFromScalar(t *testing.T) {
	ctx := FromScalar(7)
	assert.Equal(t, "7", ctx.UserID)
}

type fakeSubject struct {
	userID string
}

func (f fakeSubject) UserID() (string, bool)      { return f.userID, f.userID != "" }
func (f fakeSubject) Group() (string, bool)       { return "", false }
func (f fakeSubject) Role() (string, bool)        { return "", false }
func (f fakeSubject) IPAddress() (string, bool)   { return "", false }
func (f fakeSubject) Tags() ([]string, bool)      { return nil, false }

func TestFromSubject(t *testing.T) {
	ctx := FromSubject(fakeSubject{userID: "u-9"})
	assert.Equal(t, "u-9", ctx.UserID)
	assert.Empty(t, ctx.Group)
}

func TestMerge_ExtraOverridesBase(t *testing.T) {
	base := Context{UserID: "u-1", Custom: map[string]any{"a": 1}}
	extra := Context{Group: "beta", Custom: map[string]any{"a": 2, "b": 3}}

	merged := Merge(base, extra)

	assert.Equal(t, "u-1", merged.UserID)
	assert.Equal(t, "beta", merged.Group)
	assert.Equal(t, 2, merged.Custom["a"])
	assert.Equal(t, 3, merged.Custom["b"])
}
