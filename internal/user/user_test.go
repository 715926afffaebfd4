package user

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ionex/internal/errs"
)

func TestRegisterMintsUniqueToken(t *testing.T) {
	r := New()
	a, err := r.Register("alice")
	require.NoError(t, err)
	b, err := r.Register("bob")
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.Equal(t, RoleUser, a.Role)
}

func TestRegisterRejectsShortName(t *testing.T) {
	r := New()
	_, err := r.Register("ab")
	require.Error(t, err)
	assert.Equal(t, errs.ValidationError, errs.KindOf(err))
}

func TestLookupByTokenAndID(t *testing.T) {
	r := New()
	u, err := r.Register("alice")
	require.NoError(t, err)

	byToken, err := r.LookupByToken(u.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byToken.ID)

	byID, err := r.LookupByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Token, byID.Token)

	_, err = r.LookupByToken("not-a-real-token")
	require.Error(t, err)
	assert.Equal(t, errs.Unauthenticated, errs.KindOf(err))
}

func TestRegisterAdminPromotesRole(t *testing.T) {
	r := New()
	admin, err := r.RegisterAdmin("root")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, admin.Role)
}

func TestDeleteRemovesBothIndexes(t *testing.T) {
	r := New()
	u, err := r.Register("alice")
	require.NoError(t, err)

	_, err = r.Delete(u.ID)
	require.NoError(t, err)

	_, err = r.LookupByID(u.ID)
	require.Error(t, err)
	_, err = r.LookupByToken(u.Token)
	require.Error(t, err)
}
