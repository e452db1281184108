package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/acctguard"
	"github.com/MrEthical07/acctguard/lockout"
)

func seed(t *testing.T, s *AccountStore) *acctguard.Account {
	t.Helper()
	a, err := s.Create(context.Background(), acctguard.NewAccount{
		FullName: "Asha Rao",
		Username: "Asha_R",
		Email:    "Asha@Example.com",
		Phone:    "9797632997",
		Role:     acctguard.RoleStudent,
		IsActive: true,
	})
	require.NoError(t, err)
	return a
}

func TestAccountStore_CreateNormalizesAndFinds(t *testing.T) {
	s := NewAccountStore(nil)
	a := seed(t, s)

	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "asha_r", a.Username)
	assert.Equal(t, "asha@example.com", a.Email)

	for _, id := range []string{"asha_r", "ASHA@example.com", " 9797632997 "} {
		got, err := s.FindByIdentifier(context.Background(), id)
		require.NoError(t, err, id)
		assert.Equal(t, a.ID, got.ID)
	}

	_, err := s.FindByIdentifier(context.Background(), "nobody")
	assert.ErrorIs(t, err, acctguard.ErrRecordNotFound)
	_, err = s.FindByID(context.Background(), "missing")
	assert.ErrorIs(t, err, acctguard.ErrRecordNotFound)
}

func TestAccountStore_CreateConflictNamesField(t *testing.T) {
	s := NewAccountStore(nil)
	seed(t, s)

	cases := []struct {
		in    acctguard.NewAccount
		field string
	}{
		{acctguard.NewAccount{Username: "asha_r", Email: "other@example.com"}, "username"},
		{acctguard.NewAccount{Username: "other", Email: "asha@example.com"}, "email"},
		{acctguard.NewAccount{Username: "other", Phone: "9797632997"}, "phone"},
	}
	for _, tc := range cases {
		_, err := s.Create(context.Background(), tc.in)
		var dup *acctguard.DuplicateIdentityError
		require.True(t, errors.As(err, &dup), "want duplicate for %s, got %v", tc.field, err)
		assert.Equal(t, tc.field, dup.Field)
	}
}

func TestAccountStore_FindByContactIsChannelScoped(t *testing.T) {
	s := NewAccountStore(nil)
	a := seed(t, s)
	numeric, err := s.Create(context.Background(), acctguard.NewAccount{
		Username: "9123456780",
		Email:    "numeric@example.com",
		Role:     acctguard.RoleStudent,
		IsActive: true,
	})
	require.NoError(t, err)

	got, err := s.FindByContact(context.Background(), acctguard.ChannelPhone, "9797632997")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	got, err = s.FindByContact(context.Background(), acctguard.ChannelEmail, "NUMERIC@example.com")
	require.NoError(t, err)
	assert.Equal(t, numeric.ID, got.ID)

	// A username is not a deliverable contact.
	_, err = s.FindByContact(context.Background(), acctguard.ChannelPhone, "9123456780")
	assert.ErrorIs(t, err, acctguard.ErrRecordNotFound)
	_, err = s.FindByContact(context.Background(), acctguard.ChannelEmail, "asha_r")
	assert.ErrorIs(t, err, acctguard.ErrRecordNotFound)
}

func TestAccountStore_CreateRejectsSharedNamespace(t *testing.T) {
	s := NewAccountStore(nil)
	seed(t, s)

	_, err := s.Create(context.Background(), acctguard.NewAccount{Username: "9797632997", Email: "b@example.com"})
	var dup *acctguard.DuplicateIdentityError
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "username", dup.Field)

	_, err = s.Create(context.Background(), acctguard.NewAccount{Username: "9000000001", Phone: "9000000001"})
	require.True(t, errors.As(err, &dup), "got %v", err)
	assert.Equal(t, "phone", dup.Field)
}

func TestAccountStore_ReturnsCopies(t *testing.T) {
	s := NewAccountStore(nil)
	a := seed(t, s)

	a.IsActive = false
	got, err := s.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestAccountStore_ParallelFailuresAllCount(t *testing.T) {
	s := NewAccountStore(nil)
	a := seed(t, s)
	policy := lockout.Policy{Threshold: 1000, Duration: time.Hour}
	now := time.Now()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateLockoutState(context.Background(), a.ID, lockout.Failure, policy, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.FailedLoginCount)
}

func TestAccountStore_SuccessRecordsLastLogin(t *testing.T) {
	s := NewAccountStore(nil)
	a := seed(t, s)
	now := time.Unix(1_700_000_000, 0)

	_, err := s.UpdateLockoutState(context.Background(), a.ID, lockout.Failure, lockout.Default(), now)
	require.NoError(t, err)
	state, err := s.UpdateLockoutState(context.Background(), a.ID, lockout.Success, lockout.Default(), now)
	require.NoError(t, err)
	assert.Zero(t, state.FailedCount)

	got, err := s.FindByID(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastLoginAt)
	assert.True(t, got.LastLoginAt.Equal(now))
}

func TestAccountStore_SetVerifiedAndReset(t *testing.T) {
	s := NewAccountStore(nil)
	a := seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.SetVerified(ctx, a.ID, acctguard.ChannelPhone))
	for i := 0; i < 5; i++ {
		_, err := s.UpdateLockoutState(ctx, a.ID, lockout.Failure, lockout.Default(), time.Now())
		require.NoError(t, err)
	}
	require.NoError(t, s.ResetLockout(ctx, a.ID))

	got, err := s.FindByID(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.PhoneVerified)
	assert.False(t, got.EmailVerified)
	assert.Zero(t, got.FailedLoginCount)
	assert.Nil(t, got.LockedUntil)

	assert.ErrorIs(t, s.SetVerified(ctx, "missing", acctguard.ChannelEmail), acctguard.ErrRecordNotFound)
}

func TestOTPStore_ConsumeRules(t *testing.T) {
	s := NewOTPStore()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	key := acctguard.OTPKey{Channel: acctguard.ChannelPhone, Identifier: "9797632997", Purpose: acctguard.PurposeLogin}

	assert.ErrorIs(t, s.Consume(ctx, key, "123456", now, 5), acctguard.ErrNoOTPPending)

	require.NoError(t, s.Save(ctx, key, "123456", now.Add(5*time.Minute), now))
	assert.ErrorIs(t, s.Consume(ctx, key, "000000", now, 5), acctguard.ErrOTPMismatch)
	assert.NoError(t, s.Consume(ctx, key, "123456", now.Add(5*time.Minute), 5))
	assert.ErrorIs(t, s.Consume(ctx, key, "123456", now, 5), acctguard.ErrNoOTPPending)

	require.NoError(t, s.Save(ctx, key, "123456", now.Add(5*time.Minute), now))
	assert.ErrorIs(t, s.Consume(ctx, key, "123456", now.Add(5*time.Minute+time.Millisecond), 5), acctguard.ErrOTPExpired)
	assert.False(t, s.Pending(key))
}

func TestOTPStore_AttemptsExhaustRecord(t *testing.T) {
	s := NewOTPStore()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	key := acctguard.OTPKey{Channel: acctguard.ChannelEmail, Identifier: "asha@example.com", Purpose: acctguard.PurposeRegistration}

	require.NoError(t, s.Save(ctx, key, "111111", now.Add(time.Minute), now))
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, s.Consume(ctx, key, "999999", now, 3), acctguard.ErrOTPMismatch)
	}
	assert.False(t, s.Pending(key))
}

func TestOTPStore_DiscardComparesCode(t *testing.T) {
	s := NewOTPStore()
	ctx := context.Background()
	now := time.Now()
	key := acctguard.OTPKey{Channel: acctguard.ChannelEmail, Identifier: "Asha@Example.com", Purpose: acctguard.PurposeLogin}

	require.NoError(t, s.Save(ctx, key, "222222", now.Add(time.Minute), now))
	require.NoError(t, s.Discard(ctx, key, "333333"))
	assert.True(t, s.Pending(key))
	require.NoError(t, s.Discard(ctx, key, "222222"))
	assert.False(t, s.Pending(key))
}
