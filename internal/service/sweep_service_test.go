package service

import (
	"context"
	"testing"
	"time"

	"yogaflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSweepService(users *fakeUserRepo, subs *fakeSubRepo, notes *fakeNotifier) *sweepService {
	svc := NewSweepService(users, subs, notes, 6*time.Hour, testLogger).(*sweepService)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestSweepExpiresLapsedRows(t *testing.T) {
	longAgo := testNow.Add(-48 * time.Hour)
	recently := testNow.Add(-time.Hour)
	later := testNow.AddDate(0, 0, 10)
	users := newFakeUserRepo(
		model.User{UserID: "u1", IsSubscribed: true, HasAccess: true, PackageName: "Monthly Flow"},
		model.User{UserID: "u2", IsSubscribed: true, HasAccess: true, PackageName: "Monthly Flow"},
		model.User{UserID: "u3", IsSubscribed: true, HasAccess: true, PackageName: "Yearly Flow"},
	)
	subs := &fakeSubRepo{}
	subs.add(model.Subscription{UserID: "u1", PackageID: "pkg_monthly", Status: model.StatusCancel, CurrentPeriodEnd: &longAgo})
	subs.add(model.Subscription{UserID: "u2", PackageID: "pkg_monthly", Status: model.StatusActive, CurrentPeriodEnd: &recently})
	subs.add(model.Subscription{UserID: "u3", PackageID: "pkg_yearly", Status: model.StatusActive, CurrentPeriodEnd: &later})
	notes := &fakeNotifier{}

	res, err := newTestSweepService(users, subs, notes).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &SweepResult{ExpiredRows: 1, UsersChecked: 1, AccessRevoked: 1}, res)

	rows := subs.all()
	assert.Equal(t, model.StatusExpired, rows[0].Status)
	assert.Equal(t, model.StatusActive, rows[1].Status, "still inside the grace period")
	assert.Equal(t, model.StatusActive, rows[2].Status)

	u1 := users.get("u1")
	assert.False(t, u1.HasAccess)
	assert.False(t, u1.IsSubscribed)
	assert.True(t, users.get("u2").HasAccess)
	assert.True(t, users.get("u3").HasAccess)

	require.Equal(t, 1, notes.count(model.NotifySubscriptionExpired))
	assert.Equal(t, model.ToUser("u1"), notes.sent[0].Target)
}

func TestSweepClearsLapsedTrial(t *testing.T) {
	trialEnd := testNow.Add(-time.Hour)
	users := newFakeUserRepo(model.User{UserID: "u1", IsSubscribed: true, IsFreeTrial: true, HasAccess: true, TrialExpireAt: &trialEnd})
	subs := &fakeSubRepo{}
	subs.add(model.Subscription{UserID: "u1", PackageID: "pkg_monthly", Status: model.StatusTrialing, CurrentPeriodEnd: &trialEnd, TrialStart: &testNow})

	res, err := newTestSweepService(users, subs, &fakeNotifier{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExpiredRows)
	assert.Equal(t, 1, res.AccessRevoked)

	u := users.get("u1")
	assert.False(t, u.IsFreeTrial)
	assert.Nil(t, u.TrialExpireAt)
	assert.False(t, u.HasAccess)
	assert.False(t, u.IsSubscribed)
	assert.NoError(t, u.ValidateAccessAt(testNow))
	assert.Equal(t, model.StatusTrialing, subs.all()[0].Status, "the gateway decides the row's fate")
}

func TestSweepKeepsPaidAccessAfterTrialEnds(t *testing.T) {
	trialEnd := testNow.Add(-time.Hour)
	later := testNow.AddDate(0, 1, 0)
	users := newFakeUserRepo(model.User{UserID: "u1", IsSubscribed: true, IsFreeTrial: true, HasAccess: true, TrialExpireAt: &trialEnd})
	subs := &fakeSubRepo{}
	subs.add(model.Subscription{UserID: "u1", PackageID: "pkg_monthly", Status: model.StatusActive, CurrentPeriodEnd: &later})

	res, err := newTestSweepService(users, subs, &fakeNotifier{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.AccessRevoked)

	u := users.get("u1")
	assert.False(t, u.IsFreeTrial)
	assert.True(t, u.HasAccess)
	assert.True(t, u.IsSubscribed)
}

func TestSweepNeverGrantsAccess(t *testing.T) {
	longAgo := testNow.Add(-48 * time.Hour)
	later := testNow.AddDate(0, 1, 0)
	users := newFakeUserRepo(model.User{UserID: "u1"})
	subs := &fakeSubRepo{}
	subs.add(model.Subscription{UserID: "u1", PackageID: "pkg_monthly", Status: model.StatusCancel, CurrentPeriodEnd: &longAgo})
	subs.add(model.Subscription{UserID: "u1", PackageID: "pkg_yearly", Status: model.StatusActive, CurrentPeriodEnd: &later})

	res, err := newTestSweepService(users, subs, &fakeNotifier{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.UsersChecked)
	assert.False(t, users.get("u1").HasAccess)
}
