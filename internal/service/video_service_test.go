package service

import (
	"context"
	"testing"
	"time"

	"yogaflow/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVideoRepo struct {
	videos map[string]model.Video
}

func (r *fakeVideoRepo) GetVideoByID(_ context.Context, id string) (*model.Video, error) {
	if v, ok := r.videos[id]; ok {
		return &v, nil
	}
	return nil, nil
}

type fakePresigner struct {
	keys []string
	err  error
}

func (p *fakePresigner) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	p.keys = append(p.keys, key)
	return "https://videos.test/" + key + "?ttl=" + ttl.String(), nil
}

func newTestVideoService(users *fakeUserRepo, subs *fakeSubRepo, presigner *fakePresigner) *videoService {
	repo := &fakeVideoRepo{videos: map[string]model.Video{
		"v_free":    {ID: "v_free", Title: "Morning stretch", StorageKey: "classes/free.mp4"},
		"v_premium": {ID: "v_premium", Title: "Power flow", StorageKey: "classes/power.mp4", IsPremium: true},
	}}
	svc := NewVideoService(repo, newTestAccessService(users, subs), presigner, 15*time.Minute, testLogger).(*videoService)
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestStreamURLFreeVideoSkipsAccessCheck(t *testing.T) {
	presigner := &fakePresigner{}
	svc := newTestVideoService(newFakeUserRepo(model.User{UserID: "u1"}), &fakeSubRepo{}, presigner)

	link, err := svc.StreamURL(context.Background(), "u1", "v_free")
	require.NoError(t, err)
	assert.Equal(t, "v_free", link.VideoID)
	assert.Equal(t, "https://videos.test/classes/free.mp4?ttl=15m0s", link.URL)
	assert.Equal(t, testNow.Add(15*time.Minute), link.ExpiresAt)
}

func TestStreamURLPremiumRequiresAccess(t *testing.T) {
	presigner := &fakePresigner{}
	svc := newTestVideoService(newFakeUserRepo(model.User{UserID: "u1"}), &fakeSubRepo{}, presigner)

	_, err := svc.StreamURL(context.Background(), "u1", "v_premium")
	assert.ErrorIs(t, err, ErrPaymentRequired)
	assert.Empty(t, presigner.keys, "no URL is signed for a denied user")
}

func TestStreamURLPremiumWithSubscription(t *testing.T) {
	users := newFakeUserRepo(model.User{UserID: "u1", IsSubscribed: true, HasAccess: true})
	subs := &fakeSubRepo{}
	subs.add(model.Subscription{UserID: "u1", PackageID: "pkg_monthly", Status: model.StatusActive})
	presigner := &fakePresigner{}

	link, err := newTestVideoService(users, subs, presigner).StreamURL(context.Background(), "u1", "v_premium")
	require.NoError(t, err)
	assert.Contains(t, link.URL, "classes/power.mp4")
	assert.Equal(t, []string{"classes/power.mp4"}, presigner.keys)
}

func TestStreamURLErrors(t *testing.T) {
	svc := newTestVideoService(newFakeUserRepo(model.User{UserID: "u1"}), &fakeSubRepo{}, &fakePresigner{err: errBoom})

	_, err := svc.StreamURL(context.Background(), "u1", "v_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.StreamURL(context.Background(), "u1", "v_free")
	assert.ErrorIs(t, err, ErrInternal)
}
