package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-anon-backend/internal/domain"
	"github.com/tbourn/go-anon-backend/internal/repo"
)

func TestAssignUserToGroup_FirstJoinCreatesTopicGroup(t *testing.T) {
	db := newTestDB(t, true)
	u := newUser(t, db)
	svc := newGroupingService(db, 0)
	created := testutil.ToFloat64(groupsCreated)

	g, err := svc.AssignUserToGroup(context.Background(), u.ID, []string{"music"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(g.Name, "music-"), "name = %q", g.Name)
	assert.Len(t, g.Name, len("music-")+suffixLen)
	assert.Equal(t, DefaultGroupCapacity, g.Capacity)
	assert.Equal(t, 1, g.MemberCount)
	assert.Equal(t, created+1, testutil.ToFloat64(groupsCreated))

	all, err := repo.ListGroups(context.Background(), db, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].MemberCount)
}

func TestAssignUserToGroup_StickyIsIdempotent(t *testing.T) {
	db := newTestDB(t, true)
	u := newUser(t, db)
	svc := newGroupingService(db, 0)
	ctx := context.Background()
	sticky := testutil.ToFloat64(groupAssignments.WithLabelValues(assignSticky))

	first, err := svc.AssignUserToGroup(ctx, u.ID, []string{"music"})
	require.NoError(t, err)
	second, err := svc.AssignUserToGroup(ctx, u.ID, []string{"books"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	g, err := repo.GetGroup(ctx, db, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, g.MemberCount)
	n, err := repo.CountMemberships(ctx, db, first.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, sticky+1, testutil.ToFloat64(groupAssignments.WithLabelValues(assignSticky)))
}

func TestAssignUserToGroup_ArchivedGroupIsNotSticky(t *testing.T) {
	db := newTestDB(t, true)
	u := newUser(t, db)
	svc := newGroupingService(db, 0)
	ctx := context.Background()

	first, err := svc.AssignUserToGroup(ctx, u.ID, []string{"music"})
	require.NoError(t, err)
	require.NoError(t, repo.ArchiveGroup(ctx, db, first.ID))

	second, err := svc.AssignUserToGroup(ctx, u.ID, []string{"music"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, strings.HasPrefix(second.Name, "music-"))
}

func TestAssignUserToGroup_FillsLeastFullMatchingGroup(t *testing.T) {
	db := newTestDB(t, true)
	users := []*domain.User{newUser(t, db), newUser(t, db), newUser(t, db)}
	svc := newGroupingService(db, 0)
	ctx := context.Background()

	a, err := svc.AssignUserToGroup(ctx, users[0].ID, []string{"Music"})
	require.NoError(t, err)
	b, err := svc.AssignUserToGroup(ctx, users[1].ID, []string{"MUSIC"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID, "second user joins the existing music group")
	assert.Equal(t, 2, b.MemberCount)

	c, err := svc.AssignUserToGroup(ctx, users[2].ID, []string{"books"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, c.ID)
	assert.True(t, strings.HasPrefix(c.Name, "books-"))
}

func TestAssignUserToGroup_NoTagUsesOpenGroup(t *testing.T) {
	db := newTestDB(t, true)
	u := newUser(t, db)
	svc := newGroupingService(db, 0)
	svc.Rand = bytes.NewReader([]byte{0, 1, 2, 35})

	g, err := svc.AssignUserToGroup(context.Background(), u.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, "open-012z", g.Name)
}

func TestAssignUserToGroup_NonLatinTagKeepsItsTopic(t *testing.T) {
	db := newTestDB(t, true)
	a, b, c := newUser(t, db), newUser(t, db), newUser(t, db)
	svc := newGroupingService(db, 0)
	ctx := context.Background()

	music, err := svc.AssignUserToGroup(ctx, a.ID, []string{"music"})
	require.NoError(t, err)

	yinyue, err := svc.AssignUserToGroup(ctx, b.ID, []string{"音乐"})
	require.NoError(t, err)
	assert.NotEqual(t, music.ID, yinyue.ID, "a Chinese tag must not land in another topic's group")
	assert.True(t, strings.HasPrefix(yinyue.Name, "音乐-"), "name = %q", yinyue.Name)

	again, err := svc.AssignUserToGroup(ctx, c.ID, []string{"音乐"})
	require.NoError(t, err)
	assert.Equal(t, yinyue.ID, again.ID)
	assert.Equal(t, 2, again.MemberCount)
}

func TestAssignUserToGroup_SymbolOnlyTagOpensOwnGroup(t *testing.T) {
	db := newTestDB(t, true)
	a, b := newUser(t, db), newUser(t, db)
	svc := newGroupingService(db, 0)
	ctx := context.Background()

	open, err := svc.AssignUserToGroup(ctx, a.ID, nil)
	require.NoError(t, err)

	g, err := svc.AssignUserToGroup(ctx, b.ID, []string{"!!!"})
	require.NoError(t, err)
	assert.NotEqual(t, open.ID, g.ID, "a tag with no letters is not the same as no tag")
	assert.True(t, strings.HasPrefix(g.Name, "open-"), "name = %q", g.Name)
	assert.Equal(t, 1, g.MemberCount)
}

func TestAssignUserToGroup_FullGroupIsSkipped(t *testing.T) {
	db := newTestDB(t, true)
	a, b := newUser(t, db), newUser(t, db)
	svc := newGroupingService(db, 1)
	ctx := context.Background()

	ga, err := svc.AssignUserToGroup(ctx, a.ID, []string{"music"})
	require.NoError(t, err)
	gb, err := svc.AssignUserToGroup(ctx, b.ID, []string{"music"})
	require.NoError(t, err)
	assert.NotEqual(t, ga.ID, gb.ID)
	assert.Equal(t, 1, ga.MemberCount)
	assert.Equal(t, 1, gb.MemberCount)
}

func TestAssignUserToGroup_ConcurrentJoinsRespectCapacity(t *testing.T) {
	db := newTestDB(t, true)
	const n, capacity = 30, 4
	users := make([]*domain.User, n)
	for i := range users {
		users[i] = newUser(t, db)
	}
	svc := newGroupingService(db, capacity)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for _, u := range users {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.AssignUserToGroup(ctx, id, []string{"music"}); err != nil {
				errs <- err
			}
		}(u.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("assign: %v", err)
	}

	groups, err := repo.ListGroups(ctx, db, true)
	require.NoError(t, err)
	total := 0
	for _, g := range groups {
		assert.LessOrEqual(t, g.MemberCount, g.Capacity, "group %s", g.Name)
		rows, err := repo.CountMemberships(ctx, db, g.ID)
		require.NoError(t, err)
		assert.EqualValues(t, g.MemberCount, rows, "group %s count drift", g.Name)
		total += g.MemberCount
	}
	assert.Equal(t, n, total)
	assert.Len(t, groups, (n+capacity-1)/capacity)
}

type fakeGroupStore struct {
	unit *fakeUnit
}

func (s *fakeGroupStore) WithinTx(_ context.Context, fn func(domain.GroupUnit) error) error {
	return fn(s.unit)
}

type fakeUnit struct {
	latestErr error
	createErr error
	created   []string
}

func (u *fakeUnit) LatestMembership(string) (*domain.Membership, *domain.Group, error) {
	return nil, nil, u.latestErr
}
func (u *fakeUnit) FindEligibleGroup(string) (*domain.Group, error) { return nil, nil }
func (u *fakeUnit) CreateGroup(name string, capacity int) (*domain.Group, error) {
	if u.createErr != nil {
		return nil, u.createErr
	}
	u.created = append(u.created, name)
	return &domain.Group{ID: "g-" + name, Name: name, Capacity: capacity}, nil
}
func (u *fakeUnit) FindMembership(string, string) (*domain.Membership, error) { return nil, nil }
func (u *fakeUnit) CreateMembership(userID, groupID string) (*domain.Membership, error) {
	return &domain.Membership{UserID: userID, GroupID: groupID}, nil
}
func (u *fakeUnit) IncrementMemberCount(string) error { return nil }

func TestAssignUserToGroup_StoreErrorsPropagate(t *testing.T) {
	boom := errors.New("store down")

	svc := &GroupingService{Store: &fakeGroupStore{unit: &fakeUnit{latestErr: boom}}}
	_, err := svc.AssignUserToGroup(context.Background(), "u1", []string{"music"})
	assert.ErrorIs(t, err, boom)

	svc = &GroupingService{Store: &fakeGroupStore{unit: &fakeUnit{createErr: boom}}}
	_, err = svc.AssignUserToGroup(context.Background(), "u1", nil)
	assert.ErrorIs(t, err, boom)
}

func TestAssignUserToGroup_FakeStoreNamesGroup(t *testing.T) {
	unit := &fakeUnit{}
	svc := &GroupingService{Store: &fakeGroupStore{unit: unit}, Rand: bytes.NewReader([]byte{10, 11, 12, 13})}

	g, err := svc.AssignUserToGroup(context.Background(), "u1", []string{"  Hip Hop & R&B "})
	require.NoError(t, err)
	assert.Equal(t, []string{"hip-hop-r-b-abcd"}, unit.created)
	assert.Equal(t, 1, g.MemberCount)
	assert.Equal(t, DefaultGroupCapacity, g.Capacity)
}

func TestSlug(t *testing.T) {
	cases := map[string]string{
		"music":        "music",
		"Music":        "music",
		" Hip Hop ":    "hip-hop",
		"c++/go":       "c-go",
		"---":          "",
		"音乐":           "音乐",
		"Музыка":       "музыка",
		"#音乐 分享":       "音乐-分享",
		"K-Pop 2030!!": "k-pop-2030",
		"a_b%c":        "a-b-c",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slug(in), "Slug(%q)", in)
	}
	assert.Len(t, []rune(Slug(strings.Repeat("音", 80))), maxSlugRunes)
}
