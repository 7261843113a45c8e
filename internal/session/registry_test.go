package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redf0x1/camofox-browser/internal/pool"
	"github.com/redf0x1/camofox-browser/internal/snapshot"
)

// newTestRegistry builds a Registry whose internal maps are populated
// directly, bypassing pool.Pool/GetSession's Docker+playwright dependency
// so tab-graph invariants (ownership, reverse index, cross-tenant guard)
// can be verified without a real browser or container runtime.
func newTestRegistry() *Registry {
	return &Registry{
		sessions:    make(map[string]*Session),
		launching:   make(map[string]*sessionFuture),
		tabIndex:    make(map[string]string),
		maxSessions: 1000,
	}
}

func seedSession(r *Registry, userID string) {
	key := sessionKey(userID)
	r.sessions[key] = &Session{Key: key, UserID: userID, TabGroups: make(map[string]*TabGroup)}
}

func TestAddTabAndFindTabByID_OwnershipHonored(t *testing.T) {
	r := newTestRegistry()
	seedSession(r, "alice")

	tab := &Tab{ID: "tab-1", Refs: snapshot.NewRefTable()}
	r.AddTab("alice", "list-1", tab)

	found, ok := r.FindTabByID("tab-1", "alice")
	require.True(t, ok)
	assert.Equal(t, "tab-1", found.ID)
}

func TestFindTabByID_CrossTenantGuardDeniesOtherUser(t *testing.T) {
	r := newTestRegistry()
	seedSession(r, "alice")
	seedSession(r, "mallory")

	tab := &Tab{ID: "tab-1", Refs: snapshot.NewRefTable()}
	r.AddTab("alice", "list-1", tab)

	_, ok := r.FindTabByID("tab-1", "mallory")
	assert.False(t, ok, "mallory must not be able to guess alice's tabId")
}

func TestFindTabByID_UnknownTabNotFound(t *testing.T) {
	r := newTestRegistry()
	seedSession(r, "alice")

	_, ok := r.FindTabByID("nope", "alice")
	assert.False(t, ok)
}

func TestFindTabByID_RepopulatesIndexOnScanHit(t *testing.T) {
	r := newTestRegistry()
	seedSession(r, "alice")
	tab := &Tab{ID: "tab-1", Refs: snapshot.NewRefTable()}

	key := sessionKey("alice")
	tg := &TabGroup{ListItemID: "list-1", Tabs: map[string]*Tab{"tab-1": tab}}
	r.sessions[key].TabGroups["list-1"] = tg

	_, ok := r.tabIndex["tab-1"]
	require.False(t, ok, "index starts empty in this test")

	found, ok := r.FindTabByID("tab-1", "alice")
	require.True(t, ok)
	assert.Equal(t, tab, found)
	assert.Equal(t, key, r.tabIndex["tab-1"])
}

func TestRemoveTab_DropsGroupWhenEmpty(t *testing.T) {
	r := newTestRegistry()
	seedSession(r, "alice")
	tab := &Tab{ID: "tab-1", Refs: snapshot.NewRefTable()}
	r.AddTab("alice", "list-1", tab)

	r.RemoveTab("alice", "list-1", "tab-1")

	_, ok := r.FindTabByID("tab-1", "alice")
	assert.False(t, ok)
	_, hasGroup := r.sessions[sessionKey("alice")].TabGroups["list-1"]
	assert.False(t, hasGroup)
}

func TestRemoveGroup_ClearsAllMemberTabsFromIndex(t *testing.T) {
	r := newTestRegistry()
	seedSession(r, "alice")
	r.AddTab("alice", "list-1", &Tab{ID: "tab-1", Refs: snapshot.NewRefTable()})
	r.AddTab("alice", "list-1", &Tab{ID: "tab-2", Refs: snapshot.NewRefTable()})

	r.RemoveGroup("alice", "list-1")

	_, ok1 := r.FindTabByID("tab-1", "alice")
	_, ok2 := r.FindTabByID("tab-2", "alice")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

func TestCloseSessionsForUser_RunsDownloadCleanup(t *testing.T) {
	r := newTestRegistry()
	r.pool = pool.New(nil, nil, "", 1, "true")
	seedSession(r, "alice")
	r.AddTab("alice", "list-1", &Tab{ID: "tab-1", Refs: snapshot.NewRefTable()})

	var cleanedUser string
	r.SetDownloadCleanup(func(userID string) { cleanedUser = userID })

	err := r.CloseSessionsForUser(context.Background(), "alice")

	require.NoError(t, err)
	assert.Equal(t, "alice", cleanedUser, "closing a user's sessions must run download cleanup for that user")
	_, sessionExists := r.sessions[sessionKey("alice")]
	assert.False(t, sessionExists)
}

func TestOnContextEvicted_DropsSessionAndTabIndex(t *testing.T) {
	r := newTestRegistry()
	seedSession(r, "alice")
	r.AddTab("alice", "list-1", &Tab{ID: "tab-1", Refs: snapshot.NewRefTable()})

	r.onContextEvicted("alice")

	_, sessionExists := r.sessions[sessionKey("alice")]
	assert.False(t, sessionExists)
	_, tabIndexed := r.tabIndex["tab-1"]
	assert.False(t, tabIndexed)
}
