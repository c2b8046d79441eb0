package awareness

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func participant(a *Awareness, id string) (Participant, bool) {
	for _, p := range a.GetAll() {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func TestSetLocalDefaults(t *testing.T) {
	a := New("me", WithClientID("client-1"))
	all := a.GetAll()
	require.Len(t, all, 1)
	assert.Equal(t, Participant{
		ID:       "me",
		ClientID: "client-1",
		Name:     DefaultName,
		Color:    ColorFor("client-1"),
		Local:    true,
	}, all[0])
}

func TestSetLocalMergesFields(t *testing.T) {
	a := New("me")
	a.SetLocal(Fields{Name: strPtr("Ada")})
	u := a.SetLocal(Fields{Cursor: intPtr(4)})

	assert.Equal(t, "Ada", u.Name.Value, "earlier fields are kept")
	require.NotNil(t, u.Cursor.Value)
	assert.Equal(t, 4, *u.Cursor.Value)
	assert.Equal(t, uint64(2), u.Clock)

	u = a.SetLocal(Fields{ClearCursor: true})
	assert.Nil(t, u.Cursor.Value)
	assert.Nil(t, a.GetAll()[0].Cursor)
}

func TestApplyJoinUpdateLeave(t *testing.T) {
	remote := New("peer-b", WithClientID("client-b"))
	local := New("peer-a")

	var changes []PeerChange
	local.OnPeerChange(func(ch PeerChange) { changes = append(changes, ch) })

	assert.True(t, local.Apply("peer-b", remote.SetLocal(Fields{Name: strPtr("Bob")})))
	assert.True(t, local.Apply("peer-b", remote.SetLocal(Fields{Cursor: intPtr(2)})))
	assert.False(t, local.Apply("peer-b", remote.LocalUpdate()), "same state is not a change")
	assert.True(t, local.Remove("peer-b"))
	assert.False(t, local.Remove("peer-b"))

	require.Len(t, changes, 3)
	assert.Equal(t, Joined, changes[0].Kind)
	assert.Equal(t, "Bob", changes[0].Participant.Name)
	assert.Equal(t, Updated, changes[1].Kind)
	assert.Equal(t, Left, changes[2].Kind)
	assert.Len(t, local.GetAll(), 1)
}

func TestApplyIgnoresStaleFields(t *testing.T) {
	remote := New("peer-b")
	local := New("peer-a")

	old := remote.SetLocal(Fields{Name: strPtr("first")})
	newer := remote.SetLocal(Fields{Name: strPtr("second")})

	local.Apply("peer-b", newer)
	local.Apply("peer-b", old)

	p, ok := participant(local, "peer-b")
	require.True(t, ok)
	assert.Equal(t, "second", p.Name)
}

func TestApplyRejectsSelfAndAnonymousUpdates(t *testing.T) {
	a := New("me")
	assert.False(t, a.Apply("me", New("x").LocalUpdate()))
	assert.False(t, a.Apply("peer", Update{}))
	assert.Equal(t, 0, a.Len())
}

func TestApplyNewClientOnReusedConnection(t *testing.T) {
	a := New("me")
	first := New("peer", WithClientID("one"))
	second := New("peer", WithClientID("two"))

	a.Apply("peer", first.SetLocal(Fields{Name: strPtr("One"), Cursor: intPtr(3)}))
	a.Apply("peer", second.LocalUpdate())

	p, ok := participant(a, "peer")
	require.True(t, ok)
	assert.Equal(t, "two", p.ClientID)
	assert.Equal(t, DefaultName, p.Name)
	assert.Nil(t, p.Cursor)
}

func TestExpire(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	a := New("me", WithTimeout(10*time.Second), WithNow(clock.now))

	a.Apply("quiet", New("quiet").LocalUpdate())
	a.Apply("chatty", New("chatty").LocalUpdate())

	clock.advance(6 * time.Second)
	a.Touch("chatty")
	clock.advance(6 * time.Second)

	var left []string
	a.OnPeerChange(func(ch PeerChange) {
		if ch.Kind == Left {
			left = append(left, ch.Participant.ID)
		}
	})
	assert.Equal(t, []string{"quiet"}, a.Expire())
	assert.Equal(t, []string{"quiet"}, left)

	all := a.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "chatty", all[1].ID)
}

func TestGetAllOrder(t *testing.T) {
	a := New("me")
	for _, id := range []string{"c", "a", "b"} {
		a.Apply(id, New(id).LocalUpdate())
	}
	var ids []string
	for _, p := range a.GetAll() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"me", "a", "b", "c"}, ids)
}

func TestOnPeerChangeCancel(t *testing.T) {
	a := New("me")
	calls := 0
	cancel := a.OnPeerChange(func(PeerChange) { calls++ })
	a.SetLocal(Fields{Name: strPtr("x")})
	cancel()
	cancel()
	a.SetLocal(Fields{Name: strPtr("y")})
	assert.Equal(t, 1, calls)
}

func TestColorForIsStable(t *testing.T) {
	assert.Equal(t, ColorFor("abc"), ColorFor("abc"))
	assert.Contains(t, palette, ColorFor("anything"))
}

func TestFieldsValidate(t *testing.T) {
	tests := []struct {
		name  string
		f     Fields
		field string
	}{
		{"empty", Fields{}, ""},
		{"name at limit", Fields{Name: strPtr(strings.Repeat("é", MaxNameLength))}, ""},
		{"name too long", Fields{Name: strPtr(strings.Repeat("x", MaxNameLength+1))}, "name"},
		{"color at limit", Fields{Color: strPtr(strings.Repeat("c", MaxColorLength))}, ""},
		{"color too long", Fields{Color: strPtr(strings.Repeat("c", MaxColorLength+1))}, "color"},
		{"cursor zero", Fields{Cursor: intPtr(0)}, ""},
		{"negative cursor", Fields{Cursor: intPtr(-1), Name: strPtr("ok")}, "cursor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var invalid *InvalidFieldError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
		})
	}
}
